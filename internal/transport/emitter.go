package transport

import (
	"sync"

	"github.com/wfunc/werewolf-client/internal/models"
	"go.uber.org/zap"
)

// 事件主题
const (
	TopicConnected       = "connected"        // 连接建立（含重连成功）
	TopicDisconnected    = "disconnected"     // 连接意外断开
	TopicConnectionError = "connection_error" // 连接失败
	TopicGameEvent       = models.MessageTypeGameEvent
	TopicRoomUpdate      = models.MessageTypeRoomUpdate
	TopicPlayerUpdate    = models.MessageTypePlayerUpdate
	TopicError           = models.MessageTypeError
)

// Event 分发给订阅者的事件
// 入站消息主题携带Message，连接生命周期主题携带Err（可能为nil）
type Event struct {
	Topic   string
	Message *models.SocketMessage
	Err     error
}

// Subscription 订阅句柄，Cancel取消订阅
type Subscription interface {
	Cancel()
}

// subscription 订阅实现
type subscription struct {
	emitter *Emitter
	topic   string
	id      uint64
}

// Cancel 取消订阅
func (s *subscription) Cancel() {
	s.emitter.mu.Lock()
	defer s.emitter.mu.Unlock()

	if subs, ok := s.emitter.subs[s.topic]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.emitter.subs, s.topic)
		}
	}
}

// Emitter 按主题分发事件
// 订阅者panic会被隔离记录，不影响同主题的其他订阅者
type Emitter struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]func(Event)
	nextID uint64
	logger *zap.Logger
}

// NewEmitter 创建事件分发器
func NewEmitter(logger *zap.Logger) *Emitter {
	return &Emitter{
		subs:   make(map[string]map[uint64]func(Event)),
		logger: logger,
	}
}

// Subscribe 订阅主题，返回的句柄用于取消订阅
func (e *Emitter) Subscribe(topic string, fn func(Event)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.subs[topic] == nil {
		e.subs[topic] = make(map[uint64]func(Event))
	}
	e.nextID++
	id := e.nextID
	e.subs[topic][id] = fn

	return &subscription{emitter: e, topic: topic, id: id}
}

// Emit 向主题的所有订阅者分发事件
func (e *Emitter) Emit(evt Event) {
	e.mu.RLock()
	fns := make([]func(Event), 0, len(e.subs[evt.Topic]))
	for _, fn := range e.subs[evt.Topic] {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		e.safeCall(evt, fn)
	}
}

// safeCall 隔离订阅者panic
func (e *Emitter) safeCall(evt Event, fn func(Event)) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("事件订阅者panic",
				zap.String("topic", evt.Topic),
				zap.Any("panic", r))
		}
	}()
	fn(evt)
}
