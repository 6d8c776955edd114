package game

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// SessionState 会话状态枚举
type SessionState string

const (
	StateIdle             SessionState = "idle"              // 未加入房间
	StateJoining          SessionState = "joining"           // 加入请求进行中
	StateConnectingSocket SessionState = "connecting_socket" // 建立实时连接中
	StateActive           SessionState = "active"            // 已进入房间
	StateLeaving          SessionState = "leaving"           // 离开清理中
)

// 会话状态机事件
const (
	EventJoin            = "join"             // 发起加入
	EventRoomReady       = "room_ready"       // 房间数据已就绪
	EventSocketConnected = "socket_connected" // 实时连接已建立
	EventFail            = "fail"             // 任一步骤失败
	EventLeave           = "leave"            // 发起离开
	EventLeft            = "left"             // 离开清理完成
)

// StateTransition 状态转换定义
type StateTransition struct {
	From   SessionState
	Event  string
	To     SessionState
	Action func() error
}

// SessionFSM 会话状态机
// 加入流程的各步骤通过事件推进，非法事件被拒绝
type SessionFSM struct {
	mu          sync.RWMutex
	current     SessionState
	transitions map[string][]StateTransition
	logger      *zap.Logger

	onStateChange func(from, to SessionState)
}

// NewSessionFSM 创建会话状态机，初始状态为idle
func NewSessionFSM(logger *zap.Logger) *SessionFSM {
	sm := &SessionFSM{
		current:     StateIdle,
		transitions: make(map[string][]StateTransition),
		logger:      logger,
	}
	sm.initTransitions()
	return sm
}

// initTransitions 初始化状态转换规则
func (sm *SessionFSM) initTransitions() {
	// 未加入 -> 加入中
	sm.addTransition(StateTransition{From: StateIdle, Event: EventJoin, To: StateJoining})

	// 加入中 -> 连接中（房间数据就绪后建立实时连接）
	sm.addTransition(StateTransition{From: StateJoining, Event: EventRoomReady, To: StateConnectingSocket})

	// 连接中 -> 已进入
	sm.addTransition(StateTransition{From: StateConnectingSocket, Event: EventSocketConnected, To: StateActive})

	// 任一步骤失败回到未加入
	sm.addTransition(StateTransition{From: StateJoining, Event: EventFail, To: StateIdle})
	sm.addTransition(StateTransition{From: StateConnectingSocket, Event: EventFail, To: StateIdle})

	// 已进入 -> 离开中 -> 未加入
	sm.addTransition(StateTransition{From: StateActive, Event: EventLeave, To: StateLeaving})
	sm.addTransition(StateTransition{From: StateLeaving, Event: EventLeft, To: StateIdle})
}

// addTransition 注册状态转换
func (sm *SessionFSM) addTransition(t StateTransition) {
	key := fmt.Sprintf("%s:%s", t.From, t.Event)
	sm.transitions[key] = append(sm.transitions[key], t)
}

// Trigger 触发事件，当前状态没有对应转换时返回错误
func (sm *SessionFSM) Trigger(event string) error {
	sm.mu.Lock()

	key := fmt.Sprintf("%s:%s", sm.current, event)
	transitions, ok := sm.transitions[key]
	if !ok || len(transitions) == 0 {
		current := sm.current
		sm.mu.Unlock()
		return fmt.Errorf("无法从状态 %s 处理事件 %s", current, event)
	}

	t := transitions[0]
	if t.Action != nil {
		if err := t.Action(); err != nil {
			sm.mu.Unlock()
			return err
		}
	}

	from := sm.current
	sm.current = t.To
	callback := sm.onStateChange
	sm.mu.Unlock()

	sm.logger.Debug("会话状态转换",
		zap.String("from", string(from)),
		zap.String("to", string(t.To)),
		zap.String("event", event))

	if callback != nil {
		callback(from, t.To)
	}
	return nil
}

// Current 当前状态
func (sm *SessionFSM) Current() SessionState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// OnStateChange 设置状态变更回调
func (sm *SessionFSM) OnStateChange(fn func(from, to SessionState)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStateChange = fn
}
