package transport

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/werewolf-client/internal/config"
	apperrors "github.com/wfunc/werewolf-client/internal/errors"
	"github.com/wfunc/werewolf-client/internal/models"
	"go.uber.org/zap"
)

// ConnState 连接状态
type ConnState string

const (
	StateDisconnected ConnState = "disconnected" // 未连接
	StateConnecting   ConnState = "connecting"   // 连接中
	StateConnected    ConnState = "connected"    // 已连接
)

// Adapter WebSocket传输适配器
// 持有唯一的长连接，负责握手、收发分发与断线退避重连
// 游戏数据不在本层解析，入站消息原样交给订阅者
type Adapter struct {
	cfg     config.WebSocketConfig
	logger  *zap.Logger
	emitter *Emitter

	mu             sync.Mutex
	state          ConnState
	conn           *websocket.Conn
	sendCh         chan []byte
	gen            uint64 // 连接代数，换代后旧连接的回调全部失效
	token          string
	roomID         string
	attempts       int
	exhausted      bool
	closed         bool
	reconnectTimer *time.Timer
}

// NewAdapter 创建传输适配器
func NewAdapter(cfg *config.WebSocketConfig, logger *zap.Logger) *Adapter {
	c := *cfg
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 512 * 1024
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Reconnect.BaseDelay <= 0 {
		c.Reconnect.BaseDelay = time.Second
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		c.Reconnect.MaxDelay = c.Reconnect.BaseDelay
	}

	return &Adapter{
		cfg:     c,
		logger:  logger,
		emitter: NewEmitter(logger),
		state:   StateDisconnected,
	}
}

// Subscribe 订阅事件主题
func (a *Adapter) Subscribe(topic string, fn func(Event)) Subscription {
	return a.emitter.Subscribe(topic, fn)
}

// State 当前连接状态
func (a *Adapter) State() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// IsConnected 是否已连接
func (a *Adapter) IsConnected() bool {
	return a.State() == StateConnected
}

// ReconnectAttempts 当前已消耗的重连次数
func (a *Adapter) ReconnectAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts
}

// Connect 建立连接并等待服务端握手确认
// 已在连接中的并发调用返回 ErrAlreadyConnecting，已连接时直接返回nil
func (a *Adapter) Connect(ctx context.Context, token, roomID string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return apperrors.New(apperrors.ErrConnectionClosed)
	}
	switch a.state {
	case StateConnecting:
		a.mu.Unlock()
		return apperrors.New(apperrors.ErrAlreadyConnecting)
	case StateConnected:
		a.mu.Unlock()
		return nil
	}
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
	a.token = token
	a.roomID = roomID
	a.attempts = 0
	a.exhausted = false
	a.state = StateConnecting
	a.mu.Unlock()

	return a.dial(ctx)
}

// Disconnect 主动断开连接，幂等
// 取消待执行的重连定时器，不触发自动重连
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
	a.attempts = 0
	a.exhausted = false
	a.gen++ // 在途pump的断开回调作废
	conn := a.conn
	a.conn = nil
	if a.sendCh != nil {
		close(a.sendCh)
		a.sendCh = nil
	}
	a.state = StateDisconnected
	a.mu.Unlock()

	if conn != nil {
		conn.Close()
		a.logger.Info("WebSocket已主动断开")
	}
}

// Close 终止适配器（页面卸载的对应物），之后不可再连接
func (a *Adapter) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.Disconnect()
}

// Nudge 环境信号触发的机会性重连（恢复前台/网络恢复的对应物）
// 仅在断开、持有凭证且未耗尽重连次数时生效
func (a *Adapter) Nudge() {
	a.mu.Lock()
	if a.closed || a.exhausted || a.token == "" || a.state != StateDisconnected {
		a.mu.Unlock()
		return
	}
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
	a.mu.Unlock()

	a.logger.Info("收到重连信号，立即尝试重连")
	go a.redial()
}

// Send 发送出站消息，未连接时返回 ErrNotConnected
func (a *Adapter) Send(msgType string, payload interface{}) error {
	msg, err := models.NewSocketMessage(msgType, payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrMessageFormat)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrMessageFormat)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateConnected || a.sendCh == nil {
		return apperrors.New(apperrors.ErrNotConnected)
	}
	select {
	case a.sendCh <- raw:
		return nil
	default:
		return apperrors.New(apperrors.ErrSendFailed, "发送缓冲区已满")
	}
}

// SendChat 发送聊天消息
func (a *Adapter) SendChat(content string, visibility models.Visibility) error {
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	return a.Send(models.MessageTypeSendMessage, &models.ChatPayload{
		Content:    content,
		Visibility: visibility,
	})
}

// SendVote 发送投票，target为nil表示弃票
func (a *Adapter) SendVote(target *int) error {
	return a.Send(models.MessageTypeVote, &models.VotePayload{Target: target})
}

// SendNightAction 发送夜间行动
func (a *Adapter) SendNightAction(action string, target *int) error {
	return a.Send(models.MessageTypeNightAction, &models.NightActionPayload{
		Action: action,
		Target: target,
	})
}

// dial 建立连接，进入时state必须已是connecting
func (a *Adapter) dial(ctx context.Context) error {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return a.failConnect(apperrors.Wrap(err, apperrors.ErrConnectFailed, "无效的WebSocket地址"))
	}
	q := u.Query()
	q.Set("token", a.currentToken())
	if roomID := a.currentRoomID(); roomID != "" {
		q.Set("room_id", roomID)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout:  a.cfg.HandshakeTimeout,
		ReadBufferSize:    a.cfg.ReadBufferSize,
		WriteBufferSize:   a.cfg.WriteBufferSize,
		EnableCompression: a.cfg.EnableCompression,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return a.failConnect(apperrors.Wrap(err, apperrors.ErrConnectFailed))
	}

	// 握手：等待服务端的connected确认帧
	conn.SetReadDeadline(time.Now().Add(a.cfg.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return a.failConnect(apperrors.Wrap(err, apperrors.ErrHandshakeTimeout))
	}
	var hello models.SocketMessage
	if err := json.Unmarshal(raw, &hello); err != nil || hello.Type != models.MessageTypeConnected {
		conn.Close()
		return a.failConnect(apperrors.New(apperrors.ErrConnectFailed, "无效的握手响应"))
	}
	conn.SetReadDeadline(time.Time{})

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close()
		return apperrors.New(apperrors.ErrConnectionClosed)
	}
	a.conn = conn
	a.state = StateConnected
	a.attempts = 0
	a.exhausted = false
	a.gen++
	gen := a.gen
	sendCh := make(chan []byte, a.cfg.SendBufferSize)
	a.sendCh = sendCh
	a.mu.Unlock()

	go a.readPump(conn, gen)
	go a.writePump(conn, sendCh)

	a.logger.Info("WebSocket已连接",
		zap.String("url", a.cfg.URL),
		zap.String("room_id", a.currentRoomID()))
	a.emitter.Emit(Event{Topic: TopicConnected})

	return nil
}

// failConnect 连接失败的统一收尾
func (a *Adapter) failConnect(err error) error {
	a.mu.Lock()
	a.state = StateDisconnected
	a.mu.Unlock()

	a.logger.Error("WebSocket连接失败", zap.Error(err))
	a.emitter.Emit(Event{Topic: TopicConnectionError, Err: err})
	return err
}

// readPump 读取入站消息并分发
func (a *Adapter) readPump(conn *websocket.Conn, gen uint64) {
	conn.SetReadLimit(a.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(a.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(a.cfg.PongTimeout))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			a.handleDisconnect(gen, err)
			return
		}

		var msg models.SocketMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			a.logger.Warn("解析入站消息失败", zap.Error(err))
			continue
		}
		a.dispatch(&msg)
	}
}

// dispatch 按消息类型分发给订阅者
func (a *Adapter) dispatch(msg *models.SocketMessage) {
	switch msg.Type {
	case models.MessageTypeGameEvent,
		models.MessageTypeRoomUpdate,
		models.MessageTypePlayerUpdate:
		a.emitter.Emit(Event{Topic: msg.Type, Message: msg})

	case models.MessageTypeError:
		a.logger.Warn("收到服务端错误", zap.ByteString("data", msg.Data))
		a.emitter.Emit(Event{Topic: TopicError, Message: msg})

	case models.MessageTypeConnected:
		// 握手帧已在dial中消费，重复到达忽略

	default:
		a.logger.Warn("收到未知消息类型", zap.String("type", msg.Type))
	}
}

// writePump 发送出站消息并维持心跳
func (a *Adapter) writePump(conn *websocket.Conn, sendCh chan []byte) {
	ticker := time.NewTicker(a.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case raw, ok := <-sendCh:
			conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleDisconnect 处理意外断开，换代后的旧回调直接忽略
func (a *Adapter) handleDisconnect(gen uint64, cause error) {
	a.mu.Lock()
	if a.closed || gen != a.gen || a.state != StateConnected {
		a.mu.Unlock()
		return
	}
	a.state = StateDisconnected
	conn := a.conn
	a.conn = nil
	if a.sendCh != nil {
		close(a.sendCh)
		a.sendCh = nil
	}
	a.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	a.logger.Warn("WebSocket意外断开", zap.Error(cause))
	a.emitter.Emit(Event{Topic: TopicDisconnected, Err: cause})

	a.scheduleReconnect()
}

// scheduleReconnect 按指数退避调度下一次重连
// 次数耗尽后进入终态，不再自动重试
func (a *Adapter) scheduleReconnect() {
	a.mu.Lock()
	if a.closed || a.exhausted || a.token == "" || a.state != StateDisconnected {
		a.mu.Unlock()
		return
	}
	if a.attempts >= a.cfg.Reconnect.MaxAttempts {
		a.exhausted = true
		a.mu.Unlock()

		err := apperrors.Newf(apperrors.ErrReconnectExhausted, "已尝试 %d 次", a.cfg.Reconnect.MaxAttempts)
		a.logger.Error("重连次数已用尽，停止自动重连",
			zap.Int("max_attempts", a.cfg.Reconnect.MaxAttempts))
		a.emitter.Emit(Event{Topic: TopicConnectionError, Err: err})
		return
	}
	a.attempts++
	attempt := a.attempts
	delay := a.backoffDelay(attempt)
	a.reconnectTimer = time.AfterFunc(delay, a.redial)
	a.mu.Unlock()

	a.logger.Info("准备重连",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", a.cfg.Reconnect.MaxAttempts),
		zap.Duration("delay", delay))
}

// backoffDelay 第attempt次重连的退避延迟：min(base * 2^(attempt-1), max)
func (a *Adapter) backoffDelay(attempt int) time.Duration {
	delay := a.cfg.Reconnect.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= a.cfg.Reconnect.MaxDelay {
			return a.cfg.Reconnect.MaxDelay
		}
	}
	if delay > a.cfg.Reconnect.MaxDelay {
		return a.cfg.Reconnect.MaxDelay
	}
	return delay
}

// redial 使用已保存的凭证重新建连，失败则继续退避
func (a *Adapter) redial() {
	a.mu.Lock()
	if a.closed || a.state != StateDisconnected || a.token == "" {
		a.mu.Unlock()
		return
	}
	a.state = StateConnecting
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HandshakeTimeout)
	defer cancel()

	if err := a.dial(ctx); err != nil {
		a.scheduleReconnect()
	}
}

// currentToken 读取当前凭证
func (a *Adapter) currentToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// currentRoomID 读取当前房间ID
func (a *Adapter) currentRoomID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roomID
}
