package game

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/wfunc/werewolf-client/internal/errors"
	"github.com/wfunc/werewolf-client/internal/models"
	"github.com/wfunc/werewolf-client/internal/projection"
	"github.com/wfunc/werewolf-client/internal/transport"
	"go.uber.org/zap"
)

// 默认通知展示时长（毫秒）
const defaultToastDuration = 5000

// ToastSticky 作为Toast.Duration时表示不自动移除
const ToastSticky = -1

// RoomService 房间成员关系协作方
type RoomService interface {
	JoinRoom(ctx context.Context, roomID string) error
	Room(ctx context.Context, roomID string) (*models.GameRoom, error)
	LeaveRoom(ctx context.Context, roomID string) error
}

// Socket 实时连接协作方
type Socket interface {
	Connect(ctx context.Context, token, roomID string) error
	Disconnect()
	SendChat(content string, visibility models.Visibility) error
	SendVote(target *int) error
	SendNightAction(action string, target *int) error
	Subscribe(topic string, fn func(transport.Event)) transport.Subscription
}

// Identity 当前用户身份来源
type Identity interface {
	UserID() string
	Token() string
}

// TimelineSink 时间线滚动位置的呈现侧回调
// 视图停留在底部时，新事件到达后收到ScrollToBottom通知
type TimelineSink interface {
	ScrollToBottom()
}

// Options 会话存储可选配置
type Options struct {
	ToastDuration int // 通知默认展示毫秒数，<=0时使用内置默认值
}

// Store 游戏会话状态
// 入站消息回调来自读取协程，对外读写全部加锁
type Store struct {
	rooms    RoomService
	socket   Socket
	identity Identity
	logger   *zap.Logger
	fsm      *SessionFSM

	toastDuration int

	mu              sync.RWMutex
	room            *models.GameRoom
	inRoom          bool
	connecting      bool
	connectionError string

	events    []models.GameEvent
	eventIdx  map[int64]struct{}
	streaming map[int64]struct{}

	players       []models.Player
	currentPlayer *models.Player

	currentPhase models.Phase
	phaseEndTime int64 // 毫秒时间戳，0表示无截止时间
	gameStarted  bool

	toasts      []models.Toast
	toastTimers map[string]*time.Timer

	timelineAtBottom bool
	sink             TimelineSink

	subs []transport.Subscription
}

// NewStore 创建会话状态存储
func NewStore(rooms RoomService, socket Socket, identity Identity, opts Options, logger *zap.Logger) *Store {
	duration := opts.ToastDuration
	if duration <= 0 {
		duration = defaultToastDuration
	}
	return &Store{
		rooms:            rooms,
		socket:           socket,
		identity:         identity,
		logger:           logger,
		fsm:              NewSessionFSM(logger),
		toastDuration:    duration,
		eventIdx:         make(map[int64]struct{}),
		streaming:        make(map[int64]struct{}),
		toastTimers:      make(map[string]*time.Timer),
		timelineAtBottom: true,
	}
}

// SetTimelineSink 设置时间线滚动回调
func (s *Store) SetTimelineSink(sink TimelineSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// JoinRoom 加入房间
// 依次执行加入请求、房间拉取、实时连接；任一步失败则中止并记录连接错误。
// 加入请求成功后的失败不会自动补偿离开，服务端成员关系可能残留。
func (s *Store) JoinRoom(ctx context.Context, roomID string) error {
	if err := s.fsm.Trigger(EventJoin); err != nil {
		state := s.fsm.Current()
		if state == StateJoining || state == StateConnectingSocket {
			return apperrors.New(apperrors.ErrJoinInProgress)
		}
		return apperrors.Newf(apperrors.ErrSessionState, "当前状态 %s 不允许加入房间", state)
	}

	s.mu.Lock()
	s.connecting = true
	s.connectionError = ""
	s.mu.Unlock()

	if err := s.rooms.JoinRoom(ctx, roomID); err != nil {
		return s.failJoin(err)
	}

	room, err := s.rooms.Room(ctx, roomID)
	if err != nil {
		return s.failJoin(err)
	}

	s.mu.Lock()
	s.applyRoomLocked(room)
	s.mu.Unlock()

	if err := s.fsm.Trigger(EventRoomReady); err != nil {
		return s.failJoin(err)
	}

	token := s.identity.Token()
	if token == "" {
		return s.failJoin(apperrors.New(apperrors.ErrAuthentication))
	}

	if err := s.socket.Connect(ctx, token, roomID); err != nil {
		return s.failJoin(err)
	}

	s.subscribeSocket()

	if err := s.fsm.Trigger(EventSocketConnected); err != nil {
		return s.failJoin(err)
	}

	s.mu.Lock()
	s.inRoom = true
	s.connecting = false
	s.mu.Unlock()

	s.logger.Info("已加入房间", zap.String("room_id", roomID))
	return nil
}

// failJoin 记录连接错误并回到idle
func (s *Store) failJoin(cause error) error {
	s.mu.Lock()
	s.connecting = false
	s.connectionError = cause.Error()
	s.inRoom = false
	s.mu.Unlock()

	if err := s.fsm.Trigger(EventFail); err != nil {
		s.logger.Warn("加入失败后状态回退异常", zap.Error(err))
	}

	s.logger.Warn("加入房间失败", zap.Error(cause))
	return cause
}

// LeaveRoom 离开房间
// 服务端离开通知为尽力而为，连接断开与本地状态重置无条件执行
func (s *Store) LeaveRoom(ctx context.Context) {
	if err := s.fsm.Trigger(EventLeave); err != nil {
		s.logger.Debug("离开房间时状态机事件被忽略", zap.Error(err))
	}

	s.mu.RLock()
	room := s.room
	s.mu.RUnlock()

	if room != nil {
		if err := s.rooms.LeaveRoom(ctx, room.ID); err != nil {
			s.logger.Warn("离开房间请求失败", zap.Error(err), zap.String("room_id", room.ID))
		}
	}

	s.socket.Disconnect()
	s.ResetGameState()

	if s.fsm.Current() == StateLeaving {
		if err := s.fsm.Trigger(EventLeft); err != nil {
			s.logger.Warn("离开清理后状态回退异常", zap.Error(err))
		}
	}
}

// SendMessage 发送聊天消息，不在房间内时静默忽略
func (s *Store) SendMessage(content string, visibility models.Visibility) {
	if !s.IsInRoom() {
		return
	}
	if err := s.socket.SendChat(content, visibility); err != nil {
		s.logger.Warn("发送消息失败", zap.Error(err))
	}
}

// Vote 发起投票，target为nil表示弃票；不满足行动条件时静默忽略
func (s *Store) Vote(target *int) {
	if !s.CanAct() {
		return
	}
	if err := s.socket.SendVote(target); err != nil {
		s.logger.Warn("发送投票失败", zap.Error(err))
	}
}

// NightAction 发起夜间行动，不满足行动条件时静默忽略
func (s *Store) NightAction(action string, target *int) {
	if !s.CanAct() {
		return
	}
	if err := s.socket.SendNightAction(action, target); err != nil {
		s.logger.Warn("发送夜间行动失败", zap.Error(err))
	}
}

// subscribeSocket 注册入站消息与连接生命周期的处理器
func (s *Store) subscribeSocket() {
	subs := []transport.Subscription{
		s.socket.Subscribe(transport.TopicGameEvent, s.onGameEvent),
		s.socket.Subscribe(transport.TopicRoomUpdate, s.onRoomUpdate),
		s.socket.Subscribe(transport.TopicPlayerUpdate, s.onPlayerUpdate),
		s.socket.Subscribe(transport.TopicError, s.onSocketError),
		s.socket.Subscribe(transport.TopicDisconnected, s.onDisconnected),
		s.socket.Subscribe(transport.TopicConnected, s.onConnected),
	}

	s.mu.Lock()
	s.subs = append(s.subs, subs...)
	s.mu.Unlock()
}

// onGameEvent 入站游戏事件
func (s *Store) onGameEvent(evt transport.Event) {
	if evt.Message == nil {
		return
	}
	var event models.GameEvent
	if err := json.Unmarshal(evt.Message.Data, &event); err != nil {
		s.logger.Warn("游戏事件解析失败", zap.Error(err))
		return
	}
	s.HandleGameEvent(event)
}

// onRoomUpdate 房间状态推送
func (s *Store) onRoomUpdate(evt transport.Event) {
	if evt.Message == nil {
		return
	}
	var room models.GameRoom
	if err := json.Unmarshal(evt.Message.Data, &room); err != nil {
		s.logger.Warn("房间更新解析失败", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.applyRoomLocked(&room)
	s.mu.Unlock()
}

// onPlayerUpdate 玩家列表推送
func (s *Store) onPlayerUpdate(evt transport.Event) {
	if evt.Message == nil {
		return
	}
	var players []models.Player
	if err := json.Unmarshal(evt.Message.Data, &players); err != nil {
		s.logger.Warn("玩家更新解析失败", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.players = players
	s.findCurrentPlayerLocked()
	s.mu.Unlock()
}

// onSocketError 服务端错误消息
func (s *Store) onSocketError(evt transport.Event) {
	message := "连接发生错误"
	if evt.Message != nil {
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(evt.Message.Data, &payload); err == nil && payload.Message != "" {
			message = payload.Message
		}
	}

	s.AddToast(models.Toast{
		Type:    models.ToastError,
		Title:   "连接错误",
		Message: message,
	})
}

// onDisconnected 连接意外断开，传输层会自动重连
func (s *Store) onDisconnected(evt transport.Event) {
	s.AddToast(models.Toast{
		Type:    models.ToastWarning,
		Title:   "连接断开",
		Message: "连接已断开，正在尝试重连...",
	})
}

// onConnected 连接建立（含重连成功）
func (s *Store) onConnected(evt transport.Event) {
	s.AddToast(models.Toast{
		Type:    models.ToastSuccess,
		Title:   "已连接",
		Message: "已连接到游戏",
	})
}

// HandleGameEvent 游戏事件对账
// 同Idx的重复到达原地替换，新Idx追加；每次变更后按Idx升序重排，
// 保证任意到达顺序下时间线稳定有序
func (s *Store) HandleGameEvent(event models.GameEvent) {
	s.mu.Lock()

	if _, exists := s.eventIdx[event.Idx]; exists {
		for i := range s.events {
			if s.events[i].Idx == event.Idx {
				s.events[i] = event
				break
			}
		}
	} else {
		s.events = append(s.events, event)
		s.eventIdx[event.Idx] = struct{}{}
	}

	// 流式事件单独跟踪，终态后移除
	if event.Status == models.StatusStreaming {
		s.streaming[event.Idx] = struct{}{}
	} else if event.Status.IsTerminal() {
		delete(s.streaming, event.Idx)
	}

	sort.Slice(s.events, func(i, j int) bool {
		return s.events[i].Idx < s.events[j].Idx
	})

	sink := s.sink
	atBottom := s.timelineAtBottom
	s.mu.Unlock()

	// 呈现侧回调在锁外执行
	if atBottom && sink != nil {
		sink.ScrollToBottom()
	}
}

// applyRoomLocked 应用房间数据，调用方持有写锁
func (s *Store) applyRoomLocked(room *models.GameRoom) {
	s.room = room
	s.players = room.Players
	s.gameStarted = room.Status == models.RoomPlaying
	s.currentPhase = room.CurrentPhase
	s.phaseEndTime = room.PhaseEndTime
	s.findCurrentPlayerLocked()
}

// findCurrentPlayerLocked 在玩家列表中定位当前用户，观战者为nil
func (s *Store) findCurrentPlayerLocked() {
	userID := s.identity.UserID()
	s.currentPlayer = nil
	for i := range s.players {
		if s.players[i].ID == userID {
			s.currentPlayer = &s.players[i]
			return
		}
	}
}

// AddToast 添加通知并返回标识
// Duration为0时使用默认时长，为ToastSticky时不自动移除
func (s *Store) AddToast(toast models.Toast) string {
	if toast.ID == "" {
		toast.ID = uuid.New().String()
	}
	if toast.Duration == 0 {
		toast.Duration = s.toastDuration
	}

	s.mu.Lock()
	s.toasts = append(s.toasts, toast)
	if toast.Duration > 0 {
		id := toast.ID
		s.toastTimers[id] = time.AfterFunc(time.Duration(toast.Duration)*time.Millisecond, func() {
			s.RemoveToast(id)
		})
	}
	s.mu.Unlock()

	return toast.ID
}

// RemoveToast 按标识移除通知，不存在时为空操作
func (s *Store) RemoveToast(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.toastTimers[id]; ok {
		timer.Stop()
		delete(s.toastTimers, id)
	}
	for i := range s.toasts {
		if s.toasts[i].ID == id {
			s.toasts = append(s.toasts[:i], s.toasts[i+1:]...)
			return
		}
	}
}

// SetTimelineAtBottom 记录时间线滚动位置
func (s *Store) SetTimelineAtBottom(atBottom bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timelineAtBottom = atBottom
}

// ResetGameState 重置会话状态到初始空态
func (s *Store) ResetGameState() {
	s.mu.Lock()

	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil

	for id, timer := range s.toastTimers {
		timer.Stop()
		delete(s.toastTimers, id)
	}

	s.room = nil
	s.inRoom = false
	s.connecting = false
	s.connectionError = ""
	s.events = nil
	s.eventIdx = make(map[int64]struct{})
	s.streaming = make(map[int64]struct{})
	s.players = nil
	s.currentPlayer = nil
	s.currentPhase = ""
	s.phaseEndTime = 0
	s.gameStarted = false
	s.toasts = nil
	s.timelineAtBottom = true

	s.mu.Unlock()
}

// SessionState 当前会话状态机状态
func (s *Store) SessionState() SessionState {
	return s.fsm.Current()
}

// IsInRoom 是否在房间内
func (s *Store) IsInRoom() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inRoom
}

// IsConnecting 加入流程是否进行中
func (s *Store) IsConnecting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connecting
}

// ConnectionError 最近一次加入失败的错误描述
func (s *Store) ConnectionError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionError
}

// Room 当前房间
func (s *Store) Room() *models.GameRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// Players 玩家列表副本
func (s *Store) Players() []models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	players := make([]models.Player, len(s.players))
	copy(players, s.players)
	return players
}

// CurrentPlayer 当前用户对应的玩家，观战者为nil
func (s *Store) CurrentPlayer() *models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentPlayer
}

// CurrentPhase 当前游戏阶段
func (s *Store) CurrentPhase() models.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentPhase
}

// IsGameStarted 游戏是否已开始
func (s *Store) IsGameStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gameStarted
}

// Events 事件集合副本
func (s *Store) Events() []models.GameEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]models.GameEvent, len(s.events))
	copy(events, s.events)
	return events
}

// Toasts 通知列表副本
func (s *Store) Toasts() []models.Toast {
	s.mu.RLock()
	defer s.mu.RUnlock()
	toasts := make([]models.Toast, len(s.toasts))
	copy(toasts, s.toasts)
	return toasts
}

// IsStreaming 指定Idx的事件是否仍在流式输出
func (s *Store) IsStreaming(idx int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.streaming[idx]
	return ok
}

// StreamingCount 流式事件数量
func (s *Store) StreamingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streaming)
}

// TimelineMessages 按Idx升序的可渲染消息列表
func (s *Store) TimelineMessages() []projection.Message {
	return projection.Timeline(s.Events())
}

// AlivePlayers 存活玩家
func (s *Store) AlivePlayers() []models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alive := make([]models.Player, 0, len(s.players))
	for _, player := range s.players {
		if player.IsAlive {
			alive = append(alive, player)
		}
	}
	return alive
}

// CanAct 当前玩家是否可行动（存活且游戏已开始）
func (s *Store) CanAct() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentPlayer != nil && s.currentPlayer.IsAlive && s.gameStarted
}

// CurrentSeat 当前玩家座位号，观战者为nil
func (s *Store) CurrentSeat() *int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentPlayer == nil {
		return nil
	}
	seat := s.currentPlayer.Seat
	return &seat
}

// PhaseTimeRemaining 当前阶段剩余秒数，每次读取重新计算，无截止时间时为0
func (s *Store) PhaseTimeRemaining() int64 {
	s.mu.RLock()
	deadline := s.phaseEndTime
	s.mu.RUnlock()

	if deadline == 0 {
		return 0
	}
	remaining := (deadline - time.Now().UnixMilli()) / 1000
	if remaining < 0 {
		return 0
	}
	return remaining
}
