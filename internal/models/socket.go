package models

import (
	"encoding/json"
	"time"
)

// SocketMessage WebSocket消息信封
type SocketMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // 毫秒时间戳
}

// 入站消息类型（服务端 -> 客户端）
const (
	MessageTypeConnected    = "connected"     // 握手确认
	MessageTypeGameEvent    = "game_event"    // 游戏事件
	MessageTypeRoomUpdate   = "room_update"   // 房间更新
	MessageTypePlayerUpdate = "player_update" // 玩家列表更新
	MessageTypeError        = "error"         // 错误通知
)

// 出站消息类型（客户端 -> 服务端）
const (
	MessageTypeSendMessage = "send_message" // 发送聊天
	MessageTypeVote        = "vote"         // 投票
	MessageTypeNightAction = "night_action" // 夜间行动
)

// ChatPayload 聊天消息载荷
type ChatPayload struct {
	Content    string     `json:"content"`
	Visibility Visibility `json:"visibility,omitempty"`
}

// VotePayload 投票载荷
type VotePayload struct {
	Target *int `json:"target"` // nil 表示弃票
}

// NightActionPayload 夜间行动载荷
type NightActionPayload struct {
	Action string `json:"action"`
	Target *int   `json:"target,omitempty"`
}

// ErrorPayload 服务端错误载荷
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewSocketMessage 构造带载荷的出站消息
func NewSocketMessage(msgType string, payload interface{}) (*SocketMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &SocketMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}
