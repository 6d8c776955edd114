package projection

import (
	"sort"
	"strconv"

	"github.com/wfunc/werewolf-client/internal/models"
)

// MessageContent 渲染用消息内容
type MessageContent struct {
	Text      string                `json:"text,omitempty"`
	Blocks    []models.ContentBlock `json:"blocks,omitempty"`
	Citations []models.Citation     `json:"citations,omitempty"`
}

// Message 时间线上可渲染的消息记录
// 由GameEvent纯函数映射得到，不持有状态，可随时从事件集合重新推导
type Message struct {
	ID            string             `json:"id"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	Seat          *int               `json:"seat,omitempty"`
	AuthorName    string             `json:"author_name"`
	RoleBadge     string             `json:"role_badge,omitempty"`
	Visibility    models.Visibility  `json:"visibility"`
	Phase         models.Phase       `json:"phase"`
	Timestamp     int64              `json:"timestamp"`
	Status        models.EventStatus `json:"status,omitempty"`
	Content       MessageContent     `json:"content"`
}

// FromEvent 将单个游戏事件映射为可渲染消息
func FromEvent(event models.GameEvent) Message {
	return Message{
		ID:            strconv.FormatInt(event.Idx, 10),
		CorrelationID: event.CorrelationID,
		Seat:          event.Seat,
		AuthorName:    event.AuthorName,
		RoleBadge:     event.RoleBadge,
		Visibility:    event.Visibility,
		Phase:         event.Phase,
		Timestamp:     event.Timestamp,
		Status:        event.Status,
		Content: MessageContent{
			Text:      event.Content.Text,
			Blocks:    event.Content.Blocks,
			Citations: event.Content.Citations,
		},
	}
}

// Timeline 将事件集合映射为按Idx升序的消息列表
// 入参不会被修改，任意到达顺序映射结果一致
func Timeline(events []models.GameEvent) []Message {
	sorted := make([]models.GameEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Idx < sorted[j].Idx
	})

	messages := make([]Message, 0, len(sorted))
	for _, event := range sorted {
		messages = append(messages, FromEvent(event))
	}
	return messages
}
