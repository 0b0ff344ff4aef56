// Package hub 实现了会话级的发布/订阅广播中心。
package hub

import "time"

// Event 是广播的事件载荷。具体结构按事件类型约定，
// 统一在 events.go 中构造以保证线格式兼容。
type Event map[string]interface{}

// 事件类型。
const (
	EventNewMessage       = "new_message"
	EventTyping           = "typing"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
	EventMessageRead      = "message_read"
	EventAnalysisComplete = "analysis_complete"
	EventAnalysisError    = "analysis_error"
	EventNewEscalation    = "new_escalation"
)

// EventUser 是事件中携带的用户摘要。
type EventUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// NewMessageEvent 构造 new_message 事件。
// user 为 nil 时不携带 user 字段。
func NewMessageEvent(id uint, content, role string, createdAt time.Time, user *EventUser) Event {
	message := map[string]interface{}{
		"id":         id,
		"content":    content,
		"role":       role,
		"created_at": createdAt.Format(time.RFC3339),
	}
	if user != nil {
		message["user"] = user
	}
	return Event{
		"type":    EventNewMessage,
		"message": message,
	}
}

// TypingEvent 构造 typing 事件。
func TypingEvent(user EventUser, isTyping bool) Event {
	return Event{
		"type":      EventTyping,
		"user":      map[string]interface{}{"id": user.ID, "name": user.Name},
		"is_typing": isTyping,
	}
}

// PresenceEvent 构造 user_connected / user_disconnected 事件。
func PresenceEvent(eventType string, user EventUser) Event {
	return Event{
		"type":      eventType,
		"user":      user,
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

// MessageReadEvent 构造 message_read 事件。
func MessageReadEvent(messageID uint, userID string) Event {
	return Event{
		"type":       EventMessageRead,
		"message_id": messageID,
		"user_id":    userID,
		"timestamp":  time.Now().Format(time.RFC3339),
	}
}

// AnalysisCompleteEvent 构造 analysis_complete 事件。
// summary 是分析管道产出的归一化摘要。
func AnalysisCompleteEvent(conversationID uint, summary map[string]interface{}) Event {
	return Event{
		"type":            EventAnalysisComplete,
		"conversation_id": conversationID,
		"analysis":        summary,
		"timestamp":       time.Now().Format(time.RFC3339),
	}
}

// AnalysisErrorEvent 构造 analysis_error 事件。
func AnalysisErrorEvent(conversationID uint, reason string) Event {
	return Event{
		"type":            EventAnalysisError,
		"conversation_id": conversationID,
		"error":           reason,
		"timestamp":       time.Now().Format(time.RFC3339),
	}
}

// NewEscalationEvent 构造 new_escalation 事件（固定的 dashboard 主题）。
func NewEscalationEvent(analysisID, conversationID uint, priority, sentiment string, reasons []string) Event {
	return Event{
		"type":            EventNewEscalation,
		"analysis_id":     analysisID,
		"conversation_id": conversationID,
		"priority":        priority,
		"sentiment":       sentiment,
		"reasons":         reasons,
		"timestamp":       time.Now().Format(time.RFC3339),
	}
}

// Type 返回事件类型。
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}
