package model

import (
	"time"

	"gorm.io/datatypes"
)

// 消息角色的枚举值。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleCompany   = "company"
)

// ValidRole 判断给定角色是否属于枚举集合。
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleCompany:
		return true
	}
	return false
}

// Message 代表对话中的一条消息。
// OriginalMessageID 仅在助手回复生成失败、写入错误占位消息时设置；
// 配合 (conversation_id, original_message_id) 的唯一索引，
// 保证同一条用户消息在一个对话内至多存在一条错误回复。
type Message struct {
	ID                uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID    uint           `gorm:"index;not null;uniqueIndex:idx_messages_error_original,priority:1" json:"conversationId"`
	Content           string         `gorm:"type:text;not null" json:"content"`
	Role              string         `gorm:"type:varchar(16);not null" json:"role"`
	Metadata          datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	OriginalMessageID *uint          `gorm:"uniqueIndex:idx_messages_error_original,priority:2" json:"originalMessageId,omitempty"`
	ErrorResponse     bool           `gorm:"not null;default:false" json:"errorResponse"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}
