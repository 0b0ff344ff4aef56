// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation 代表一个客服对话线程。
// SessionID 全局唯一，用于匿名访客恢复会话；UserID 可为空（允许访客会话）。
// EndedAt 为空表示会话仍处于活跃状态。
type Conversation struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    *uint          `gorm:"index" json:"userId,omitempty"`
	SessionID string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"sessionId"`
	Metadata  datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	EndedAt   *time.Time     `gorm:"default:null" json:"endedAt,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`

	Messages []Message  `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
	Analyses []Analysis `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Active 返回会话是否仍在进行中。
func (c *Conversation) Active() bool {
	return c.EndedAt == nil
}

// ConversationMeta 是 Metadata 字段中约定的键的视图。
// 元数据本身是自由格式的 map，这里只解出触发策略需要的键。
type ConversationMeta struct {
	Category     string `json:"category"`
	CustomerType string `json:"customerType"`
	CompanyName  string `json:"companyName"`
	Name         string `json:"name"`
}
