package model

import (
	"time"

	"gorm.io/datatypes"
)

// 分析类型的枚举值。
const (
	AnalysisTypeNeeds      = "needs"
	AnalysisTypeSentiment  = "sentiment"
	AnalysisTypeEscalation = "escalation"
	AnalysisTypePattern    = "pattern"
)

// 优先级的枚举值。
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// 情绪的枚举值。
const (
	SentimentPositive   = "positive"
	SentimentNeutral    = "neutral"
	SentimentNegative   = "negative"
	SentimentFrustrated = "frustrated"
)

// Analysis 代表一次对话分析的结果。
// Result 是分析管道产出的不透明载荷（情绪分、隐性需求、置信度、证据引用等）。
// Escalated 一旦置位便不再清除；EscalatedAt 记录置位时间。
type Analysis struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint           `gorm:"index;not null" json:"conversationId"`
	AnalysisType   string         `gorm:"type:varchar(16);not null" json:"analysisType"`
	Result         datatypes.JSON `gorm:"type:json" json:"result,omitempty"`
	PriorityLevel  *string        `gorm:"type:varchar(16)" json:"priorityLevel,omitempty"`
	Sentiment      *string        `gorm:"type:varchar(16)" json:"sentiment,omitempty"`
	Escalated      bool           `gorm:"not null;default:false" json:"escalated"`
	EscalatedAt    *time.Time     `gorm:"default:null" json:"escalatedAt,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

func (Analysis) TableName() string {
	return "analyses"
}

// RequiresEscalation 判断该分析是否需要升级为人工处理。
// urgent 优先级始终需要升级；high 优先级或 frustrated 情绪
// 在尚未升级时需要升级。
func (a *Analysis) RequiresEscalation() bool {
	if a.PriorityLevel != nil && *a.PriorityLevel == PriorityUrgent {
		return true
	}
	if a.Escalated {
		return false
	}
	if a.PriorityLevel != nil && *a.PriorityLevel == PriorityHigh {
		return true
	}
	if a.Sentiment != nil && *a.Sentiment == SentimentFrustrated {
		return true
	}
	return false
}

// EscalationReasons 返回触发升级的原因列表，用于通知载荷。
func (a *Analysis) EscalationReasons() []string {
	var reasons []string
	if a.PriorityLevel != nil {
		switch *a.PriorityLevel {
		case PriorityUrgent:
			reasons = append(reasons, "priority_urgent")
		case PriorityHigh:
			reasons = append(reasons, "priority_high")
		}
	}
	if a.Sentiment != nil && *a.Sentiment == SentimentFrustrated {
		reasons = append(reasons, "sentiment_frustrated")
	}
	return reasons
}
