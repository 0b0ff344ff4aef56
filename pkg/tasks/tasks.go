// Package tasks defines the structures for jobs that are sent to the queue.
package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// 任务类型。
const (
	TypeFullAnalysis    = "analysis.full"
	TypePreviewAnalysis = "analysis.preview"
	TypeAssistantReply  = "chat.assistant_reply"
	TypeEscalation      = "escalation.notify"
	TypeArchive         = "conversation.archive"
)

// Envelope 是队列中流转的任务信封。
// ID 用于重试计数与死信定位，Payload 是任务类型对应的 JSON 载荷。
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope 打包一个任务载荷。
func NewEnvelope(taskType string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return Envelope{
		ID:      uuid.NewString(),
		Type:    taskType,
		Payload: raw,
	}, nil
}

// Decode 将信封载荷解包到目标结构。
func (e Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// FullAnalysisTask 触发一次完整的对话分析（情绪 + 隐性需求）。
type FullAnalysisTask struct {
	ConversationID uint              `json:"conversation_id"`
	Options        map[string]string `json:"options,omitempty"`
}

// PreviewAnalysisTask 触发一次轻量的需求预览分析。
type PreviewAnalysisTask struct {
	ConversationID uint `json:"conversation_id"`
}

// AssistantReplyTask 触发一次助手回复生成。
type AssistantReplyTask struct {
	ConversationID uint `json:"conversation_id"`
	UserMessageID  uint `json:"user_message_id"`
}

// EscalationTask 触发一次升级通知。
type EscalationTask struct {
	AnalysisID uint   `json:"analysis_id"`
	Channel    string `json:"channel"`
	Forced     bool   `json:"forced"`
}

// ArchiveTask 在会话结束后归档完整的会话记录。
type ArchiveTask struct {
	ConversationID uint `json:"conversation_id"`
}
