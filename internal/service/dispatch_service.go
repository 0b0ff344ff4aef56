package service

import (
	"context"

	"support-chat-go/pkg/log"
	"support-chat-go/pkg/queue"
	"support-chat-go/pkg/tasks"
)

// BatchSummary 汇总一次批量调度的入队结果。
// Failed 记录的是入队失败（队列不可用等），与任务执行失败无关。
type BatchSummary struct {
	Total  int    `json:"total"`
	Queued int    `json:"queued"`
	Failed []uint `json:"failed"`
}

// DispatchService 决定何时入队异步分析工作。
// 所有入队点都显式经由注入的队列客户端，测试用内存队列替换。
type DispatchService interface {
	// DispatchFullAnalysis 入队一次完整的对话分析（analysis 类别，带重试与死信）。
	DispatchFullAnalysis(ctx context.Context, conversationID uint, options map[string]string) error
	// DispatchPreviewAnalysis 入队一次轻量预览分析（default 类别，失败即丢弃）。
	DispatchPreviewAnalysis(ctx context.Context, conversationID uint) error
	// DispatchAssistantReply 入队一次助手回复生成。
	DispatchAssistantReply(ctx context.Context, conversationID, userMessageID uint) error
	// DispatchBatch 对每个会话入队一次完整分析；单个入队失败不中断其余扇出。
	DispatchBatch(ctx context.Context, conversationIDs []uint, options map[string]string) BatchSummary
	// DispatchEscalation 入队一次升级通知（critical 类别）。
	DispatchEscalation(ctx context.Context, analysisID uint, channel string, forced bool) error
}

type dispatchService struct {
	queueClient queue.Client
}

// NewDispatchService 创建一个新的 DispatchService 实例。
func NewDispatchService(queueClient queue.Client) DispatchService {
	return &dispatchService{queueClient: queueClient}
}

// DispatchFullAnalysis 重复调度是安全的：每次执行都会新建一条
// 分析记录，不做去重。
func (s *dispatchService) DispatchFullAnalysis(ctx context.Context, conversationID uint, options map[string]string) error {
	env, err := tasks.NewEnvelope(tasks.TypeFullAnalysis, tasks.FullAnalysisTask{
		ConversationID: conversationID,
		Options:        options,
	})
	if err != nil {
		return err
	}
	return s.queueClient.Enqueue(ctx, queue.ClassAnalysis, env)
}

func (s *dispatchService) DispatchPreviewAnalysis(ctx context.Context, conversationID uint) error {
	env, err := tasks.NewEnvelope(tasks.TypePreviewAnalysis, tasks.PreviewAnalysisTask{
		ConversationID: conversationID,
	})
	if err != nil {
		return err
	}
	return s.queueClient.Enqueue(ctx, queue.ClassDefault, env)
}

func (s *dispatchService) DispatchAssistantReply(ctx context.Context, conversationID, userMessageID uint) error {
	env, err := tasks.NewEnvelope(tasks.TypeAssistantReply, tasks.AssistantReplyTask{
		ConversationID: conversationID,
		UserMessageID:  userMessageID,
	})
	if err != nil {
		return err
	}
	return s.queueClient.Enqueue(ctx, queue.ClassDefault, env)
}

func (s *dispatchService) DispatchBatch(ctx context.Context, conversationIDs []uint, options map[string]string) BatchSummary {
	summary := BatchSummary{Total: len(conversationIDs)}
	for _, id := range conversationIDs {
		if err := s.DispatchFullAnalysis(ctx, id, options); err != nil {
			log.Warnf("批量分析入队失败: conversation=%d, err=%v", id, err)
			summary.Failed = append(summary.Failed, id)
			continue
		}
		summary.Queued++
	}
	return summary
}

func (s *dispatchService) DispatchEscalation(ctx context.Context, analysisID uint, channel string, forced bool) error {
	env, err := tasks.NewEnvelope(tasks.TypeEscalation, tasks.EscalationTask{
		AnalysisID: analysisID,
		Channel:    channel,
		Forced:     forced,
	})
	if err != nil {
		return err
	}
	return s.queueClient.Enqueue(ctx, queue.ClassCritical, env)
}
