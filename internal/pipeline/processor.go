// Package pipeline 定义了异步分析任务的核心流程。
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"support-chat-go/internal/apperr"
	"support-chat-go/internal/hub"
	"support-chat-go/internal/model"
	"support-chat-go/internal/repository"
	"support-chat-go/internal/service"
	"support-chat-go/pkg/es"
	"support-chat-go/pkg/llm"
	"support-chat-go/pkg/log"
	"support-chat-go/pkg/queue"
	"support-chat-go/pkg/storage"
	"support-chat-go/pkg/tasks"
)

// 预览分析只取最近这么多条用户消息。
const previewContextSize = 5

// Processor 封装了分析管道的所有依赖和逻辑。
// 它在独立的 worker 池上执行，请求线程从不等待分析完成。
type Processor struct {
	convRepo      repository.ConversationRepository
	messageRepo   repository.MessageRepository
	analysisRepo  repository.AnalysisRepository
	llmClient     llm.Client
	publisher     service.Publisher
	dispatcher    service.DispatchService
	escalationSvc service.EscalationService
	messageSvc    service.MessageService
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	analysisRepo repository.AnalysisRepository,
	llmClient llm.Client,
	publisher service.Publisher,
	dispatcher service.DispatchService,
	escalationSvc service.EscalationService,
	messageSvc service.MessageService,
) *Processor {
	return &Processor{
		convRepo:      convRepo,
		messageRepo:   messageRepo,
		analysisRepo:  analysisRepo,
		llmClient:     llmClient,
		publisher:     publisher,
		dispatcher:    dispatcher,
		escalationSvc: escalationSvc,
		messageSvc:    messageSvc,
	}
}

// systemSession 是管道内部操作使用的身份。
func systemSession() model.SessionContext {
	return model.SessionContext{Admin: true}
}

// Handle 是队列消费者的统一入口，按任务类型分发。
func (p *Processor) Handle(ctx context.Context, env tasks.Envelope) error {
	switch env.Type {
	case tasks.TypeFullAnalysis:
		var task tasks.FullAnalysisTask
		if err := env.Decode(&task); err != nil {
			return queue.Fatal(err)
		}
		return p.runFullAnalysis(ctx, task)
	case tasks.TypePreviewAnalysis:
		var task tasks.PreviewAnalysisTask
		if err := env.Decode(&task); err != nil {
			return queue.Fatal(err)
		}
		return p.runPreviewAnalysis(ctx, task)
	case tasks.TypeAssistantReply:
		var task tasks.AssistantReplyTask
		if err := env.Decode(&task); err != nil {
			return queue.Fatal(err)
		}
		return p.runAssistantReply(ctx, task)
	case tasks.TypeEscalation:
		var task tasks.EscalationTask
		if err := env.Decode(&task); err != nil {
			return queue.Fatal(err)
		}
		return p.runEscalation(ctx, task)
	case tasks.TypeArchive:
		var task tasks.ArchiveTask
		if err := env.Decode(&task); err != nil {
			return queue.Fatal(err)
		}
		return p.runArchive(ctx, task)
	default:
		return queue.Fatal(fmt.Errorf("unknown task type: %s", env.Type))
	}
}

// OnExhausted 在任务耗尽重试预算后被消费者回调。
// 对分析任务依约定广播 analysis_error。
func (p *Processor) OnExhausted(env tasks.Envelope, cause error) {
	if env.Type != tasks.TypeFullAnalysis {
		return
	}
	var task tasks.FullAnalysisTask
	if err := env.Decode(&task); err != nil {
		return
	}
	p.publisher.Publish(task.ConversationID,
		hub.AnalysisErrorEvent(task.ConversationID, cause.Error()))
}

// runFullAnalysis 执行完整的对话分析并持久化结果。
// 同一会话重复执行会新建分析记录，这是接受的行为，不做去重。
func (p *Processor) runFullAnalysis(ctx context.Context, task tasks.FullAnalysisTask) error {
	conv, err := p.convRepo.FindByID(ctx, task.ConversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 会话不存在是永久失败：广播错误并终止，绝不重试
			p.publisher.Publish(task.ConversationID,
				hub.AnalysisErrorEvent(task.ConversationID, "conversation not found"))
			return queue.Fatal(apperr.ErrNotFound)
		}
		return err
	}

	messages, err := p.messageRepo.FindByConversation(ctx, conv.ID)
	if err != nil {
		return err
	}

	result, err := p.llmClient.AnalyzeConversation(ctx, toLLMMessages(messages))
	if err != nil {
		return err
	}

	analysis, err := p.persistResult(ctx, conv.ID, model.AnalysisTypeSentiment, result)
	if err != nil {
		return err
	}

	p.publisher.Publish(conv.ID, hub.AnalysisCompleteEvent(conv.ID, FormatSummary(result)))

	if analysis.RequiresEscalation() {
		if err := p.dispatcher.DispatchEscalation(ctx, analysis.ID, service.ChannelAll, false); err != nil {
			log.Warnf("升级任务入队失败: analysis=%d, err=%v", analysis.ID, err)
		}
	}
	return nil
}

// runPreviewAnalysis 执行轻量预览分析。
// 预览是非关键路径：会话不存在时直接丢弃。
func (p *Processor) runPreviewAnalysis(ctx context.Context, task tasks.PreviewAnalysisTask) error {
	conv, err := p.convRepo.FindByID(ctx, task.ConversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue.Fatal(apperr.ErrNotFound)
		}
		return err
	}

	messages, err := p.messageRepo.FindByConversation(ctx, conv.ID)
	if err != nil {
		return err
	}
	recent := recentUserMessages(messages, previewContextSize)
	if len(recent) == 0 {
		return nil
	}

	result, err := p.llmClient.PreviewNeeds(ctx, recent)
	if err != nil {
		return err
	}

	if _, err := p.persistResult(ctx, conv.ID, model.AnalysisTypeNeeds, result); err != nil {
		return err
	}

	p.publisher.Publish(conv.ID, hub.AnalysisCompleteEvent(conv.ID, FormatSummary(result)))
	return nil
}

// runAssistantReply 生成并持久化一条助手回复。
// 生成失败时写入一条错误占位消息，与原始用户消息关联；
// (conversation_id, original_message_id) 的唯一索引保证不会重复写入。
func (p *Processor) runAssistantReply(ctx context.Context, task tasks.AssistantReplyTask) error {
	conv, err := p.convRepo.FindByID(ctx, task.ConversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue.Fatal(apperr.ErrNotFound)
		}
		return err
	}

	messages, err := p.messageRepo.FindByConversation(ctx, conv.ID)
	if err != nil {
		return err
	}

	reply, err := p.llmClient.GenerateReply(ctx, toLLMMessages(messages))
	if err != nil {
		log.Errorf("助手回复生成失败: conversation=%d, err=%v", conv.ID, err)
		return p.persistErrorReply(ctx, conv.ID, task.UserMessageID)
	}

	_, err = p.messageSvc.SubmitMessage(ctx, conv.ID, systemSession(), reply, model.RoleAssistant, nil)
	return err
}

// persistErrorReply 写入错误占位消息并广播。
func (p *Processor) persistErrorReply(ctx context.Context, conversationID, userMessageID uint) error {
	metadata, _ := json.Marshal(map[string]interface{}{
		"error": true,
	})
	msg := &model.Message{
		ConversationID:    conversationID,
		Content:           "申し訳ありません。現在応答を生成できません。しばらくしてからもう一度お試しください。",
		Role:              model.RoleAssistant,
		Metadata:          metadata,
		OriginalMessageID: &userMessageID,
		ErrorResponse:     true,
	}
	if err := p.messageRepo.Create(ctx, msg); err != nil {
		// 唯一索引冲突：该用户消息已有错误回复，按幂等处理
		log.Warnf("错误占位消息写入失败（可能已存在）: conversation=%d, err=%v", conversationID, err)
		return nil
	}
	p.publisher.Publish(conversationID, hub.NewMessageEvent(
		msg.ID, msg.Content, msg.Role, msg.CreatedAt, nil))
	return nil
}

// runEscalation 执行升级通知。
func (p *Processor) runEscalation(ctx context.Context, task tasks.EscalationTask) error {
	err := p.escalationSvc.Notify(ctx, task.AnalysisID, task.Channel, task.Forced)
	if errors.Is(err, apperr.ErrNotFound) {
		// 分析不存在是永久失败
		return queue.Fatal(err)
	}
	return err
}

// runArchive 在会话结束后归档完整会话记录，并把消息写入检索索引。
func (p *Processor) runArchive(ctx context.Context, task tasks.ArchiveTask) error {
	conv, err := p.convRepo.FindByID(ctx, task.ConversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue.Fatal(apperr.ErrNotFound)
		}
		return err
	}

	messages, err := p.messageRepo.FindByConversation(ctx, conv.ID)
	if err != nil {
		return err
	}

	snapshot := map[string]interface{}{
		"conversation": conv,
		"messages":     messages,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return queue.Fatal(err)
	}

	objectName, err := storage.PutArchive(ctx, conv.ID, data)
	if err != nil {
		return err
	}
	log.Infof("会话归档完成: conversation=%d, object=%s", conv.ID, objectName)

	for _, m := range messages {
		doc := es.MessageDocument{
			ConversationID: m.ConversationID,
			MessageID:      m.ID,
			Role:           m.Role,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		}
		if err := es.IndexMessage(ctx, doc); err != nil {
			log.Warnf("消息索引失败: message=%d, err=%v", m.ID, err)
		}
	}
	return nil
}

// FormatSummary 把统一的分析结果格式化为 analysis_complete 事件的摘要。
// 完整分析与预览分析共用这一个格式化函数。
func FormatSummary(result *llm.AnalysisResult) map[string]interface{} {
	if result.Preview {
		return map[string]interface{}{
			"confidence_score":    result.ConfidenceScore,
			"keywords":            result.Keywords,
			"escalation_required": result.EscalationRequired,
		}
	}
	return map[string]interface{}{
		"sentiment":        result.Sentiment,
		"confidence_score": result.ConfidenceScore,
		"hidden_needs":     result.HiddenNeeds,
		"priority_level":   result.PriorityLevel,
		"escalated":        result.EscalationRequired,
	}
}

// persistResult 把分析结果落成一条 Analysis 记录。
func (p *Processor) persistResult(ctx context.Context, conversationID uint, analysisType string, result *llm.AnalysisResult) (*model.Analysis, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	analysis := &model.Analysis{
		ConversationID: conversationID,
		AnalysisType:   analysisType,
		Result:         raw,
	}
	if result.Sentiment != "" {
		s := result.Sentiment
		analysis.Sentiment = &s
	}
	if result.PriorityLevel != "" {
		pl := result.PriorityLevel
		analysis.PriorityLevel = &pl
	}
	if err := p.analysisRepo.Create(ctx, analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

// toLLMMessages 把消息记录转换为模型调用的角色消息。
func toLLMMessages(messages []model.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// recentUserMessages 取最近 n 条用户消息。
func recentUserMessages(messages []model.Message, n int) []llm.Message {
	var users []model.Message
	for _, m := range messages {
		if m.Role == model.RoleUser {
			users = append(users, m)
		}
	}
	if len(users) > n {
		users = users[len(users)-n:]
	}
	return toLLMMessages(users)
}
