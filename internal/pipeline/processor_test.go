package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"support-chat-go/internal/apperr"
	"support-chat-go/internal/hub"
	"support-chat-go/internal/model"
	"support-chat-go/internal/service"
	"support-chat-go/pkg/llm"
	"support-chat-go/pkg/queue"
	"support-chat-go/pkg/tasks"
)

// 管道测试使用的内存假实现。

type memConvRepo struct {
	mu     sync.Mutex
	convs  map[uint]*model.Conversation
	nextID uint
}

func newMemConvRepo() *memConvRepo {
	return &memConvRepo{convs: make(map[uint]*model.Conversation)}
}

func (r *memConvRepo) Create(_ context.Context, conv *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	conv.ID = r.nextID
	stored := *conv
	r.convs[conv.ID] = &stored
	return nil
}

func (r *memConvRepo) FindByID(_ context.Context, id uint) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *conv
	return &cp, nil
}

func (r *memConvRepo) FindBySessionID(_ context.Context, sessionID string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conv := range r.convs {
		if conv.SessionID == sessionID {
			cp := *conv
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memConvRepo) Touch(context.Context, uint) error  { return nil }
func (r *memConvRepo) End(context.Context, uint) error    { return nil }
func (r *memConvRepo) Resume(context.Context, uint) error { return nil }

func (r *memConvRepo) FindWithPagination(context.Context, int, int) ([]model.Conversation, int64, error) {
	return nil, 0, nil
}

type memMessageRepo struct {
	mu       sync.Mutex
	messages []model.Message
	nextID   uint
	failNext error
}

func (r *memMessageRepo) Create(_ context.Context, msg *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	r.nextID++
	msg.ID = r.nextID
	msg.CreatedAt = time.Now()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *memMessageRepo) FindByConversation(_ context.Context, conversationID uint) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMessageRepo) CountByRole(_ context.Context, conversationID uint, role string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.messages {
		if m.ConversationID == conversationID && m.Role == role {
			n++
		}
	}
	return n, nil
}

type memAnalysisRepo struct {
	mu       sync.Mutex
	analyses map[uint]*model.Analysis
	nextID   uint
}

func newMemAnalysisRepo() *memAnalysisRepo {
	return &memAnalysisRepo{analyses: make(map[uint]*model.Analysis)}
}

func (r *memAnalysisRepo) Create(_ context.Context, analysis *model.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	analysis.ID = r.nextID
	stored := *analysis
	r.analyses[analysis.ID] = &stored
	return nil
}

func (r *memAnalysisRepo) FindByID(_ context.Context, id uint) (*model.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.analyses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAnalysisRepo) FindByConversation(_ context.Context, conversationID uint) ([]model.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Analysis
	for _, a := range r.analyses {
		if a.ConversationID == conversationID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memAnalysisRepo) MarkEscalated(_ context.Context, id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.analyses[id]
	if !ok || a.Escalated {
		return false, nil
	}
	a.Escalated = true
	return true, nil
}

// stubLLM 返回固定的分析结果与回复。
type stubLLM struct {
	analysis *llm.AnalysisResult
	preview  *llm.AnalysisResult
	reply    string
	err      error
}

func (s *stubLLM) AnalyzeConversation(context.Context, []llm.Message) (*llm.AnalysisResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.analysis, nil
}

func (s *stubLLM) PreviewNeeds(context.Context, []llm.Message) (*llm.AnalysisResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.preview, nil
}

func (s *stubLLM) GenerateReply(context.Context, []llm.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type published struct {
	ConversationID uint
	Event          hub.Event
}

type memPublisher struct {
	mu        sync.Mutex
	topic     []published
	dashboard []hub.Event
}

func (p *memPublisher) Publish(conversationID uint, event hub.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = append(p.topic, published{ConversationID: conversationID, Event: event})
}

func (p *memPublisher) PublishDashboard(event hub.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dashboard = append(p.dashboard, event)
}

func (p *memPublisher) events() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.topic))
	copy(out, p.topic)
	return out
}

type notifyCall struct {
	AnalysisID uint
	Channel    string
	Forced     bool
}

type memEscalation struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (s *memEscalation) Notify(_ context.Context, analysisID uint, channel string, forced bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, notifyCall{AnalysisID: analysisID, Channel: channel, Forced: forced})
	return nil
}

type submitCall struct {
	ConversationID uint
	Content        string
	Role           string
}

type memMessageSvc struct {
	mu    sync.Mutex
	calls []submitCall
	err   error
}

func (s *memMessageSvc) SubmitMessage(_ context.Context, conversationID uint, _ model.SessionContext, content, role string, _ map[string]interface{}) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, submitCall{ConversationID: conversationID, Content: content, Role: role})
	return &model.Message{ConversationID: conversationID, Content: content, Role: role}, nil
}

type processorTestEnv struct {
	processor  *Processor
	convRepo   *memConvRepo
	msgRepo    *memMessageRepo
	repo       *memAnalysisRepo
	llm        *stubLLM
	publisher  *memPublisher
	queue      *queue.MemoryClient
	escalation *memEscalation
	messageSvc *memMessageSvc
}

func newProcessorTestEnv(t *testing.T, llmStub *stubLLM) *processorTestEnv {
	t.Helper()
	env := &processorTestEnv{
		convRepo:   newMemConvRepo(),
		msgRepo:    &memMessageRepo{},
		repo:       newMemAnalysisRepo(),
		llm:        llmStub,
		publisher:  &memPublisher{},
		queue:      queue.NewMemoryClient(),
		escalation: &memEscalation{},
		messageSvc: &memMessageSvc{},
	}
	env.processor = NewProcessor(
		env.convRepo,
		env.msgRepo,
		env.repo,
		env.llm,
		env.publisher,
		service.NewDispatchService(env.queue),
		env.escalation,
		env.messageSvc,
	)
	return env
}

func (e *processorTestEnv) seedConversation(t *testing.T, contents ...string) *model.Conversation {
	t.Helper()
	conv := &model.Conversation{SessionID: "sess-1"}
	require.NoError(t, e.convRepo.Create(context.Background(), conv))
	for _, c := range contents {
		msg := &model.Message{ConversationID: conv.ID, Content: c, Role: model.RoleUser}
		require.NoError(t, e.msgRepo.Create(context.Background(), msg))
	}
	return conv
}

func envelope(t *testing.T, taskType string, payload interface{}) tasks.Envelope {
	t.Helper()
	env, err := tasks.NewEnvelope(taskType, payload)
	require.NoError(t, err)
	return env
}

func TestFullAnalysisPersistsAndBroadcasts(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{analysis: &llm.AnalysisResult{
		Sentiment:       model.SentimentNeutral,
		ConfidenceScore: 0.9,
		HiddenNeeds:     []string{"価格の透明性"},
		PriorityLevel:   model.PriorityMedium,
	}})
	conv := env.seedConversation(t, "料金について教えてください")

	err := env.processor.Handle(context.Background(),
		envelope(t, tasks.TypeFullAnalysis, tasks.FullAnalysisTask{ConversationID: conv.ID}))
	require.NoError(t, err)

	analyses, err := env.repo.FindByConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	assert.Equal(t, model.AnalysisTypeSentiment, analyses[0].AnalysisType)
	require.NotNil(t, analyses[0].Sentiment)
	assert.Equal(t, model.SentimentNeutral, *analyses[0].Sentiment)

	events := env.publisher.events()
	require.Len(t, events, 1)
	assert.Equal(t, hub.EventAnalysisComplete, events[0].Event.Type())
	summary := events[0].Event["analysis"].(map[string]interface{})
	assert.Equal(t, model.SentimentNeutral, summary["sentiment"])
	assert.Equal(t, []string{"価格の透明性"}, summary["hidden_needs"])

	// medium + neutral 不触发升级
	assert.Empty(t, env.queue.All())
}

func TestFullAnalysisDispatchesEscalation(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{analysis: &llm.AnalysisResult{
		Sentiment:     model.SentimentFrustrated,
		PriorityLevel: model.PriorityUrgent,
	}})
	conv := env.seedConversation(t, "もう我慢できません")

	err := env.processor.Handle(context.Background(),
		envelope(t, tasks.TypeFullAnalysis, tasks.FullAnalysisTask{ConversationID: conv.ID}))
	require.NoError(t, err)

	escalations := env.queue.ByType(tasks.TypeEscalation)
	require.Len(t, escalations, 1)
	assert.Equal(t, queue.ClassCritical, escalations[0].Class)

	var task tasks.EscalationTask
	require.NoError(t, escalations[0].Envelope.Decode(&task))
	assert.Equal(t, service.ChannelAll, task.Channel)
	assert.False(t, task.Forced)
}

func TestFullAnalysisUnknownConversationIsFatal(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{})

	err := env.processor.Handle(context.Background(),
		envelope(t, tasks.TypeFullAnalysis, tasks.FullAnalysisTask{ConversationID: 99}))
	assert.True(t, queue.IsFatal(err))

	// 会話不存在时广播 analysis_error
	events := env.publisher.events()
	require.Len(t, events, 1)
	assert.Equal(t, hub.EventAnalysisError, events[0].Event.Type())
	assert.Equal(t, "conversation not found", events[0].Event["error"])
}

func TestFullAnalysisLLMFailureIsRetryable(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{err: assert.AnError})
	conv := env.seedConversation(t, "こんにちは")

	err := env.processor.Handle(context.Background(),
		envelope(t, tasks.TypeFullAnalysis, tasks.FullAnalysisTask{ConversationID: conv.ID}))
	require.Error(t, err)
	assert.False(t, queue.IsFatal(err))
}

func TestPreviewAnalysisPersistsNeedsRecord(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{preview: &llm.AnalysisResult{
		Preview:         true,
		ConfidenceScore: 0.4,
		Keywords:        []string{"料金"},
	}})
	conv := env.seedConversation(t, "料金について")

	err := env.processor.Handle(context.Background(),
		envelope(t, tasks.TypePreviewAnalysis, tasks.PreviewAnalysisTask{ConversationID: conv.ID}))
	require.NoError(t, err)

	analyses, err := env.repo.FindByConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	assert.Equal(t, model.AnalysisTypeNeeds, analyses[0].AnalysisType)

	events := env.publisher.events()
	require.Len(t, events, 1)
	summary := events[0].Event["analysis"].(map[string]interface{})
	// 预览摘要只携带预览字段
	assert.Contains(t, summary, "keywords")
	assert.NotContains(t, summary, "sentiment")
}

func TestPreviewAnalysisSkipsEmptyConversation(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{preview: &llm.AnalysisResult{Preview: true}})
	conv := env.seedConversation(t)

	err := env.processor.Handle(context.Background(),
		envelope(t, tasks.TypePreviewAnalysis, tasks.PreviewAnalysisTask{ConversationID: conv.ID}))
	require.NoError(t, err)
	analyses, _ := env.repo.FindByConversation(context.Background(), conv.ID)
	assert.Empty(t, analyses)
}

func TestAssistantReplySubmitsThroughMessageService(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{reply: "お問い合わせありがとうございます。"})
	conv := env.seedConversation(t, "こんにちは")

	err := env.processor.Handle(context.Background(),
		envelope(t, tasks.TypeAssistantReply, tasks.AssistantReplyTask{ConversationID: conv.ID, UserMessageID: 1}))
	require.NoError(t, err)

	require.Len(t, env.messageSvc.calls, 1)
	assert.Equal(t, model.RoleAssistant, env.messageSvc.calls[0].Role)
	assert.Equal(t, "お問い合わせありがとうございます。", env.messageSvc.calls[0].Content)
}

func TestAssistantReplyFailureWritesErrorPlaceholder(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{err: assert.AnError})
	conv := env.seedConversation(t, "こんにちは")

	err := env.processor.Handle(context.Background(),
		envelope(t, tasks.TypeAssistantReply, tasks.AssistantReplyTask{ConversationID: conv.ID, UserMessageID: 1}))
	require.NoError(t, err)

	messages, err := env.msgRepo.FindByConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	placeholder := messages[1]
	assert.True(t, placeholder.ErrorResponse)
	assert.Equal(t, model.RoleAssistant, placeholder.Role)
	require.NotNil(t, placeholder.OriginalMessageID)
	assert.Equal(t, uint(1), *placeholder.OriginalMessageID)

	// 占位消息也要广播
	events := env.publisher.events()
	require.Len(t, events, 1)
	assert.Equal(t, hub.EventNewMessage, events[0].Event.Type())
}

func TestAssistantReplyPlaceholderConflictIsIdempotent(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{err: assert.AnError})
	conv := env.seedConversation(t, "こんにちは")

	// 模拟唯一索引冲突：写入失败但任务成功结束
	env.msgRepo.failNext = gorm.ErrDuplicatedKey
	err := env.processor.Handle(context.Background(),
		envelope(t, tasks.TypeAssistantReply, tasks.AssistantReplyTask{ConversationID: conv.ID, UserMessageID: 1}))
	assert.NoError(t, err)
	assert.Empty(t, env.publisher.events())
}

func TestEscalationTaskDelegatesToService(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{})

	err := env.processor.Handle(context.Background(),
		envelope(t, tasks.TypeEscalation, tasks.EscalationTask{AnalysisID: 5, Channel: service.ChannelSlack, Forced: true}))
	require.NoError(t, err)
	require.Len(t, env.escalation.calls, 1)
	assert.Equal(t, notifyCall{AnalysisID: 5, Channel: service.ChannelSlack, Forced: true}, env.escalation.calls[0])
}

func TestEscalationUnknownAnalysisIsFatal(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{})
	env.escalation.err = apperr.ErrNotFound

	err := env.processor.Handle(context.Background(),
		envelope(t, tasks.TypeEscalation, tasks.EscalationTask{AnalysisID: 99, Channel: service.ChannelAll}))
	assert.True(t, queue.IsFatal(err))
}

func TestUnknownTaskTypeIsFatal(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{})
	err := env.processor.Handle(context.Background(), tasks.Envelope{Type: "bogus", Payload: []byte("{}")})
	assert.True(t, queue.IsFatal(err))
}

func TestOnExhaustedPublishesAnalysisError(t *testing.T) {
	env := newProcessorTestEnv(t, &stubLLM{})

	env.processor.OnExhausted(
		envelope(t, tasks.TypeFullAnalysis, tasks.FullAnalysisTask{ConversationID: 3}), assert.AnError)

	events := env.publisher.events()
	require.Len(t, events, 1)
	assert.Equal(t, uint(3), events[0].ConversationID)
	assert.Equal(t, hub.EventAnalysisError, events[0].Event.Type())

	// 其他任务类型耗尽时不广播
	env.processor.OnExhausted(
		envelope(t, tasks.TypeAssistantReply, tasks.AssistantReplyTask{ConversationID: 3}), assert.AnError)
	assert.Len(t, env.publisher.events(), 1)
}

func TestFormatSummary(t *testing.T) {
	full := FormatSummary(&llm.AnalysisResult{
		Sentiment:       model.SentimentFrustrated,
		ConfidenceScore: 0.8,
		HiddenNeeds:     []string{"解約の不安"},
		PriorityLevel:   model.PriorityHigh,
	})
	assert.Equal(t, model.SentimentFrustrated, full["sentiment"])
	assert.Equal(t, model.PriorityHigh, full["priority_level"])
	assert.NotContains(t, full, "keywords")

	preview := FormatSummary(&llm.AnalysisResult{
		Preview:         true,
		ConfidenceScore: 0.5,
		Keywords:        []string{"料金", "プラン"},
	})
	assert.Equal(t, []string{"料金", "プラン"}, preview["keywords"])
	assert.NotContains(t, preview, "sentiment")
}
