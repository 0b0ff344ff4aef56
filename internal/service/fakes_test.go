package service

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"support-chat-go/internal/hub"
	"support-chat-go/internal/model"
	"support-chat-go/pkg/slack"
)

// 本文件提供服务层测试共用的内存假实现。

type fakeConvRepo struct {
	mu     sync.Mutex
	convs  map[uint]*model.Conversation
	nextID uint
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{convs: make(map[uint]*model.Conversation)}
}

func (r *fakeConvRepo) Create(_ context.Context, conv *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	conv.ID = r.nextID
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = conv.CreatedAt
	stored := *conv
	r.convs[conv.ID] = &stored
	return nil
}

func (r *fakeConvRepo) FindByID(_ context.Context, id uint) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *conv
	return &cp, nil
}

func (r *fakeConvRepo) FindBySessionID(_ context.Context, sessionID string) (*model.Conversation, error) {
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

func (r *fakeConvRepo) Touch(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv, ok := r.convs[id]; ok {
		conv.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeConvRepo) End(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	conv.EndedAt = &now
	return nil
}

func (r *fakeConvRepo) Resume(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	conv.EndedAt = nil
	return nil
}

func (r *fakeConvRepo) FindWithPagination(_ context.Context, offset, limit int) ([]model.Conversation, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Conversation
	for _, conv := range r.convs {
		out = append(out, *conv)
	}
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages []model.Message
	nextID   uint
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{}
}

func (r *fakeMessageRepo) Create(_ context.Context, msg *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	msg.ID = r.nextID
	msg.CreatedAt = time.Now()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *fakeMessageRepo) FindByConversation(_ context.Context, conversationID uint) ([]model.Message, error) {
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

func (r *fakeMessageRepo) CountByRole(_ context.Context, conversationID uint, role string) (int64, error) {
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

type fakeAnalysisRepo struct {
	mu       sync.Mutex
	analyses map[uint]*model.Analysis
	nextID   uint
}

func newFakeAnalysisRepo() *fakeAnalysisRepo {
	return &fakeAnalysisRepo{analyses: make(map[uint]*model.Analysis)}
}

func (r *fakeAnalysisRepo) Create(_ context.Context, analysis *model.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	analysis.ID = r.nextID
	stored := *analysis
	r.analyses[analysis.ID] = &stored
	return nil
}

func (r *fakeAnalysisRepo) FindByID(_ context.Context, id uint) (*model.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.analyses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAnalysisRepo) FindByConversation(_ context.Context, conversationID uint) ([]model.Analysis, error) {
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

// MarkEscalated 复刻真实实现的幂等语义：只有第一次调用发生状态迁移。
func (r *fakeAnalysisRepo) MarkEscalated(_ context.Context, id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.analyses[id]
	if !ok {
		return false, nil
	}
	if a.Escalated {
		return false, nil
	}
	a.Escalated = true
	now := time.Now()
	a.EscalatedAt = &now
	return true, nil
}

// published 记录一次会话主题的广播。
type published struct {
	ConversationID uint
	Event          hub.Event
}

type recordingPublisher struct {
	mu        sync.Mutex
	topic     []published
	dashboard []hub.Event
}

func (p *recordingPublisher) Publish(conversationID uint, event hub.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = append(p.topic, published{ConversationID: conversationID, Event: event})
}

func (p *recordingPublisher) PublishDashboard(event hub.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dashboard = append(p.dashboard, event)
}

func (p *recordingPublisher) topicEvents() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.topic))
	copy(out, p.topic)
	return out
}

func (p *recordingPublisher) dashboardEvents() []hub.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]hub.Event, len(p.dashboard))
	copy(out, p.dashboard)
	return out
}

type recordingSlack struct {
	mu       sync.Mutex
	payloads []slack.Payload
	err      error
}

func (s *recordingSlack) Post(_ context.Context, payload slack.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSlack) sent() []slack.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]slack.Payload, len(s.payloads))
	copy(out, s.payloads)
	return out
}

type recordingMail struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (m *recordingMail) Send(subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.subjects = append(m.subjects, subject)
	return nil
}
