package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat-go/internal/apperr"
	"support-chat-go/internal/config"
	"support-chat-go/internal/hub"
	"support-chat-go/internal/model"
)

type escalationTestEnv struct {
	svc       EscalationService
	repo      *fakeAnalysisRepo
	publisher *recordingPublisher
	slack     *recordingSlack
	mail      *recordingMail
}

func newEscalationTestEnv(t *testing.T, channels ...string) *escalationTestEnv {
	t.Helper()
	env := &escalationTestEnv{
		repo:      newFakeAnalysisRepo(),
		publisher: &recordingPublisher{},
		slack:     &recordingSlack{},
		mail:      &recordingMail{},
	}
	env.svc = NewEscalationService(env.repo, env.publisher, env.slack, env.mail,
		config.EscalationConfig{Channels: channels})
	return env
}

func (e *escalationTestEnv) newAnalysis(t *testing.T, priority, sentiment string) *model.Analysis {
	t.Helper()
	a := &model.Analysis{ConversationID: 1, AnalysisType: model.AnalysisTypeSentiment}
	if priority != "" {
		a.PriorityLevel = &priority
	}
	if sentiment != "" {
		a.Sentiment = &sentiment
	}
	require.NoError(t, e.repo.Create(context.Background(), a))
	return a
}

func TestNotifyDashboardPublishesEscalationEvent(t *testing.T) {
	env := newEscalationTestEnv(t)
	a := env.newAnalysis(t, model.PriorityUrgent, model.SentimentFrustrated)

	require.NoError(t, env.svc.Notify(context.Background(), a.ID, ChannelDashboard, false))

	events := env.publisher.dashboardEvents()
	require.Len(t, events, 1)
	assert.Equal(t, hub.EventNewEscalation, events[0].Type())
	assert.Equal(t, a.ID, events[0]["analysis_id"])
	assert.Equal(t, model.PriorityUrgent, events[0]["priority"])
	assert.ElementsMatch(t, []string{"priority_urgent", "sentiment_frustrated"}, events[0]["reasons"])

	stored, err := env.repo.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, stored.Escalated)
	assert.NotNil(t, stored.EscalatedAt)
}

func TestNotifyIsIdempotentOnTransition(t *testing.T) {
	env := newEscalationTestEnv(t)
	a := env.newAnalysis(t, model.PriorityUrgent, "")

	require.NoError(t, env.svc.Notify(context.Background(), a.ID, ChannelDashboard, false))
	first, err := env.repo.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	firstAt := first.EscalatedAt

	// 再通知一次：事件照常广播，升级时间戳不被改写
	require.NoError(t, env.svc.Notify(context.Background(), a.ID, ChannelDashboard, true))
	assert.Len(t, env.publisher.dashboardEvents(), 2)

	second, err := env.repo.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, firstAt, second.EscalatedAt)
}

func TestNotifySkippedWhenNotRequired(t *testing.T) {
	env := newEscalationTestEnv(t)
	a := env.newAnalysis(t, model.PriorityMedium, model.SentimentNeutral)

	require.NoError(t, env.svc.Notify(context.Background(), a.ID, ChannelAll, false))

	assert.Empty(t, env.publisher.dashboardEvents())
	assert.Empty(t, env.slack.sent())

	stored, err := env.repo.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, stored.Escalated)
}

func TestNotifyForcedBypassesGate(t *testing.T) {
	env := newEscalationTestEnv(t)
	a := env.newAnalysis(t, model.PriorityMedium, model.SentimentNeutral)

	require.NoError(t, env.svc.Notify(context.Background(), a.ID, ChannelSlack, true))

	sent := env.slack.sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Attachments, 1)
	assert.Equal(t, "good", sent[0].Attachments[0].Color)
}

func TestNotifyAllFansOutToEveryChannel(t *testing.T) {
	env := newEscalationTestEnv(t)
	a := env.newAnalysis(t, model.PriorityHigh, model.SentimentNegative)

	require.NoError(t, env.svc.Notify(context.Background(), a.ID, ChannelAll, false))

	assert.Len(t, env.publisher.dashboardEvents(), 1)
	sent := env.slack.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "warning", sent[0].Attachments[0].Color)
	assert.Len(t, env.mail.subjects, 1)
}

func TestNotifyAllHonorsConfiguredChannels(t *testing.T) {
	env := newEscalationTestEnv(t, ChannelDashboard, ChannelSlack)
	a := env.newAnalysis(t, model.PriorityHigh, model.SentimentNegative)

	require.NoError(t, env.svc.Notify(context.Background(), a.ID, ChannelAll, false))

	// 未启用的邮件渠道不应被触达
	assert.Len(t, env.publisher.dashboardEvents(), 1)
	assert.Len(t, env.slack.sent(), 1)
	assert.Empty(t, env.mail.subjects)

	stored, err := env.repo.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, stored.Escalated)
}

func TestNotifySlackFailureIsSwallowed(t *testing.T) {
	env := newEscalationTestEnv(t)
	env.slack.err = assert.AnError
	a := env.newAnalysis(t, model.PriorityUrgent, "")

	// chat-ops 投递失败不向上传播，重试交给队列策略
	require.NoError(t, env.svc.Notify(context.Background(), a.ID, ChannelSlack, false))
}

func TestNotifyMailFailurePropagates(t *testing.T) {
	env := newEscalationTestEnv(t)
	env.mail.err = assert.AnError
	a := env.newAnalysis(t, model.PriorityUrgent, "")

	err := env.svc.Notify(context.Background(), a.ID, ChannelEmail, false)
	assert.ErrorIs(t, err, assert.AnError)

	// 通知失败时不应发生升级状态迁移
	stored, ferr := env.repo.FindByID(context.Background(), a.ID)
	require.NoError(t, ferr)
	assert.False(t, stored.Escalated)
}

func TestNotifyUnknownAnalysis(t *testing.T) {
	env := newEscalationTestEnv(t)
	err := env.svc.Notify(context.Background(), 999, ChannelDashboard, false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestNotifyRejectsUnknownChannel(t *testing.T) {
	env := newEscalationTestEnv(t)
	a := env.newAnalysis(t, model.PriorityUrgent, "")

	err := env.svc.Notify(context.Background(), a.ID, "pager", false)
	_, ok := apperr.IsValidation(err)
	assert.True(t, ok)
}

func TestPriorityColorMapping(t *testing.T) {
	assert.Equal(t, "danger", priorityColor(model.PriorityUrgent))
	assert.Equal(t, "warning", priorityColor(model.PriorityHigh))
	assert.Equal(t, "good", priorityColor(model.PriorityMedium))
	assert.Equal(t, "#cccccc", priorityColor(model.PriorityLow))
	assert.Equal(t, "#cccccc", priorityColor(""))
}
