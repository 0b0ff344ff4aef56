package service

import (
	"context"
	"sync"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat-go/internal/apperr"
	"support-chat-go/internal/model"
	"support-chat-go/pkg/queue"
	"support-chat-go/pkg/tasks"
)

// fakeSessionRepo 用内存 map 模拟 Redis 的会话映射。
type fakeSessionRepo struct {
	mu       sync.Mutex
	mappings map[string]uint
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{mappings: make(map[string]uint)}
}

func (r *fakeSessionRepo) GetConversationID(_ context.Context, sessionID string) (uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.mappings[sessionID]
	if !ok {
		return 0, redis.Nil
	}
	return id, nil
}

func (r *fakeSessionRepo) SetConversationID(_ context.Context, sessionID string, conversationID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[sessionID] = conversationID
	return nil
}

func (r *fakeSessionRepo) DeleteMapping(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mappings, sessionID)
	return nil
}

type conversationTestEnv struct {
	svc         ConversationService
	convRepo    *fakeConvRepo
	msgRepo     *fakeMessageRepo
	sessionRepo *fakeSessionRepo
	queue       *queue.MemoryClient
}

func newConversationTestEnv(t *testing.T) *conversationTestEnv {
	t.Helper()
	env := &conversationTestEnv{
		convRepo:    newFakeConvRepo(),
		msgRepo:     newFakeMessageRepo(),
		sessionRepo: newFakeSessionRepo(),
		queue:       queue.NewMemoryClient(),
	}
	env.svc = NewConversationService(env.convRepo, env.msgRepo, env.sessionRepo, env.queue)
	return env
}

func TestStartOrResumeCreatesConversation(t *testing.T) {
	env := newConversationTestEnv(t)
	sess := model.SessionContext{SessionID: "sess-1"}

	conv, err := env.svc.StartOrResume(context.Background(), sess,
		map[string]interface{}{"category": "support"})
	require.NoError(t, err)
	assert.NotZero(t, conv.ID)
	assert.Equal(t, "sess-1", conv.SessionID)
	assert.True(t, conv.Active())
	assert.Contains(t, string(conv.Metadata), "support")

	// 映射写入缓存
	id, err := env.sessionRepo.GetConversationID(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, id)
}

func TestStartOrResumeReturnsExistingConversation(t *testing.T) {
	env := newConversationTestEnv(t)
	sess := model.SessionContext{SessionID: "sess-1"}

	first, err := env.svc.StartOrResume(context.Background(), sess, nil)
	require.NoError(t, err)
	second, err := env.svc.StartOrResume(context.Background(), sess, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestStartOrResumeFallsBackToDatabase(t *testing.T) {
	env := newConversationTestEnv(t)
	sess := model.SessionContext{SessionID: "sess-1"}

	first, err := env.svc.StartOrResume(context.Background(), sess, nil)
	require.NoError(t, err)

	// 缓存映射丢失后仍能通过 session_id 唯一索引恢复
	require.NoError(t, env.sessionRepo.DeleteMapping(context.Background(), "sess-1"))
	second, err := env.svc.StartOrResume(context.Background(), sess, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestStartOrResumeRequiresSessionID(t *testing.T) {
	env := newConversationTestEnv(t)
	_, err := env.svc.StartOrResume(context.Background(), model.SessionContext{}, nil)
	_, ok := apperr.IsValidation(err)
	assert.True(t, ok)
}

func TestEndMarksInactiveAndEnqueuesArchive(t *testing.T) {
	env := newConversationTestEnv(t)
	sess := model.SessionContext{SessionID: "sess-1"}
	conv, err := env.svc.StartOrResume(context.Background(), sess, nil)
	require.NoError(t, err)

	require.NoError(t, env.svc.End(context.Background(), conv.ID, sess))

	stored, err := env.convRepo.FindByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active())

	// 会话映射被清理，下次 StartOrResume 走数据库回退
	_, err = env.sessionRepo.GetConversationID(context.Background(), "sess-1")
	assert.ErrorIs(t, err, redis.Nil)

	archives := env.queue.ByType(tasks.TypeArchive)
	require.Len(t, archives, 1)
	assert.Equal(t, queue.ClassDefault, archives[0].Class)
}

func TestEndArchiveFailureIsBestEffort(t *testing.T) {
	env := newConversationTestEnv(t)
	sess := model.SessionContext{SessionID: "sess-1"}
	conv, err := env.svc.StartOrResume(context.Background(), sess, nil)
	require.NoError(t, err)

	env.queue.FailWith(tasks.TypeArchive, assert.AnError)
	assert.NoError(t, env.svc.End(context.Background(), conv.ID, sess))
}

func TestResumeReopensConversation(t *testing.T) {
	env := newConversationTestEnv(t)
	sess := model.SessionContext{SessionID: "sess-1"}
	conv, err := env.svc.StartOrResume(context.Background(), sess, nil)
	require.NoError(t, err)

	require.NoError(t, env.svc.End(context.Background(), conv.ID, sess))
	require.NoError(t, env.svc.Resume(context.Background(), conv.ID, sess))

	stored, err := env.convRepo.FindByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active())
}

func TestAuthorizeMapsOwnership(t *testing.T) {
	env := newConversationTestEnv(t)
	sess := model.SessionContext{SessionID: "sess-1"}
	conv, err := env.svc.StartOrResume(context.Background(), sess, nil)
	require.NoError(t, err)

	assert.NoError(t, env.svc.Authorize(context.Background(), conv.ID, sess))
	assert.ErrorIs(t, env.svc.Authorize(context.Background(), conv.ID,
		model.SessionContext{SessionID: "sess-other"}), apperr.ErrUnauthorized)
	assert.NoError(t, env.svc.Authorize(context.Background(), conv.ID,
		model.SessionContext{Admin: true}))
	assert.ErrorIs(t, env.svc.Authorize(context.Background(), 999, sess), apperr.ErrNotFound)
}
