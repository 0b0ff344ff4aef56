// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"support-chat-go/internal/apperr"
	"support-chat-go/internal/model"
	"support-chat-go/internal/repository"
	"support-chat-go/pkg/log"
	"support-chat-go/pkg/queue"
	"support-chat-go/pkg/tasks"
)

// ConversationService 定义了会话生命周期的业务操作。
type ConversationService interface {
	// StartOrResume 按访客会话 ID 恢复已有会话，不存在则创建。
	StartOrResume(ctx context.Context, sess model.SessionContext, metadata map[string]interface{}) (*model.Conversation, error)
	Get(ctx context.Context, conversationID uint, sess model.SessionContext) (*model.Conversation, error)
	Messages(ctx context.Context, conversationID uint, sess model.SessionContext) ([]model.Message, error)
	End(ctx context.Context, conversationID uint, sess model.SessionContext) error
	Resume(ctx context.Context, conversationID uint, sess model.SessionContext) error
	ListAll(ctx context.Context, offset, limit int) ([]model.Conversation, int64, error)

	// Authorize 实现 hub.Authorizer：校验身份能否订阅该会话的主题。
	Authorize(ctx context.Context, conversationID uint, sess model.SessionContext) error
}

type conversationService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	sessionRepo repository.SessionRepository
	queueClient queue.Client
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	sessionRepo repository.SessionRepository,
	queueClient queue.Client,
) ConversationService {
	return &conversationService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		sessionRepo: sessionRepo,
		queueClient: queueClient,
	}
}

// StartOrResume 恢复或创建会话。
// 先查 Redis 的会话映射，未命中时回退到 session_id 唯一索引。
func (s *conversationService) StartOrResume(ctx context.Context, sess model.SessionContext, metadata map[string]interface{}) (*model.Conversation, error) {
	if sess.SessionID == "" {
		return nil, apperr.NewValidationError("session_id", "セッション ID は必須です")
	}

	if convID, err := s.sessionRepo.GetConversationID(ctx, sess.SessionID); err == nil {
		if conv, ferr := s.convRepo.FindByID(ctx, convID); ferr == nil {
			return conv, nil
		}
	} else if err != redis.Nil {
		log.Warnf("读取会话映射失败: %v", err)
	}

	conv, err := s.convRepo.FindBySessionID(ctx, sess.SessionID)
	if err == nil {
		s.cacheMapping(ctx, sess.SessionID, conv.ID)
		return conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conv = &model.Conversation{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
	}
	if len(metadata) > 0 {
		raw, merr := json.Marshal(metadata)
		if merr != nil {
			return nil, apperr.NewValidationError("metadata", "メタデータを解析できません")
		}
		conv.Metadata = raw
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, err
	}
	s.cacheMapping(ctx, sess.SessionID, conv.ID)
	return conv, nil
}

func (s *conversationService) cacheMapping(ctx context.Context, sessionID string, conversationID uint) {
	if err := s.sessionRepo.SetConversationID(ctx, sessionID, conversationID); err != nil {
		log.Warnf("写入会话映射失败: %v", err)
	}
}

// Get 返回身份有权访问的会话。
func (s *conversationService) Get(ctx context.Context, conversationID uint, sess model.SessionContext) (*model.Conversation, error) {
	return s.resolveAuthorized(ctx, conversationID, sess)
}

// Messages 返回会话内的全部消息。
func (s *conversationService) Messages(ctx context.Context, conversationID uint, sess model.SessionContext) ([]model.Message, error) {
	if _, err := s.resolveAuthorized(ctx, conversationID, sess); err != nil {
		return nil, err
	}
	return s.messageRepo.FindByConversation(ctx, conversationID)
}

// End 显式结束会话并触发归档任务。
func (s *conversationService) End(ctx context.Context, conversationID uint, sess model.SessionContext) error {
	conv, err := s.resolveAuthorized(ctx, conversationID, sess)
	if err != nil {
		return err
	}
	if err := s.convRepo.End(ctx, conversationID); err != nil {
		return err
	}
	if err := s.sessionRepo.DeleteMapping(ctx, conv.SessionID); err != nil {
		log.Warnf("清理会话映射失败: %v", err)
	}

	env, err := tasks.NewEnvelope(tasks.TypeArchive, tasks.ArchiveTask{ConversationID: conversationID})
	if err == nil {
		err = s.queueClient.Enqueue(ctx, queue.ClassDefault, env)
	}
	if err != nil {
		// 归档是 best-effort：失败不影响会话结束
		log.Warnf("归档任务入队失败: conversation=%d, err=%v", conversationID, err)
	}
	return nil
}

// Resume 显式恢复一个已结束的会话。
func (s *conversationService) Resume(ctx context.Context, conversationID uint, sess model.SessionContext) error {
	conv, err := s.resolveAuthorized(ctx, conversationID, sess)
	if err != nil {
		return err
	}
	if err := s.convRepo.Resume(ctx, conversationID); err != nil {
		return err
	}
	s.cacheMapping(ctx, conv.SessionID, conv.ID)
	return nil
}

// ListAll 分页返回全部会话，供管理端使用。
func (s *conversationService) ListAll(ctx context.Context, offset, limit int) ([]model.Conversation, int64, error) {
	return s.convRepo.FindWithPagination(ctx, offset, limit)
}

// Authorize 实现 hub.Authorizer。
func (s *conversationService) Authorize(ctx context.Context, conversationID uint, sess model.SessionContext) error {
	_, err := s.resolveAuthorized(ctx, conversationID, sess)
	return err
}

// resolveAuthorized 解析会话并校验归属：
// 会话所有者（匹配的访客会话 ID 或用户 ID）或管理员。
func (s *conversationService) resolveAuthorized(ctx context.Context, conversationID uint, sess model.SessionContext) (*model.Conversation, error) {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if !sess.Owns(conv) {
		return nil, apperr.ErrUnauthorized
	}
	return conv, nil
}
