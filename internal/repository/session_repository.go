package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// 访客会话映射的保留时长，超时后回退到 MySQL 的 session_id 唯一索引查询。
const sessionMappingTTL = 7 * 24 * time.Hour

// SessionRepository 定义了访客会话与当前会话 ID 映射的缓存操作。
type SessionRepository interface {
	GetConversationID(ctx context.Context, sessionID string) (uint, error)
	SetConversationID(ctx context.Context, sessionID string, conversationID uint) error
	DeleteMapping(ctx context.Context, sessionID string) error
}

type redisSessionRepository struct {
	redisClient *redis.Client
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(redisClient *redis.Client) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s:current_conversation", sessionID)
}

// GetConversationID 返回访客会话当前关联的会话 ID。
// 未命中时返回 redis.Nil。
func (r *redisSessionRepository) GetConversationID(ctx context.Context, sessionID string) (uint, error) {
	val, err := r.redisClient.Get(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse conversation id: %w", err)
	}
	return uint(id), nil
}

// SetConversationID 写入访客会话到会话 ID 的映射并刷新 TTL。
func (r *redisSessionRepository) SetConversationID(ctx context.Context, sessionID string, conversationID uint) error {
	return r.redisClient.Set(ctx, sessionKey(sessionID), conversationID, sessionMappingTTL).Err()
}

// DeleteMapping 移除访客会话的映射（会话结束时清理）。
func (r *redisSessionRepository) DeleteMapping(ctx context.Context, sessionID string) error {
	return r.redisClient.Del(ctx, sessionKey(sessionID)).Err()
}
