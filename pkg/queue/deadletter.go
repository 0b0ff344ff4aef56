package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"support-chat-go/pkg/tasks"
)

// DeadLetterStore 保存耗尽重试预算的任务，供人工检查。
type DeadLetterStore interface {
	Push(ctx context.Context, class string, env tasks.Envelope, reason string) error
}

// deadLetterEntry 是死信存储中的一条记录。
type deadLetterEntry struct {
	Envelope tasks.Envelope `json:"envelope"`
	Class    string         `json:"class"`
	Reason   string         `json:"reason"`
}

type redisDeadLetterStore struct {
	redisClient *redis.Client
}

// NewDeadLetterStore 创建一个基于 Redis 列表的死信存储。
func NewDeadLetterStore(redisClient *redis.Client) DeadLetterStore {
	return &redisDeadLetterStore{redisClient: redisClient}
}

// Push 将任务追加到 deadletter:<class> 列表。
func (s *redisDeadLetterStore) Push(ctx context.Context, class string, env tasks.Envelope, reason string) error {
	entry := deadLetterEntry{Envelope: env, Class: class, Reason: reason}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter entry: %w", err)
	}
	return s.redisClient.LPush(ctx, "deadletter:"+class, data).Err()
}
