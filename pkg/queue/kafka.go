package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"support-chat-go/internal/config"
	"support-chat-go/pkg/log"
	"support-chat-go/pkg/tasks"
)

// KafkaClient 是 Client 接口的 Kafka 实现。
// 每个队列类别写入独立主题 <topic_prefix>.<class>。
type KafkaClient struct {
	cfg     config.KafkaConfig
	writers map[string]*kafka.Writer
}

// NewKafkaClient 初始化各队列类别的生产者。
func NewKafkaClient(cfg config.KafkaConfig) *KafkaClient {
	writers := make(map[string]*kafka.Writer)
	for _, class := range []string{ClassAnalysis, ClassCritical, ClassDefault} {
		writers[class] = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers),
			Topic:    topicName(cfg.TopicPrefix, class),
			Balancer: &kafka.LeastBytes{},
		}
	}
	log.Info("Kafka 生产者初始化成功")
	return &KafkaClient{cfg: cfg, writers: writers}
}

func topicName(prefix, class string) string {
	return fmt.Sprintf("%s.%s", prefix, class)
}

// Enqueue 将任务信封写入对应类别的主题。
func (c *KafkaClient) Enqueue(ctx context.Context, class string, env tasks.Envelope) error {
	w, ok := c.writers[class]
	if !ok {
		return fmt.Errorf("unknown queue class: %s", class)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.ID),
		Value: data,
	})
}

// Close 关闭所有生产者。
func (c *KafkaClient) Close() error {
	for _, w := range c.writers {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Consumer 消费一个队列类别的任务，按类别策略重试并落死信。
type Consumer struct {
	cfg         config.KafkaConfig
	class       string
	handler     Handler
	deadLetters DeadLetterStore
	redisClient *redis.Client
	onExhausted func(env tasks.Envelope, cause error)
}

// NewConsumer 创建一个队列消费者。
func NewConsumer(cfg config.KafkaConfig, class string, handler Handler, deadLetters DeadLetterStore, redisClient *redis.Client) *Consumer {
	return &Consumer{
		cfg:         cfg,
		class:       class,
		handler:     handler,
		deadLetters: deadLetters,
		redisClient: redisClient,
	}
}

// OnExhausted 注册一个回调：任务耗尽重试预算时触发一次。
// 分析管道用它广播 analysis_error 事件。
func (c *Consumer) OnExhausted(fn func(env tasks.Envelope, cause error)) *Consumer {
	c.onExhausted = fn
	return c
}

// Start 启动消费循环，直到 ctx 取消。
func (c *Consumer) Start(ctx context.Context) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{c.cfg.Brokers},
		Topic:    topicName(c.cfg.TopicPrefix, c.class),
		GroupID:  c.cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("队列消费者已启动，类别 '%s'", c.class)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		var env tasks.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			log.Errorf("无法解析队列消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		c.process(ctx, env)

		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// process 按类别策略执行任务：失败时按 attempt² 退避重试，
// 耗尽预算后落死信；标记为 Fatal 的错误不重试。
func (c *Consumer) process(ctx context.Context, env tasks.Envelope) {
	policy := PolicyFor(c.class)

	var lastErr error
	for {
		err := c.handler(ctx, env)
		if err == nil {
			c.clearAttempts(ctx, env.ID)
			return
		}
		lastErr = err

		if IsFatal(err) {
			log.Errorw("任务永久失败，不再重试",
				"task_id", env.ID, "task_type", env.Type, "error", err)
			c.clearAttempts(ctx, env.ID)
			return
		}

		attempt := c.bumpAttempts(ctx, env.ID)
		if attempt >= policy.MaxAttempts {
			break
		}

		delay := Backoff(attempt, err)
		log.Warnw("任务执行失败，等待重试",
			"task_id", env.ID, "task_type", env.Type,
			"attempt", attempt, "delay", delay.String(), "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	c.clearAttempts(ctx, env.ID)
	if c.onExhausted != nil {
		c.onExhausted(env, lastErr)
	}
	if policy.DeadLetter {
		log.Errorw("任务耗尽重试预算，移入死信",
			"task_id", env.ID, "task_type", env.Type, "error", lastErr)
		if err := c.deadLetters.Push(ctx, c.class, env, lastErr.Error()); err != nil {
			log.Errorf("写入死信失败: %v", err)
		}
	} else {
		// 非关键路径：失败丢弃，只记日志
		log.Warnw("任务失败已丢弃",
			"task_id", env.ID, "task_type", env.Type, "error", lastErr)
	}
}

// bumpAttempts 在 Redis 中累加任务的失败次数。
// Redis 不可用时退化为进程内计数语义（返回递增序号由调用方控制）。
func (c *Consumer) bumpAttempts(ctx context.Context, taskID string) int {
	key := "queue:attempts:" + taskID
	attempts, err := c.redisClient.Incr(ctx, key).Result()
	if err != nil {
		log.Warnf("累加任务失败次数失败: %v", err)
		return PolicyFor(c.class).MaxAttempts
	}
	_ = c.redisClient.Expire(ctx, key, 24*time.Hour).Err()
	return int(attempts)
}

func (c *Consumer) clearAttempts(ctx context.Context, taskID string) {
	_ = c.redisClient.Del(ctx, "queue:attempts:"+taskID).Err()
}
