// Package queue 提供了基于 Kafka 的任务队列：
// 按队列类别划分主题，消费侧带重试/退避与死信。
package queue

import (
	"context"
	"errors"

	"support-chat-go/pkg/tasks"
)

// 队列类别。每个类别有独立的主题与重试策略。
const (
	ClassAnalysis = "analysis"
	ClassCritical = "critical"
	ClassDefault  = "default"
)

// Client 是生产侧的入队接口。
// 服务层只依赖这个接口，测试用 MemoryClient 替换。
type Client interface {
	Enqueue(ctx context.Context, class string, env tasks.Envelope) error
}

// Handler 处理一个已解码的任务信封。
type Handler func(ctx context.Context, env tasks.Envelope) error

// fatalError 标记不可重试的任务失败（例如会话不存在）。
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal 将错误标记为永久失败：消费侧不再重试，也不进入死信。
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal 判断错误是否被标记为永久失败。
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
