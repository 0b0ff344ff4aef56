package queue

import (
	"context"
	"sync"

	"support-chat-go/pkg/tasks"
)

// Enqueued 记录一次入队调用。
type Enqueued struct {
	Class    string
	Envelope tasks.Envelope
}

// MemoryClient 是测试用的内存队列实现。
// 它记录全部入队调用，并可以按任务类型注入入队失败。
type MemoryClient struct {
	mu       sync.Mutex
	enqueued []Enqueued
	failures map[string]error
	failFunc func(class string, env tasks.Envelope) error
}

// NewMemoryClient 创建一个内存队列。
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{failures: make(map[string]error)}
}

// Enqueue 记录入队调用；若任务类型被注入失败则返回对应错误。
func (c *MemoryClient) Enqueue(_ context.Context, class string, env tasks.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failures[env.Type]; ok {
		return err
	}
	if c.failFunc != nil {
		if err := c.failFunc(class, env); err != nil {
			return err
		}
	}
	c.enqueued = append(c.enqueued, Enqueued{Class: class, Envelope: env})
	return nil
}

// SetFailFunc 注入一个入队失败判定函数，返回非 nil 时入队失败。
func (c *MemoryClient) SetFailFunc(fn func(class string, env tasks.Envelope) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failFunc = fn
}

// FailWith 注入：之后对该任务类型的入队调用都返回 err。
func (c *MemoryClient) FailWith(taskType string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[taskType] = err
}

// All 返回已记录的全部入队调用。
func (c *MemoryClient) All() []Enqueued {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Enqueued, len(c.enqueued))
	copy(out, c.enqueued)
	return out
}

// ByType 返回指定任务类型的入队调用。
func (c *MemoryClient) ByType(taskType string) []Enqueued {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Enqueued
	for _, e := range c.enqueued {
		if e.Envelope.Type == taskType {
			out = append(out, e)
		}
	}
	return out
}
