package queue

import (
	"context"
	"errors"
	"net"
	"time"
)

// RetryPolicy 描述一个队列类别的重试行为。
type RetryPolicy struct {
	MaxAttempts int
	// DeadLetter 为 false 时，耗尽重试的任务直接丢弃（只记日志）。
	DeadLetter bool
}

// 各队列类别的策略。
// analysis：最多 5 次，退避按 attempt² 放大，超时类错误基数 30s，其余 10s；
// critical：最多 10 次；default：不重试，失败即丢弃。
var policies = map[string]RetryPolicy{
	ClassAnalysis: {MaxAttempts: 5, DeadLetter: true},
	ClassCritical: {MaxAttempts: 10, DeadLetter: true},
	ClassDefault:  {MaxAttempts: 1, DeadLetter: false},
}

// PolicyFor 返回队列类别对应的重试策略，未知类别按 default 处理。
func PolicyFor(class string) RetryPolicy {
	if p, ok := policies[class]; ok {
		return p
	}
	return policies[ClassDefault]
}

const (
	timeoutBackoffBase = 30 * time.Second
	defaultBackoffBase = 10 * time.Second
)

// Backoff 计算第 attempt 次失败后的重试间隔（attempt 从 1 开始）。
// 超时类错误通常意味着外部依赖过载，给更长的间隔。
func Backoff(attempt int, err error) time.Duration {
	base := defaultBackoffBase
	if IsTimeout(err) {
		base = timeoutBackoffBase
	}
	return time.Duration(attempt*attempt) * base
}

// IsTimeout 判断错误是否属于超时/网络超时一类。
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
