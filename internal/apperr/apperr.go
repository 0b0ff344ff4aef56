// Package apperr 定义了核心错误分类。
// 同步路径（消息入口、订阅）把这些错误直接返给调用方；
// 异步路径依据分类决定重试或终止。
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound 表示引用的会话/分析不存在。永久失败，不重试。
var ErrNotFound = errors.New("resource not found")

// ErrUnauthorized 表示调用方无权操作该会话。拒绝操作，不视为崩溃。
var ErrUnauthorized = errors.New("unauthorized")

// ValidationError 表示字段级的输入校验失败，带字段到原因的映射。
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError 创建一个单字段的校验错误。
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, reason := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, reason))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidation 判断错误是否为校验错误，并返回字段映射。
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
