// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"support-chat-go/internal/model"
)

// ConversationRepository 定义了会话记录的持久化操作。
type ConversationRepository interface {
	Create(ctx context.Context, conv *model.Conversation) error
	FindByID(ctx context.Context, id uint) (*model.Conversation, error)
	FindBySessionID(ctx context.Context, sessionID string) (*model.Conversation, error)
	Touch(ctx context.Context, id uint) error
	End(ctx context.Context, id uint) error
	Resume(ctx context.Context, id uint) error
	FindWithPagination(ctx context.Context, offset, limit int) ([]model.Conversation, int64, error)
}

// conversationRepository 是 ConversationRepository 接口的 GORM 实现。
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// Create 在数据库中创建一条新的会话记录。
// session_id 的唯一约束由数据库保证，冲突时返回底层错误。
func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

// FindByID 根据会话 ID 查找一条会话记录。
func (r *conversationRepository) FindByID(ctx context.Context, id uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).First(&conv, id).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindBySessionID 根据访客会话 ID 查找会话，用于匿名会话恢复。
func (r *conversationRepository) FindBySessionID(ctx context.Context, sessionID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Touch 更新会话的 updated_at 时间戳。
// 这是消息写入后的 best-effort 操作，失败由调用方记录日志。
func (r *conversationRepository) Touch(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// End 将会话标记为已结束（单行原子更新）。
func (r *conversationRepository) End(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("ended_at", &now).Error
}

// Resume 清除 ended_at，使会话重新进入活跃状态。
func (r *conversationRepository) Resume(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("ended_at", nil).Error
}

// FindWithPagination 分页检索会话记录，供管理端使用。
func (r *conversationRepository) FindWithPagination(ctx context.Context, offset, limit int) ([]model.Conversation, int64, error) {
	var convs []model.Conversation
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Conversation{})

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("updated_at DESC").Offset(offset).Limit(limit).Find(&convs).Error
	if err != nil {
		return nil, 0, err
	}

	return convs, total, nil
}
