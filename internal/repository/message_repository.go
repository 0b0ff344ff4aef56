package repository

import (
	"context"

	"gorm.io/gorm"

	"support-chat-go/internal/model"
)

// MessageRepository 定义了消息记录的持久化操作。
type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	FindByConversation(ctx context.Context, conversationID uint) ([]model.Message, error)
	CountByRole(ctx context.Context, conversationID uint, role string) (int64, error)
}

// messageRepository 是 MessageRepository 接口的 GORM 实现。
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create 在数据库中创建一条新的消息记录。
func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// FindByConversation 按创建顺序返回会话内的全部消息。
func (r *messageRepository) FindByConversation(ctx context.Context, conversationID uint) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	return msgs, err
}

// CountByRole 统计会话内某一角色的消息数量。
// 首条用户消息与预览窗口的判定都基于这个计数。
func (r *messageRepository) CountByRole(ctx context.Context, conversationID uint, role string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND role = ?", conversationID, role).
		Count(&count).Error
	return count, err
}
