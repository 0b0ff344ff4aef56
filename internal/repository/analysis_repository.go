package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"support-chat-go/internal/model"
)

// AnalysisRepository 定义了分析记录的持久化操作。
type AnalysisRepository interface {
	Create(ctx context.Context, analysis *model.Analysis) error
	FindByID(ctx context.Context, id uint) (*model.Analysis, error)
	FindByConversation(ctx context.Context, conversationID uint) ([]model.Analysis, error)
	MarkEscalated(ctx context.Context, id uint) (bool, error)
}

// analysisRepository 是 AnalysisRepository 接口的 GORM 实现。
type analysisRepository struct {
	db *gorm.DB
}

// NewAnalysisRepository 创建一个新的 AnalysisRepository 实例。
func NewAnalysisRepository(db *gorm.DB) AnalysisRepository {
	return &analysisRepository{db: db}
}

// Create 在数据库中创建一条新的分析记录。
// 同一会话允许存在多条分析记录，重复执行分析不做去重。
func (r *analysisRepository) Create(ctx context.Context, analysis *model.Analysis) error {
	return r.db.WithContext(ctx).Create(analysis).Error
}

// FindByID 根据分析 ID 查找一条分析记录。
func (r *analysisRepository) FindByID(ctx context.Context, id uint) (*model.Analysis, error) {
	var analysis model.Analysis
	err := r.db.WithContext(ctx).First(&analysis, id).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// FindByConversation 返回会话的全部分析记录（新到旧）。
func (r *analysisRepository) FindByConversation(ctx context.Context, conversationID uint) ([]model.Analysis, error) {
	var analyses []model.Analysis
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Find(&analyses).Error
	return analyses, err
}

// MarkEscalated 将分析标记为已升级。
// 通过 WHERE escalated = false 的单行条件更新实现幂等：
// 已升级的记录不会被二次写入 escalated_at，返回 false 表示本次未发生状态迁移。
func (r *analysisRepository) MarkEscalated(ctx context.Context, id uint) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&model.Analysis{}).
		Where("id = ? AND escalated = ?", id, false).
		Updates(map[string]interface{}{
			"escalated":    true,
			"escalated_at": &now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
