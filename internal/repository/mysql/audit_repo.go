package mysql

import (
	"context"

	"gorm.io/gorm"

	"github.com/example/teaminbox/internal/datamodels/audit"
)

type auditRepo struct {
	db *gorm.DB
}

// NewAuditRepository 创建审计仓储
func NewAuditRepository(db *gorm.DB) audit.Repository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Create(ctx context.Context, rec *audit.Record) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *auditRepo) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*audit.Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var list []*audit.Record
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
