package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/example/teaminbox/internal/datamodels/staffnote"
)

type staffNoteRepo struct {
	db *gorm.DB
}

// NewStaffNoteRepository 创建备注仓储
func NewStaffNoteRepository(db *gorm.DB) staffnote.Repository {
	return &staffNoteRepo{db: db}
}

func (r *staffNoteRepo) Create(ctx context.Context, n *staffnote.Note) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *staffNoteRepo) GetByID(ctx context.Context, id int64) (*staffnote.Note, error) {
	var n staffnote.Note
	if err := r.db.WithContext(ctx).First(&n, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (r *staffNoteRepo) Update(ctx context.Context, n *staffnote.Note) error {
	return r.db.WithContext(ctx).Save(n).Error
}

func (r *staffNoteRepo) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&staffnote.Note{}, id).Error
}

func (r *staffNoteRepo) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*staffnote.Note, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var list []*staffnote.Note
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
