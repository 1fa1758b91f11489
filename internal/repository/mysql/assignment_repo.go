package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/teaminbox/internal/datamodels/assignment"
)

type assignmentRepo struct {
	db *gorm.DB
}

// NewAssignmentRepository 创建归属仓储
func NewAssignmentRepository(db *gorm.DB) assignment.Repository {
	return &assignmentRepo{db: db}
}

// ActiveForUpdate 在事务内用 FOR UPDATE 锁定当前活跃归属行。
// 没有活跃行时锁不到任何东西（间隙锁互相兼容，挡不住并发插入），
// 调用方必须先通过 conversation.Repository.GetForUpdate 锁住会话行。
func (r *assignmentRepo) ActiveForUpdate(ctx context.Context, conversationID int64) (*assignment.Assignment, error) {
	var a assignment.Assignment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("conversation_id = ? AND released_at IS NULL", conversationID).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepo) Active(ctx context.Context, conversationID int64) (*assignment.Assignment, error) {
	var a assignment.Assignment
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND released_at IS NULL", conversationID).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepo) ActiveByConversations(ctx context.Context, conversationIDs []int64) (map[int64]*assignment.Assignment, error) {
	out := make(map[int64]*assignment.Assignment)
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var list []*assignment.Assignment
	if err := r.db.WithContext(ctx).
		Where("conversation_id IN ? AND released_at IS NULL", conversationIDs).
		Find(&list).Error; err != nil {
		return nil, err
	}
	for _, a := range list {
		out[a.ConversationID] = a
	}
	return out, nil
}

func (r *assignmentRepo) Create(ctx context.Context, a *assignment.Assignment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *assignmentRepo) Release(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&assignment.Assignment{}).
		Where("id = ?", id).
		Update("released_at", at).Error
}

func (r *assignmentRepo) History(ctx context.Context, conversationID int64) ([]*assignment.Assignment, error) {
	var list []*assignment.Assignment
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
