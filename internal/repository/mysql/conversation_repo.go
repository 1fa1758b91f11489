package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/teaminbox/internal/datamodels/conversation"
)

type conversationRepo struct {
	db *gorm.DB
}

// NewConversationRepository 创建会话仓储
func NewConversationRepository(db *gorm.DB) conversation.Repository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) FindOpen(ctx context.Context, channelID, contactID int64) (*conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND contact_id = ? AND status = ?", channelID, contactID, conversation.StatusOpen).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *conversationRepo) Create(ctx context.Context, c *conversation.Conversation) error {
	if c.Status == "" {
		c.Status = conversation.StatusOpen
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *conversationRepo) GetByID(ctx context.Context, id int64) (*conversation.Conversation, error) {
	var c conversation.Conversation
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// GetForUpdate 用 SELECT ... FOR UPDATE 锁住会话行。
// 会话行一定存在，锁的是真实行而不是索引间隙，
// 并发的归属变更在这里排队串行。
func (r *conversationRepo) GetForUpdate(ctx context.Context, id int64) (*conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *conversationRepo) TouchLastMessage(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_message_at": at, "updated_at": time.Now()}).Error
}

func (r *conversationRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *conversationRepo) UpdatePinned(ctx context.Context, id int64, pinned bool) error {
	return r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", id).
		Update("pinned", pinned).Error
}

func (r *conversationRepo) UpdateBlocked(ctx context.Context, id int64, blocked bool) error {
	return r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", id).
		Update("blocked", blocked).Error
}

func (r *conversationRepo) ListInbox(ctx context.Context, limit int) ([]*conversation.Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var list []*conversation.Conversation
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []string{conversation.StatusOpen, conversation.StatusSnoozed}).
		Order("pinned DESC").
		Order("last_message_at DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
