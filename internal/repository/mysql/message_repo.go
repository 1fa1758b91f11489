package mysql

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/teaminbox/internal/datamodels/message"
)

type messageRepo struct {
	db *gorm.DB
}

// NewMessageRepository 创建消息仓储
func NewMessageRepository(db *gorm.DB) message.Repository {
	return &messageRepo{db: db}
}

// CreateIfAbsent 幂等插入：靠 (channel_id, external_message_id) 唯一索引 + ON CONFLICT DO NOTHING，
// 重复投递时 RowsAffected 为 0，不报错。
func (r *messageRepo) CreateIfAbsent(ctx context.Context, m *message.Message) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}, {Name: "external_message_id"}},
			DoNothing: true,
		}).
		Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *messageRepo) CreateAttachments(ctx context.Context, atts []*message.Attachment) error {
	if len(atts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(atts).Error
}

func (r *messageRepo) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*message.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var list []*message.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *messageRepo) AttachmentsByMessage(ctx context.Context, messageID int64) ([]*message.Attachment, error) {
	var list []*message.Attachment
	if err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *messageRepo) CountByConversation(ctx context.Context, conversationID int64) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
