package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/example/teaminbox/internal/datamodels/contact"
)

type contactRepo struct {
	db *gorm.DB
}

// NewContactRepository 创建联系人仓储
func NewContactRepository(db *gorm.DB) contact.Repository {
	return &contactRepo{db: db}
}

func (r *contactRepo) Upsert(ctx context.Context, channelID int64, externalID, name string) (*contact.Contact, error) {
	var c contact.Contact
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND external_id = ?", channelID, externalID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c = contact.Contact{ChannelID: channelID, ExternalID: externalID, Name: name}
		if err := r.db.WithContext(ctx).Create(&c).Error; err != nil {
			return nil, err
		}
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	// 仅在服务商本次带了名称时才更新
	if name != "" && c.Name != name {
		c.Name = name
		if err := r.db.WithContext(ctx).Save(&c).Error; err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (r *contactRepo) GetByID(ctx context.Context, id int64) (*contact.Contact, error) {
	var c contact.Contact
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
