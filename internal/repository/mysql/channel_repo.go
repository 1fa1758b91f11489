package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/example/teaminbox/internal/datamodels/channel"
)

type channelRepo struct {
	db *gorm.DB
}

// NewChannelRepository 创建通道仓储
func NewChannelRepository(db *gorm.DB) channel.Repository {
	return &channelRepo{db: db}
}

func (r *channelRepo) Upsert(ctx context.Context, provider, externalID, name string) (*channel.Channel, error) {
	var ch channel.Channel
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_id = ?", provider, externalID).
		First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ch = channel.Channel{Provider: provider, ExternalID: externalID, Name: name}
		if err := r.db.WithContext(ctx).Create(&ch).Error; err != nil {
			return nil, err
		}
		return &ch, nil
	}
	if err != nil {
		return nil, err
	}
	if name != "" && ch.Name != name {
		ch.Name = name
		if err := r.db.WithContext(ctx).Save(&ch).Error; err != nil {
			return nil, err
		}
	}
	return &ch, nil
}

func (r *channelRepo) GetByID(ctx context.Context, id int64) (*channel.Channel, error) {
	var ch channel.Channel
	if err := r.db.WithContext(ctx).First(&ch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ch, nil
}
