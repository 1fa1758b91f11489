package contact

import (
	"context"
	"time"
)

// Contact 某个通道下的外部终端用户，(channel_id, external_id) 唯一
type Contact struct {
	ID         int64     `gorm:"primaryKey"`
	ChannelID  int64     `gorm:"not null;uniqueIndex:uk_channel_external,priority:1"`
	ExternalID string    `gorm:"size:128;not null;uniqueIndex:uk_channel_external,priority:2"`
	Name       string    `gorm:"size:128"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Repository 联系人仓储接口
type Repository interface {
	// Upsert 按 (channelID, externalID) 查找或创建联系人；仅当新名称非空时更新名称
	Upsert(ctx context.Context, channelID int64, externalID, name string) (*Contact, error)
	GetByID(ctx context.Context, id int64) (*Contact, error)
}
