package channel

import (
	"context"
	"time"
)

// Channel 业务侧的消息通道，对应服务商的一个接入点（例如一个 WhatsApp 号码）
// (provider, external_id) 全局唯一，首次引用时创建，之后只更新名称，不删除。
type Channel struct {
	ID         int64     `gorm:"primaryKey"`
	Provider   string    `gorm:"size:32;not null;uniqueIndex:uk_provider_external,priority:1"`
	ExternalID string    `gorm:"size:128;not null;uniqueIndex:uk_provider_external,priority:2"`
	Name       string    `gorm:"size:128"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Repository 通道仓储接口
type Repository interface {
	// Upsert 按 (provider, externalID) 查找或创建通道；名称有变化时刷新
	Upsert(ctx context.Context, provider, externalID, name string) (*Channel, error)
	GetByID(ctx context.Context, id int64) (*Channel, error)
}
