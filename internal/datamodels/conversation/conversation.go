package conversation

import (
	"context"
	"time"
)

// 会话状态
const (
	StatusOpen    = "open"
	StatusSnoozed = "snoozed"
	StatusClosed  = "closed"
)

// ValidStatus 校验状态取值
func ValidStatus(s string) bool {
	return s == StatusOpen || s == StatusSnoozed || s == StatusClosed
}

// Conversation 会话：一个通道与一个联系人之间的持续对话
// 同一 (channel, contact) 任意时刻最多只有一个 open 会话；
// 新的入站消息优先挂到已有 open 会话上。
type Conversation struct {
	ID            int64     `gorm:"primaryKey"`
	ChannelID     int64     `gorm:"index:idx_channel_contact,priority:1;not null"`
	ContactID     int64     `gorm:"index:idx_channel_contact,priority:2;not null"`
	Status        string    `gorm:"size:16;index;not null;default:open"`
	LastMessageAt time.Time `gorm:"index"`
	Pinned        bool      `gorm:"not null;default:false"`
	Blocked       bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository 会话仓储接口
type Repository interface {
	// FindOpen 查找 (channelID, contactID) 当前的 open 会话，没有则返回 nil, nil
	FindOpen(ctx context.Context, channelID, contactID int64) (*Conversation, error)
	Create(ctx context.Context, c *Conversation) error
	GetByID(ctx context.Context, id int64) (*Conversation, error)
	// GetForUpdate 在事务内用行锁读取会话，持锁到事务结束。
	// 归属变更先锁会话行再做判定-写入，见 AssignmentService。
	GetForUpdate(ctx context.Context, id int64) (*Conversation, error)
	// TouchLastMessage 刷新 last_message_at / updated_at
	TouchLastMessage(ctx context.Context, id int64, at time.Time) error
	UpdateStatus(ctx context.Context, id int64, status string) error
	UpdatePinned(ctx context.Context, id int64, pinned bool) error
	UpdateBlocked(ctx context.Context, id int64, blocked bool) error
	// ListInbox 列出收件箱会话（open/snoozed），置顶优先，最近消息倒序
	ListInbox(ctx context.Context, limit int) ([]*Conversation, error)
}
