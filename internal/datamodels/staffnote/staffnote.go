package staffnote

import (
	"context"
	"time"
)

// Note 客服内部备注，挂在会话上，终端用户不可见
type Note struct {
	ID             int64     `gorm:"primaryKey"`
	ConversationID int64     `gorm:"index;not null"`
	AuthorUserID   int64     `gorm:"index;not null"`
	Body           string    `gorm:"size:2048;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository 备注仓储接口
type Repository interface {
	Create(ctx context.Context, n *Note) error
	GetByID(ctx context.Context, id int64) (*Note, error)
	Update(ctx context.Context, n *Note) error
	Delete(ctx context.Context, id int64) error
	ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*Note, error)
}
