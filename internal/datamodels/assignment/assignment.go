package assignment

import (
	"context"
	"time"
)

// Assignment 会话归属区间：某客服对某会话的一段持有记录
// 同一会话任意时刻 released_at IS NULL 的行数 ≤ 1；记录只关闭不删除。
type Assignment struct {
	ID             int64      `gorm:"primaryKey"`
	ConversationID int64      `gorm:"index;not null"`
	TeamID         int64      `gorm:"index;not null"`
	AssigneeUserID int64      `gorm:"index;not null"`
	AssignedAt     time.Time  `gorm:"not null"`
	ReleasedAt     *time.Time `gorm:"index"`
}

// Repository 归属仓储接口
type Repository interface {
	// ActiveForUpdate 锁定并返回会话当前的活跃归属；没有则返回 nil, nil。
	// MySQL 实现使用行级 FOR UPDATE 锁，必须在 Store.InTx 事务内调用。
	ActiveForUpdate(ctx context.Context, conversationID int64) (*Assignment, error)
	// Active 只读查询当前活跃归属，没有则返回 nil, nil
	Active(ctx context.Context, conversationID int64) (*Assignment, error)
	// ActiveByConversations 批量查询多个会话的活跃归属
	ActiveByConversations(ctx context.Context, conversationIDs []int64) (map[int64]*Assignment, error)
	Create(ctx context.Context, a *Assignment) error
	// Release 关闭一条归属记录（设置 released_at）
	Release(ctx context.Context, id int64, at time.Time) error
	// History 按时间倒序返回会话的全部归属记录
	History(ctx context.Context, conversationID int64) ([]*Assignment, error)
}
