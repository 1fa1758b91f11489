package audit

import (
	"context"
	"time"
)

// 审计动作
const (
	ActionClaim        = "assignment.claim"
	ActionReassign     = "assignment.reassign"
	ActionRelease      = "assignment.release"
	ActionSetStatus    = "conversation.set_status"
	ActionSetPinned    = "conversation.set_pinned"
	ActionSetBlocked   = "conversation.set_blocked"
	ActionNoteCreate   = "staff_note.create"
	ActionNoteUpdate   = "staff_note.update"
	ActionNoteDelete   = "staff_note.delete"
	ActionOutboundSend = "message.outbound_send"
)

// Record 敏感操作审计日志，只追加，不修改不删除
type Record struct {
	ID             int64     `gorm:"primaryKey"`
	ActorUserID    int64     `gorm:"index;not null"`
	Action         string    `gorm:"size:64;index;not null"`
	ConversationID int64     `gorm:"index"`
	Detail         string    `gorm:"size:1024"`
	CreatedAt      time.Time `gorm:"index"`
}

// Repository 审计仓储接口
type Repository interface {
	Create(ctx context.Context, r *Record) error
	ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*Record, error)
}
