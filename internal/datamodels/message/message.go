package message

import (
	"context"
	"time"
)

// 消息方向
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message 消息，只追加不修改
// (channel_id, external_message_id) 唯一：同一条服务商消息重复投递时最多落库一次。
type Message struct {
	ID                int64     `gorm:"primaryKey"`
	ConversationID    int64     `gorm:"index;not null"`
	ChannelID         int64     `gorm:"not null;uniqueIndex:uk_channel_message,priority:1"`
	ExternalMessageID string    `gorm:"size:256;not null;uniqueIndex:uk_channel_message,priority:2"`
	Direction         string    `gorm:"size:16;not null"`
	Type              string    `gorm:"size:32;not null"` // text / image / document / audio ...
	Text              string    `gorm:"size:4096"`
	Raw               string    `gorm:"type:text"` // 服务商原始报文，排障用
	SentAt            time.Time `gorm:"index"`
	CreatedAt         time.Time

	Attachments []Attachment `gorm:"-" json:"attachments,omitempty"`
}

// Attachment 消息附件，仅当所属消息首次插入时创建
type Attachment struct {
	ID        int64  `gorm:"primaryKey"`
	MessageID int64  `gorm:"index;not null"`
	MediaID   string `gorm:"size:256;not null"` // 服务商侧媒体引用
	Type      string `gorm:"size:32;not null"`
	MimeType  string `gorm:"size:128"`
	Caption   string `gorm:"size:1024"`
	CreatedAt time.Time
}

// Repository 消息仓储接口
type Repository interface {
	// CreateIfAbsent 幂等插入：冲突时不报错，返回本次是否真正插入
	CreateIfAbsent(ctx context.Context, m *Message) (bool, error)
	CreateAttachments(ctx context.Context, atts []*Attachment) error
	ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*Message, error)
	AttachmentsByMessage(ctx context.Context, messageID int64) ([]*Attachment, error)
	CountByConversation(ctx context.Context, conversationID int64) (int64, error)
}
