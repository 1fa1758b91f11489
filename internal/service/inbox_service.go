package service

import (
	"context"
	"fmt"

	"github.com/example/teaminbox/internal/datamodels/assignment"
	"github.com/example/teaminbox/internal/datamodels/audit"
	"github.com/example/teaminbox/internal/datamodels/contact"
	"github.com/example/teaminbox/internal/datamodels/conversation"
	"github.com/example/teaminbox/internal/datamodels/message"
	"github.com/example/teaminbox/internal/storage"
)

// InboxItem 收件箱条目：会话 + 联系人 + 当前归属
type InboxItem struct {
	Conversation *conversation.Conversation `json:"conversation"`
	Contact      *contact.Contact           `json:"contact"`
	Assignment   *assignment.Assignment     `json:"assignment,omitempty"`
}

// InboxService 收件箱查询与会话状态维护
type InboxService struct {
	store storage.Store
}

// NewInboxService 创建收件箱服务
func NewInboxService(store storage.Store) *InboxService {
	return &InboxService{store: store}
}

// List 列出收件箱会话（open/snoozed），带当前归属人。
// teamID 用于过滤：归属在别的团队的会话不展示，未认领的会话全员可见。
func (s *InboxService) List(ctx context.Context, teamID int64) ([]*InboxItem, error) {
	if teamID <= 0 {
		return nil, NewValidationError("teamId 不能为空")
	}

	convs, err := s.store.Conversations().ListInbox(ctx, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	actives, err := s.store.Assignments().ActiveByConversations(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]*InboxItem, 0, len(convs))
	for _, c := range convs {
		a := actives[c.ID]
		if a != nil && a.TeamID != teamID {
			continue
		}
		ct, err := s.store.Contacts().GetByID(ctx, c.ContactID)
		if err != nil {
			return nil, err
		}
		items = append(items, &InboxItem{Conversation: c, Contact: ct, Assignment: a})
	}
	return items, nil
}

// Messages 查询会话消息记录（含附件）
func (s *InboxService) Messages(ctx context.Context, conversationID int64, limit int) ([]*message.Message, error) {
	conv, err := s.store.Conversations().GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, NewNotFoundError("会话 %d 不存在", conversationID)
	}
	msgs, err := s.store.Messages().ListByConversation(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		atts, err := s.store.Messages().AttachmentsByMessage(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range atts {
			m.Attachments = append(m.Attachments, *a)
		}
	}
	return msgs, nil
}

// SetStatus 变更会话状态（open/snoozed/closed），写审计
func (s *InboxService) SetStatus(ctx context.Context, conversationID int64, status string, actorUserID int64) error {
	if !conversation.ValidStatus(status) {
		return NewValidationError("非法状态: %s", status)
	}
	return s.store.InTx(ctx, func(tx storage.Store) error {
		conv, err := tx.Conversations().GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return NewNotFoundError("会话 %d 不存在", conversationID)
		}
		if err := tx.Conversations().UpdateStatus(ctx, conversationID, status); err != nil {
			return err
		}
		return tx.Audits().Create(ctx, &audit.Record{
			ActorUserID:    actorUserID,
			Action:         audit.ActionSetStatus,
			ConversationID: conversationID,
			Detail:         fmt.Sprintf("%s -> %s", conv.Status, status),
		})
	})
}

// SetPinned 置顶/取消置顶
func (s *InboxService) SetPinned(ctx context.Context, conversationID int64, pinned bool, actorUserID int64) error {
	return s.store.InTx(ctx, func(tx storage.Store) error {
		conv, err := tx.Conversations().GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return NewNotFoundError("会话 %d 不存在", conversationID)
		}
		if err := tx.Conversations().UpdatePinned(ctx, conversationID, pinned); err != nil {
			return err
		}
		return tx.Audits().Create(ctx, &audit.Record{
			ActorUserID:    actorUserID,
			Action:         audit.ActionSetPinned,
			ConversationID: conversationID,
			Detail:         fmt.Sprintf("pinned=%v", pinned),
		})
	})
}

// SetBlocked 拉黑/解除拉黑联系人所在会话
func (s *InboxService) SetBlocked(ctx context.Context, conversationID int64, blocked bool, actorUserID int64) error {
	return s.store.InTx(ctx, func(tx storage.Store) error {
		conv, err := tx.Conversations().GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return NewNotFoundError("会话 %d 不存在", conversationID)
		}
		if err := tx.Conversations().UpdateBlocked(ctx, conversationID, blocked); err != nil {
			return err
		}
		return tx.Audits().Create(ctx, &audit.Record{
			ActorUserID:    actorUserID,
			Action:         audit.ActionSetBlocked,
			ConversationID: conversationID,
			Detail:         fmt.Sprintf("blocked=%v", blocked),
		})
	})
}
