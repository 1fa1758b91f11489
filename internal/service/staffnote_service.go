package service

import (
	"context"
	"fmt"
	"log"

	"github.com/example/teaminbox/internal/auth"
	"github.com/example/teaminbox/internal/datamodels/audit"
	"github.com/example/teaminbox/internal/datamodels/staffnote"
	"github.com/example/teaminbox/internal/event"
	"github.com/example/teaminbox/internal/storage"
)

// StaffNoteService 会话内部备注：增删改都会广播给会话房间
type StaffNoteService struct {
	store     storage.Store
	publisher event.Publisher
}

// NewStaffNoteService 创建备注服务
func NewStaffNoteService(store storage.Store, publisher event.Publisher) *StaffNoteService {
	return &StaffNoteService{store: store, publisher: publisher}
}

// Create 新增备注
func (s *StaffNoteService) Create(ctx context.Context, conversationID, authorUserID int64, body string) (*staffnote.Note, error) {
	if body == "" {
		return nil, NewValidationError("备注内容不能为空")
	}
	var note *staffnote.Note
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		conv, err := tx.Conversations().GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return NewNotFoundError("会话 %d 不存在", conversationID)
		}
		note = &staffnote.Note{
			ConversationID: conversationID,
			AuthorUserID:   authorUserID,
			Body:           body,
		}
		if err := tx.StaffNotes().Create(ctx, note); err != nil {
			return err
		}
		return tx.Audits().Create(ctx, &audit.Record{
			ActorUserID:    authorUserID,
			Action:         audit.ActionNoteCreate,
			ConversationID: conversationID,
			Detail:         fmt.Sprintf("note=%d", note.ID),
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(event.TypeStaffNoteNew, note)
	return note, nil
}

// Update 修改备注；非管理员只能改自己写的
func (s *StaffNoteService) Update(ctx context.Context, noteID int64, body string, actorRole string, actorUserID int64) (*staffnote.Note, error) {
	if body == "" {
		return nil, NewValidationError("备注内容不能为空")
	}
	var note *staffnote.Note
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		var err error
		note, err = tx.StaffNotes().GetByID(ctx, noteID)
		if err != nil {
			return err
		}
		if note == nil {
			return NewNotFoundError("备注 %d 不存在", noteID)
		}
		if actorRole != auth.RoleAdmin && note.AuthorUserID != actorUserID {
			return NewForbiddenError("只能修改自己的备注")
		}
		note.Body = body
		if err := tx.StaffNotes().Update(ctx, note); err != nil {
			return err
		}
		return tx.Audits().Create(ctx, &audit.Record{
			ActorUserID:    actorUserID,
			Action:         audit.ActionNoteUpdate,
			ConversationID: note.ConversationID,
			Detail:         fmt.Sprintf("note=%d", note.ID),
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(event.TypeStaffNoteUpdated, note)
	return note, nil
}

// Delete 删除备注；非管理员只能删自己写的
func (s *StaffNoteService) Delete(ctx context.Context, noteID int64, actorRole string, actorUserID int64) error {
	var note *staffnote.Note
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		var err error
		note, err = tx.StaffNotes().GetByID(ctx, noteID)
		if err != nil {
			return err
		}
		if note == nil {
			return NewNotFoundError("备注 %d 不存在", noteID)
		}
		if actorRole != auth.RoleAdmin && note.AuthorUserID != actorUserID {
			return NewForbiddenError("只能删除自己的备注")
		}
		if err := tx.StaffNotes().Delete(ctx, noteID); err != nil {
			return err
		}
		return tx.Audits().Create(ctx, &audit.Record{
			ActorUserID:    actorUserID,
			Action:         audit.ActionNoteDelete,
			ConversationID: note.ConversationID,
			Detail:         fmt.Sprintf("note=%d", note.ID),
		})
	})
	if err != nil {
		return err
	}
	s.publish(event.TypeStaffNoteDeleted, note)
	return nil
}

// List 查询会话的备注
func (s *StaffNoteService) List(ctx context.Context, conversationID int64, limit int) ([]*staffnote.Note, error) {
	return s.store.StaffNotes().ListByConversation(ctx, conversationID, limit)
}

func (s *StaffNoteService) publish(typ string, note *staffnote.Note) {
	if s.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"note_id":         note.ID,
		"conversation_id": note.ConversationID,
		"author_id":       note.AuthorUserID,
		"body":            note.Body,
	}
	rooms := []string{event.RoomConversation(note.ConversationID)}
	if err := s.publisher.Publish(typ, rooms, data); err != nil {
		log.Printf("publish %s failed: %v", typ, err)
		GetMonitor().RecordMQError()
	}
}
