package mysql

import (
	"context"

	"gorm.io/gorm"

	"github.com/example/teaminbox/internal/datamodels/assignment"
	"github.com/example/teaminbox/internal/datamodels/audit"
	"github.com/example/teaminbox/internal/datamodels/channel"
	"github.com/example/teaminbox/internal/datamodels/contact"
	"github.com/example/teaminbox/internal/datamodels/conversation"
	"github.com/example/teaminbox/internal/datamodels/message"
	"github.com/example/teaminbox/internal/datamodels/staffnote"
	"github.com/example/teaminbox/internal/storage"
)

// Store 基于 GORM 的 storage.Store 实现
type Store struct {
	db *gorm.DB
}

// NewStore 创建 MySQL Store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// InTx 在一个数据库事务内执行回调，回调拿到的 Store 绑定事务连接
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

func (s *Store) Channels() channel.Repository           { return &channelRepo{db: s.db} }
func (s *Store) Contacts() contact.Repository           { return &contactRepo{db: s.db} }
func (s *Store) Conversations() conversation.Repository { return &conversationRepo{db: s.db} }
func (s *Store) Messages() message.Repository           { return &messageRepo{db: s.db} }
func (s *Store) Assignments() assignment.Repository     { return &assignmentRepo{db: s.db} }
func (s *Store) Audits() audit.Repository               { return &auditRepo{db: s.db} }
func (s *Store) StaffNotes() staffnote.Repository       { return &staffNoteRepo{db: s.db} }
