package storage

import (
	"context"

	"github.com/example/teaminbox/internal/datamodels/assignment"
	"github.com/example/teaminbox/internal/datamodels/audit"
	"github.com/example/teaminbox/internal/datamodels/channel"
	"github.com/example/teaminbox/internal/datamodels/contact"
	"github.com/example/teaminbox/internal/datamodels/conversation"
	"github.com/example/teaminbox/internal/datamodels/message"
	"github.com/example/teaminbox/internal/datamodels/staffnote"
)

// Store 聚合全部仓储并提供事务边界。
// InTx 内拿到的 Store 绑定在同一个事务上，回调返回错误时整体回滚；
// Assignments().ActiveForUpdate 的行锁只在 InTx 内有效。
type Store interface {
	InTx(ctx context.Context, fn func(tx Store) error) error

	Channels() channel.Repository
	Contacts() contact.Repository
	Conversations() conversation.Repository
	Messages() message.Repository
	Assignments() assignment.Repository
	Audits() audit.Repository
	StaffNotes() staffnote.Repository
}
