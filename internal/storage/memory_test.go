package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teaminbox/internal/datamodels/conversation"
	"github.com/example/teaminbox/internal/datamodels/message"
)

func TestInTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Store) error {
		conv := &conversation.Conversation{ChannelID: 1, ContactID: 1, Status: conversation.StatusOpen}
		if err := tx.Conversations().Create(ctx, conv); err != nil {
			return err
		}
		_, err := tx.Messages().CreateIfAbsent(ctx, &message.Message{
			ConversationID:    conv.ID,
			ChannelID:         1,
			ExternalMessageID: "m1",
			Direction:         message.DirectionInbound,
			SentAt:            time.Now(),
		})
		if err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// 整个事务回滚，一条数据都不剩
	list, err := s.Conversations().ListInbox(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestInTx_CommitKeepsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.InTx(ctx, func(tx Store) error {
		conv := &conversation.Conversation{ChannelID: 1, ContactID: 1, Status: conversation.StatusOpen}
		return tx.Conversations().Create(ctx, conv)
	})
	require.NoError(t, err)

	list, err := s.Conversations().ListInbox(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInTx_NestedReusesTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.InTx(ctx, func(tx Store) error {
		return tx.InTx(ctx, func(inner Store) error {
			conv := &conversation.Conversation{ChannelID: 1, ContactID: 1, Status: conversation.StatusOpen}
			return inner.Conversations().Create(ctx, conv)
		})
	})
	require.NoError(t, err)

	list, _ := s.Conversations().ListInbox(ctx, 0)
	assert.Len(t, list, 1)
}

func TestGetForUpdate_ReadsRowInsideTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	conv := &conversation.Conversation{ChannelID: 1, ContactID: 1, Status: conversation.StatusOpen}
	require.NoError(t, s.Conversations().Create(ctx, conv))

	err := s.InTx(ctx, func(tx Store) error {
		got, err := tx.Conversations().GetForUpdate(ctx, conv.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, conv.ID, got.ID)

		missing, err := tx.Conversations().GetForUpdate(ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateIfAbsent_DedupesOnChannelAndExternalID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	m1 := &message.Message{ChannelID: 1, ExternalMessageID: "m1", SentAt: time.Now()}
	inserted, err := s.Messages().CreateIfAbsent(ctx, m1)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &message.Message{ChannelID: 1, ExternalMessageID: "m1", SentAt: time.Now()}
	inserted, err = s.Messages().CreateIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	// 不同通道下相同外部 id 不算重复
	other := &message.Message{ChannelID: 2, ExternalMessageID: "m1", SentAt: time.Now()}
	inserted, err = s.Messages().CreateIfAbsent(ctx, other)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestListInbox_PinnedFirstThenRecent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	old := &conversation.Conversation{ChannelID: 1, ContactID: 1, Status: conversation.StatusOpen}
	require.NoError(t, s.Conversations().Create(ctx, old))
	require.NoError(t, s.Conversations().TouchLastMessage(ctx, old.ID, time.Now().Add(-time.Hour)))

	recent := &conversation.Conversation{ChannelID: 1, ContactID: 2, Status: conversation.StatusOpen}
	require.NoError(t, s.Conversations().Create(ctx, recent))
	require.NoError(t, s.Conversations().TouchLastMessage(ctx, recent.ID, time.Now()))

	pinnedOld := &conversation.Conversation{ChannelID: 1, ContactID: 3, Status: conversation.StatusOpen}
	require.NoError(t, s.Conversations().Create(ctx, pinnedOld))
	require.NoError(t, s.Conversations().TouchLastMessage(ctx, pinnedOld.ID, time.Now().Add(-2*time.Hour)))
	require.NoError(t, s.Conversations().UpdatePinned(ctx, pinnedOld.ID, true))

	list, err := s.Conversations().ListInbox(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, pinnedOld.ID, list[0].ID)
	assert.Equal(t, recent.ID, list[1].ID)
	assert.Equal(t, old.ID, list[2].ID)
}
