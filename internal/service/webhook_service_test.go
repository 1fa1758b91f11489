package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teaminbox/internal/event"
	"github.com/example/teaminbox/internal/storage"
)

func newWebhookService(store *storage.MemoryStore, pub *fakePublisher) *WebhookService {
	var p event.Publisher
	if pub != nil {
		p = pub
	}
	return NewWebhookService(store, p, testWebhookConfig())
}

func TestVerifyToken(t *testing.T) {
	svc := newWebhookService(storage.NewMemoryStore(), nil)

	challenge, ok := svc.VerifyToken("subscribe", "test-verify", "challenge-123")
	require.True(t, ok)
	assert.Equal(t, "challenge-123", challenge)

	_, ok = svc.VerifyToken("subscribe", "wrong-token", "challenge-123")
	assert.False(t, ok)

	_, ok = svc.VerifyToken("unsubscribe", "test-verify", "challenge-123")
	assert.False(t, ok)
}

func TestVerifySignature(t *testing.T) {
	svc := newWebhookService(storage.NewMemoryStore(), nil)
	body := []byte(`{"object":"whatsapp_business_account"}`)

	assert.True(t, svc.VerifySignature(body, sign("test-secret", body)))
	assert.False(t, svc.VerifySignature(body, sign("other-secret", body)))
	assert.False(t, svc.VerifySignature([]byte("tampered"), sign("test-secret", body)))

	// 缺前缀、非 hex 都拒绝
	assert.False(t, svc.VerifySignature(body, "deadbeef"))
	assert.False(t, svc.VerifySignature(body, "sha256=not-hex!"))
	assert.False(t, svc.VerifySignature(body, ""))
}

func TestVerifySignature_EmptySecretRejectsAll(t *testing.T) {
	svc := NewWebhookService(storage.NewMemoryStore(), nil, testWebhookConfig())
	svc.cfg.Secret = ""
	body := []byte("{}")
	assert.False(t, svc.VerifySignature(body, sign("", body)))
}

func TestProcess_StoresInboundMessage(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	pub := &fakePublisher{}
	svc := newWebhookService(store, pub)

	require.NoError(t, svc.Process(ctx, textPayload("wamid.1", "8613800000000", "客户甲", "你好")))

	// channel / contact / conversation 级联建好
	ch, err := store.Channels().Upsert(ctx, "whatsapp", "phone-1", "")
	require.NoError(t, err)
	ct, err := store.Contacts().Upsert(ctx, ch.ID, "8613800000000", "")
	require.NoError(t, err)
	assert.Equal(t, "客户甲", ct.Name)

	conv, err := store.Conversations().FindOpen(ctx, ch.ID, ct.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.False(t, conv.LastMessageAt.IsZero())

	msgs, err := store.Messages().ListByConversation(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "wamid.1", msgs[0].ExternalMessageID)
	assert.Equal(t, "你好", msgs[0].Text)
	assert.Equal(t, "inbound", msgs[0].Direction)

	// 事件发到会话房间和全员房间
	events := pub.byType(event.TypeMessageNew)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Rooms, fmt.Sprintf("conversation:%d", conv.ID))
	assert.Contains(t, events[0].Rooms, event.RoomBroadcast)
}

func TestProcess_DuplicateDeliveryHasNoEffect(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	pub := &fakePublisher{}
	svc := newWebhookService(store, pub)

	payload := textPayload("wamid.dup", "8613800000000", "客户甲", "重复一条")
	require.NoError(t, svc.Process(ctx, payload))
	require.NoError(t, svc.Process(ctx, payload))

	ch, _ := store.Channels().Upsert(ctx, "whatsapp", "phone-1", "")
	ct, _ := store.Contacts().Upsert(ctx, ch.ID, "8613800000000", "")
	conv, err := store.Conversations().FindOpen(ctx, ch.ID, ct.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)

	n, err := store.Messages().CountByConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 重投不再广播
	assert.Len(t, pub.byType(event.TypeMessageNew), 1)
}

func TestProcess_SameContactReusesOpenConversation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := newWebhookService(store, &fakePublisher{})

	require.NoError(t, svc.Process(ctx, textPayload("wamid.a", "8613800000000", "客户甲", "第一条")))
	require.NoError(t, svc.Process(ctx, textPayload("wamid.b", "8613800000000", "客户甲", "第二条")))

	ch, _ := store.Channels().Upsert(ctx, "whatsapp", "phone-1", "")
	ct, _ := store.Contacts().Upsert(ctx, ch.ID, "8613800000000", "")
	conv, err := store.Conversations().FindOpen(ctx, ch.ID, ct.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)

	n, err := store.Messages().CountByConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestProcess_AttachmentOnlyOnFirstInsert(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := newWebhookService(store, &fakePublisher{})

	payload := imagePayload("wamid.img", "8613800000000")
	require.NoError(t, svc.Process(ctx, payload))
	require.NoError(t, svc.Process(ctx, payload))

	ch, _ := store.Channels().Upsert(ctx, "whatsapp", "phone-1", "")
	ct, _ := store.Contacts().Upsert(ctx, ch.ID, "8613800000000", "")
	conv, _ := store.Conversations().FindOpen(ctx, ch.ID, ct.ID)
	require.NotNil(t, conv)

	msgs, err := store.Messages().ListByConversation(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "现场照片", msgs[0].Text)

	atts, err := store.Messages().AttachmentsByMessage(ctx, msgs[0].ID)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "media-1", atts[0].MediaID)
	assert.Equal(t, "image/jpeg", atts[0].MimeType)
}

func TestProcess_SkipsMessageWithoutSender(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	pub := &fakePublisher{}
	svc := newWebhookService(store, pub)

	payload := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "e", "changes": [{"field": "messages", "value": {
			"metadata": {"display_phone_number": "10086", "phone_number_id": "phone-1"},
			"messages": [
				{"id": "wamid.nosender", "timestamp": "1700000000", "type": "text", "text": {"body": "没有发件人"}},
				{"from": "8613800000000", "id": "wamid.ok", "timestamp": "1700000000", "type": "text", "text": {"body": "正常"}}
			]
		}}]}]
	}`)
	require.NoError(t, svc.Process(ctx, payload))

	// 缺发件人的那条被跳过，同批其它消息照常落库
	assert.Len(t, pub.byType(event.TypeMessageNew), 1)
}

func TestProcess_SkipsChangeWithoutMetadata(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := &fakePublisher{}
	svc := newWebhookService(store, pub)

	payload := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "e", "changes": [{"field": "messages", "value": {
			"messages": [{"from": "861", "id": "wamid.x", "type": "text", "text": {"body": "hi"}}]
		}}]}]
	}`)
	require.NoError(t, svc.Process(context.Background(), payload))
	assert.Empty(t, pub.captured())
}

func TestProcess_InvalidPayload(t *testing.T) {
	svc := newWebhookService(storage.NewMemoryStore(), nil)
	err := svc.Process(context.Background(), []byte("not json"))
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 400, svcErr.Status)
}

func TestProcess_StorageFailurePropagatesAndRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	pub := &fakePublisher{}
	svc := newWebhookService(store, pub)

	payload := textPayload("wamid.retry", "8613800000000", "客户甲", "稍后重试")

	store.FailCreateMessage = errors.New("db gone")
	require.Error(t, svc.Process(ctx, payload))
	assert.Empty(t, pub.captured())

	// 服务商重投，这次成功且只落一条
	store.FailCreateMessage = nil
	require.NoError(t, svc.Process(ctx, payload))
	assert.Len(t, pub.byType(event.TypeMessageNew), 1)
}

func TestProcess_TouchFailureRollsBackMessage(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	pub := &fakePublisher{}
	svc := newWebhookService(store, pub)

	payload := textPayload("wamid.rollback", "8613800000000", "客户甲", "回滚")

	store.FailTouchConversation = errors.New("db gone")
	require.Error(t, svc.Process(ctx, payload))
	assert.Empty(t, pub.captured())

	// 事务整体回滚后重投仍按首次插入处理
	store.FailTouchConversation = nil
	require.NoError(t, svc.Process(ctx, payload))
	require.Len(t, pub.byType(event.TypeMessageNew), 1)
}
