package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/teaminbox/internal/config"
	"github.com/example/teaminbox/internal/datamodels/conversation"
	"github.com/example/teaminbox/internal/storage"
)

// capturedEvent 测试期间捕获的一次事件发布
type capturedEvent struct {
	Type  string
	Rooms []string
	Data  interface{}
}

// fakePublisher 记录事件而不投递，供断言
type fakePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
	err    error
}

func (p *fakePublisher) Publish(typ string, rooms []string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, capturedEvent{Type: typ, Rooms: rooms, Data: data})
	return nil
}

func (p *fakePublisher) captured() []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]capturedEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *fakePublisher) byType(typ string) []capturedEvent {
	var out []capturedEvent
	for _, e := range p.captured() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// seedConversation 建好 channel/contact/conversation，返回会话 id
func seedConversation(t *testing.T, store *storage.MemoryStore) int64 {
	t.Helper()
	ctx := context.Background()

	ch, err := store.Channels().Upsert(ctx, "whatsapp", "phone-1", "Main Line")
	require.NoError(t, err)
	ct, err := store.Contacts().Upsert(ctx, ch.ID, "8613800000000", "客户甲")
	require.NoError(t, err)

	conv := &conversation.Conversation{
		ChannelID: ch.ID,
		ContactID: ct.ID,
		Status:    conversation.StatusOpen,
	}
	require.NoError(t, store.Conversations().Create(ctx, conv))
	return conv.ID
}

func testWebhookConfig() *config.WebhookConfig {
	return &config.WebhookConfig{
		Secret:      "test-secret",
		VerifyToken: "test-verify",
	}
}

// sign 按服务商规则给 body 计算签名头
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// textPayload 一条入站文本消息的回调报文
func textPayload(msgID, from, name, text string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "10086", "phone_number_id": "phone-1"},
					"contacts": [{"wa_id": %q, "profile": {"name": %q}}],
					"messages": [{
						"from": %q,
						"id": %q,
						"timestamp": "1700000000",
						"type": "text",
						"text": {"body": %q}
					}]
				}
			}]
		}]
	}`, from, name, from, msgID, text))
}

// imagePayload 一条带图片附件的回调报文
func imagePayload(msgID, from string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "10086", "phone_number_id": "phone-1"},
					"messages": [{
						"from": %q,
						"id": %q,
						"timestamp": "1700000001",
						"type": "image",
						"image": {"id": "media-1", "mime_type": "image/jpeg", "caption": "现场照片"}
					}]
				}
			}]
		}]
	}`, from, msgID))
}
