package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/example/teaminbox/internal/config"
	"github.com/example/teaminbox/internal/datamodels/conversation"
	"github.com/example/teaminbox/internal/datamodels/message"
	"github.com/example/teaminbox/internal/event"
	"github.com/example/teaminbox/internal/storage"
)

// Payload 服务商回调报文（WhatsApp Cloud 风格）
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         *ChannelMetadata  `json:"metadata"`
	Contacts         []WebhookContact  `json:"contacts"`
	Messages         []json.RawMessage `json:"messages"`
}

type ChannelMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Media 服务商侧媒体引用
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

// InboundMessage 单条入站消息
type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *Media `json:"image"`
	Document *Media `json:"document"`
	Audio    *Media `json:"audio"`
	Video    *Media `json:"video"`
	Sticker  *Media `json:"sticker"`
}

// media 返回消息携带的媒体引用（最多一个）
func (m *InboundMessage) media() *Media {
	switch {
	case m.Image != nil:
		return m.Image
	case m.Document != nil:
		return m.Document
	case m.Audio != nil:
		return m.Audio
	case m.Video != nil:
		return m.Video
	case m.Sticker != nil:
		return m.Sticker
	}
	return nil
}

func (m *InboundMessage) text() string {
	if m.Text != nil {
		return m.Text.Body
	}
	if md := m.media(); md != nil {
		return md.Caption
	}
	return ""
}

func (m *InboundMessage) sentAt() time.Time {
	if sec, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0)
	}
	return time.Now()
}

// WebhookService 入站回调处理管线：
// 验签 -> 逐条消息独立事务落库（幂等）-> 为新插入的消息广播事件。
type WebhookService struct {
	store     storage.Store
	publisher event.Publisher
	cfg       *config.WebhookConfig
	provider  string
}

// NewWebhookService 创建回调处理服务
func NewWebhookService(store storage.Store, publisher event.Publisher, cfg *config.WebhookConfig) *WebhookService {
	return &WebhookService{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		provider:  "whatsapp",
	}
}

// VerifyToken GET 订阅握手：mode/token 匹配时返回 challenge
func (s *WebhookService) VerifyToken(mode, token, challenge string) (string, bool) {
	if mode == "subscribe" && s.cfg.VerifyToken != "" && token == s.cfg.VerifyToken {
		return challenge, true
	}
	return "", false
}

// VerifySignature 校验 X-Hub-Signature-256 头。
// 对原始 body 计算 HMAC-SHA256，与头里的十六进制摘要做恒定时间比较；
// 未配置密钥时一律拒绝。
func (s *WebhookService) VerifySignature(body []byte, header string) bool {
	if s.cfg.Secret == "" {
		return false
	}
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	digest := strings.TrimPrefix(header, "sha256=")
	want, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Process 处理一次回调投递。
// 每条消息一个独立事务，按报文顺序执行；任一条落库失败即返回错误，
// 让服务商整批重投——已成功的消息靠幂等插入在重投时安全跳过。
// 缺少发送人的消息、缺少通道元数据的 change 属于业务性缺数据，跳过不报错。
func (s *WebhookService) Process(ctx context.Context, raw []byte) error {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return NewValidationError("invalid payload: %v", err)
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			if change.Value.Metadata == nil || change.Value.Metadata.PhoneNumberID == "" {
				log.Printf("webhook: change without channel metadata, skipped")
				GetMonitor().RecordWebhookSkipped()
				continue
			}
			if err := s.processChange(ctx, &change.Value); err != nil {
				GetMonitor().RecordWebhookFailed()
				return err
			}
		}
	}
	return nil
}

func (s *WebhookService) processChange(ctx context.Context, value *ChangeValue) error {
	names := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		names[c.WaID] = c.Profile.Name
	}

	for _, rawMsg := range value.Messages {
		var msg InboundMessage
		if err := json.Unmarshal(rawMsg, &msg); err != nil {
			log.Printf("webhook: malformed message, skipped: %v", err)
			GetMonitor().RecordWebhookSkipped()
			continue
		}
		if msg.From == "" {
			// 无法归属到联系人，跳过这一条，不影响同批其它消息
			log.Printf("webhook: message %s without sender, skipped", msg.ID)
			GetMonitor().RecordWebhookSkipped()
			continue
		}
		created, err := s.ingestMessage(ctx, value.Metadata, &msg, names[msg.From], rawMsg)
		if err != nil {
			return err
		}
		if created != nil {
			GetMonitor().RecordWebhookStored()
			s.publishMessage(created)
		} else {
			GetMonitor().RecordWebhookDuplicate()
		}
	}
	return nil
}

// ingestMessage 单条消息的落库事务，返回新插入的消息（重复投递时为 nil）
func (s *WebhookService) ingestMessage(ctx context.Context, meta *ChannelMetadata, msg *InboundMessage, contactName string, raw []byte) (*message.Message, error) {
	var created *message.Message
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		ch, err := tx.Channels().Upsert(ctx, s.provider, meta.PhoneNumberID, meta.DisplayPhoneNumber)
		if err != nil {
			return err
		}
		ct, err := tx.Contacts().Upsert(ctx, ch.ID, msg.From, contactName)
		if err != nil {
			return err
		}
		conv, err := tx.Conversations().FindOpen(ctx, ch.ID, ct.ID)
		if err != nil {
			return err
		}
		if conv == nil {
			conv = &conversation.Conversation{
				ChannelID:     ch.ID,
				ContactID:     ct.ID,
				Status:        conversation.StatusOpen,
				LastMessageAt: msg.sentAt(),
			}
			if err := tx.Conversations().Create(ctx, conv); err != nil {
				return err
			}
		}

		m := &message.Message{
			ConversationID:    conv.ID,
			ChannelID:         ch.ID,
			ExternalMessageID: msg.ID,
			Direction:         message.DirectionInbound,
			Type:              msg.Type,
			Text:              msg.text(),
			Raw:               string(raw),
			SentAt:            msg.sentAt(),
		}
		inserted, err := tx.Messages().CreateIfAbsent(ctx, m)
		if err != nil {
			return err
		}
		if inserted {
			// 附件只跟随首次插入创建：重投时这里不会再执行，
			// 这是附件侧 exactly-once 的关键
			if md := msg.media(); md != nil {
				att := &message.Attachment{
					MessageID: m.ID,
					MediaID:   md.ID,
					Type:      msg.Type,
					MimeType:  md.MimeType,
					Caption:   md.Caption,
				}
				if err := tx.Messages().CreateAttachments(ctx, []*message.Attachment{att}); err != nil {
					return err
				}
				m.Attachments = []message.Attachment{*att}
			}
		}
		if err := tx.Conversations().TouchLastMessage(ctx, conv.ID, msg.sentAt()); err != nil {
			return err
		}
		if inserted {
			created = m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *WebhookService) publishMessage(m *message.Message) {
	if s.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"conversation_id": m.ConversationID,
		"message_id":      m.ID,
		"type":            m.Type,
		"text":            m.Text,
		"direction":       m.Direction,
		"attachments":     m.Attachments,
		"raw":             json.RawMessage(m.Raw),
	}
	rooms := []string{event.RoomConversation(m.ConversationID), event.RoomBroadcast}
	if err := s.publisher.Publish(event.TypeMessageNew, rooms, data); err != nil {
		log.Printf("publish message:new failed: %v", err)
		GetMonitor().RecordMQError()
	}
}
