package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	radix "github.com/mediocregopher/radix/v3"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/teaminbox/internal/datamodels/audit"
	"github.com/example/teaminbox/internal/datamodels/message"
	"github.com/example/teaminbox/internal/event"
	"github.com/example/teaminbox/internal/provider"
	"github.com/example/teaminbox/internal/storage"
)

// OutboundQueue 外发队列名
const OutboundQueue = "outbound_send"

const sendLimitKey = "send:limit:%s" // 收件人外部 id

// ErrRateLimited 同一收件人发送过快，worker 据此重新入队稍后再试
var ErrRateLimited = errors.New("recipient rate limited")

// SendJob 一次外发任务
type SendJob struct {
	ConversationID    int64  `json:"conversation_id"`
	ChannelID         int64  `json:"channel_id"`
	ChannelExternalID string `json:"channel_external_id"`
	To                string `json:"to"`
	Text              string `json:"text"`
	ActorUserID       int64  `json:"actor_user_id"`
}

// Enqueuer 外发任务入队接口
type Enqueuer interface {
	Enqueue(ctx context.Context, job *SendJob) error
}

// AMQPEnqueuer 把外发任务写入持久化队列
type AMQPEnqueuer struct {
	conn *amqp.Connection
}

// NewAMQPEnqueuer 创建入队器
func NewAMQPEnqueuer(conn *amqp.Connection) *AMQPEnqueuer {
	return &AMQPEnqueuer{conn: conn}
}

func (e *AMQPEnqueuer) Enqueue(ctx context.Context, job *SendJob) error {
	ch, err := e.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err = ch.QueueDeclare(OutboundQueue, true, false, false, false, nil); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(
		ctx,
		"",
		OutboundQueue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// OutboundService 外发链路：
// API 侧校验并入队，worker 消费队列、限速、调服务商发送、幂等落库。
type OutboundService struct {
	store       storage.Store
	queue       Enqueuer
	sender      provider.Sender
	redis       radix.Client
	publisher   event.Publisher
	intervalSec int
}

// NewOutboundService 创建外发服务
func NewOutboundService(store storage.Store, queue Enqueuer, sender provider.Sender, redis radix.Client, publisher event.Publisher, intervalSec int) *OutboundService {
	if intervalSec <= 0 {
		intervalSec = 1
	}
	return &OutboundService{
		store:       store,
		queue:       queue,
		sender:      sender,
		redis:       redis,
		publisher:   publisher,
		intervalSec: intervalSec,
	}
}

// Enqueue 校验会话后把外发任务写入队列
func (s *OutboundService) Enqueue(ctx context.Context, conversationID, actorUserID int64, text string) error {
	if text == "" {
		return NewValidationError("消息内容不能为空")
	}
	conv, err := s.store.Conversations().GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return NewNotFoundError("会话 %d 不存在", conversationID)
	}
	if conv.Blocked {
		return NewForbiddenError("会话已被拉黑，无法发送")
	}
	ch, err := s.store.Channels().GetByID(ctx, conv.ChannelID)
	if err != nil {
		return err
	}
	ct, err := s.store.Contacts().GetByID(ctx, conv.ContactID)
	if err != nil {
		return err
	}
	if ch == nil || ct == nil {
		return NewNotFoundError("会话 %d 的通道或联系人缺失", conversationID)
	}

	job := &SendJob{
		ConversationID:    conv.ID,
		ChannelID:         ch.ID,
		ChannelExternalID: ch.ExternalID,
		To:                ct.ExternalID,
		Text:              text,
		ActorUserID:       actorUserID,
	}
	return s.queue.Enqueue(ctx, job)
}

// Process 处理一个外发任务（worker 调用）。
// 返回 ErrRateLimited 或基础设施错误时任务应重新入队；
// 发送成功后的落库依赖 (channel_id, external_message_id) 幂等，
// 重复处理同一任务不会写出第二行。
func (s *OutboundService) Process(ctx context.Context, job *SendJob) error {
	// 同一收件人限速：SET NX EX 作为原子令牌，跨进程生效
	if s.redis != nil {
		var ok string
		key := fmt.Sprintf(sendLimitKey, job.To)
		if err := s.redis.Do(radix.Cmd(&ok, "SET", key, "1", "EX", fmt.Sprintf("%d", s.intervalSec), "NX")); err != nil {
			GetMonitor().RecordRedisError()
			return err
		}
		if ok == "" {
			return ErrRateLimited
		}
	}

	providerID, err := s.sender.Send(ctx, job.ChannelExternalID, job.To, job.Text)
	if err != nil {
		GetMonitor().RecordSendFailed()
		return err
	}

	now := time.Now()
	var stored *message.Message
	err = s.store.InTx(ctx, func(tx storage.Store) error {
		m := &message.Message{
			ConversationID:    job.ConversationID,
			ChannelID:         job.ChannelID,
			ExternalMessageID: providerID,
			Direction:         message.DirectionOutbound,
			Type:              "text",
			Text:              job.Text,
			SentAt:            now,
		}
		inserted, err := tx.Messages().CreateIfAbsent(ctx, m)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		if err := tx.Conversations().TouchLastMessage(ctx, job.ConversationID, now); err != nil {
			return err
		}
		if err := tx.Audits().Create(ctx, &audit.Record{
			ActorUserID:    job.ActorUserID,
			Action:         audit.ActionOutboundSend,
			ConversationID: job.ConversationID,
			Detail:         fmt.Sprintf("provider_message=%s to=%s", providerID, job.To),
		}); err != nil {
			return err
		}
		stored = m
		return nil
	})
	if err != nil {
		return err
	}
	GetMonitor().RecordSendSuccess()

	if stored != nil && s.publisher != nil {
		data := map[string]interface{}{
			"conversation_id": stored.ConversationID,
			"message_id":      stored.ID,
			"type":            stored.Type,
			"text":            stored.Text,
			"direction":       stored.Direction,
		}
		rooms := []string{event.RoomConversation(stored.ConversationID), event.RoomBroadcast}
		if err := s.publisher.Publish(event.TypeMessageNew, rooms, data); err != nil {
			log.Printf("publish message:new failed: %v", err)
			GetMonitor().RecordMQError()
		}
	}
	return nil
}
