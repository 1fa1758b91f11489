package event

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange 事件广播用的 topic 交换机
const Exchange = "teaminbox.events"

// AMQPPublisher 把事件发布到 RabbitMQ topic 交换机，供所有进程的订阅端消费
type AMQPPublisher struct {
	conn *amqp.Connection
}

// NewAMQPPublisher 声明交换机并创建发布器
func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &AMQPPublisher{conn: conn}, nil
}

// routingKey 事件类型映射为路由键，例如 message:new -> event.message.new
func routingKey(typ string) string {
	return "event." + strings.ReplaceAll(typ, ":", ".")
}

// Publish 发布一条事件
func (p *AMQPPublisher) Publish(typ string, rooms []string, data interface{}) error {
	env := Envelope{
		Meta: Meta{
			ID:   uuid.NewString(),
			Time: time.Now(),
			Type: typ,
		},
		Rooms: rooms,
		Data:  data,
	}
	body, err := json.Marshal(&env)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = ch.PublishWithContext(
		ctx,
		Exchange,
		routingKey(typ),
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   env.Meta.ID,
			Timestamp:   env.Meta.Time,
			Body:        body,
		},
	)
	if err != nil {
		log.Printf("publish event %s failed: %v", typ, err)
	}
	return err
}
