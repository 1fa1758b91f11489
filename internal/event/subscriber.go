package event

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// 订阅通道断开后的重连间隔
var subscriberRetryDelay = 5 * time.Second

// Subscriber 进程级事件订阅端。
// 每个服务进程绑定一个独占的匿名队列到交换机上，收到事件后
// 按 rooms 投递给本进程持有的连接；其它进程各自的订阅端负责
// 它们自己的连接，由此实现跨进程扇出。
type Subscriber struct {
	conn *amqp.Connection
	hub  Broadcaster

	runOnce func() error
}

// NewSubscriber 创建订阅端
func NewSubscriber(conn *amqp.Connection, hub Broadcaster) *Subscriber {
	s := &Subscriber{conn: conn, hub: hub}
	s.runOnce = s.Run
	return s
}

// Loop 持续消费事件：Run 返回（通道被关闭或声明失败）后退避重连，
// 进程存活期间不能因为一次断连就永久失聪。断线期间的事件直接丢失，
// 客户端靠下一次拉取对齐。
func (s *Subscriber) Loop(ctx context.Context) {
	for {
		if err := s.runOnce(); err != nil {
			log.Printf("event subscriber stopped: %v", err)
		} else {
			log.Printf("event subscriber channel closed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(subscriberRetryDelay):
		}
	}
}

// Run 阻塞消费事件，连接关闭后返回
func (s *Subscriber) Run() error {
	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	// 匿名独占队列：进程退出即删除，不积压历史事件
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, "event.#", Exchange, false, nil); err != nil {
		return err
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	log.Printf("event subscriber started, queue=%s", q.Name)
	for d := range msgs {
		s.dispatch(d.Body)
	}
	return nil
}

// dispatch 解析信封并投递到各房间
func (s *Subscriber) dispatch(body []byte) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Printf("invalid event envelope: %v", err)
		return
	}
	frame, err := json.Marshal(map[string]interface{}{
		"event": env.Meta.Type,
		"data":  env.Data,
	})
	if err != nil {
		return
	}
	for _, room := range env.Rooms {
		s.hub.Broadcast(room, frame)
	}
}
