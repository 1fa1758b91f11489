package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/example/teaminbox/internal/config"
	"github.com/example/teaminbox/internal/event"
	"github.com/example/teaminbox/internal/infra/mq"
	"github.com/example/teaminbox/internal/infra/redis"
	"github.com/example/teaminbox/internal/provider"
	"github.com/example/teaminbox/internal/repository/mysql"
	"github.com/example/teaminbox/internal/service"
)

func init() {
	// 初始化监控
	_ = service.GetMonitor()
}

func main() {
	cfg := config.Load()

	db := mysql.Init(&cfg.MySQL)
	mqConn := mq.Init(&cfg.RabbitMQ)
	redisClient := redis.Init(&cfg.Redis)

	store := mysql.NewStore(db)

	publisher, err := event.NewAMQPPublisher(mqConn)
	if err != nil {
		log.Fatalf("declare event exchange failed: %v", err)
	}

	svc := service.NewOutboundService(
		store,
		service.NewAMQPEnqueuer(mqConn),
		provider.NewHTTPSender(&cfg.Provider),
		redisClient,
		publisher,
		cfg.Provider.SendIntervalSeconds,
	)

	ch, err := mqConn.Channel()
	if err != nil {
		log.Fatalf("failed to open channel: %v", err)
	}
	defer ch.Close()

	if _, err = ch.QueueDeclare(service.OutboundQueue, true, false, false, false, nil); err != nil {
		log.Fatalf("failed to declare queue: %v", err)
	}

	// 手动确认模式（auto-ack=false）
	msgs, err := ch.Consume(service.OutboundQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	log.Println("outbound worker started, waiting for jobs...")

	for d := range msgs {
		var job service.SendJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			log.Printf("invalid job: %v", err)
			// 消息格式错误，拒绝并丢弃
			_ = d.Nack(false, false)
			continue
		}

		err := svc.Process(context.Background(), &job)
		switch {
		case err == nil:
			_ = d.Ack(false)
		case errors.Is(err, service.ErrRateLimited):
			// 同一收件人发送过快，稍等后重新入队
			log.Printf("recipient %s rate limited, requeueing", job.To)
			time.Sleep(time.Second)
			_ = d.Nack(false, true)
		default:
			// 基础设施或服务商错误，重新入队重试；
			// 落库幂等保证重复处理不会写出第二条消息
			log.Printf("process job for conversation %d failed: %v", job.ConversationID, err)
			_ = d.Nack(false, true)
		}
	}
}
