package server

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/kataras/iris/v12"

	"github.com/example/teaminbox/internal/auth"
	"github.com/example/teaminbox/internal/config"
	"github.com/example/teaminbox/internal/event"
	"github.com/example/teaminbox/internal/infra/mq"
	"github.com/example/teaminbox/internal/infra/redis"
	"github.com/example/teaminbox/internal/middleware"
	"github.com/example/teaminbox/internal/presence"
	"github.com/example/teaminbox/internal/provider"
	"github.com/example/teaminbox/internal/repository/mysql"
	"github.com/example/teaminbox/internal/service"
	"github.com/example/teaminbox/internal/ws"
)

// writeServiceError 把业务错误映射为 HTTP 响应
func writeServiceError(ctx iris.Context, err error) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		ctx.StopWithJSON(svcErr.Status, iris.Map{"code": svcErr.Code, "msg": svcErr.Msg})
		return
	}
	ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
}

// RegisterRoutes 注册所有 HTTP 路由
func RegisterRoutes(app *iris.Application, cfg *config.Config) {
	// 初始化基础设施
	db := mysql.Init(&cfg.MySQL)
	redisClient := redis.Init(&cfg.Redis)
	mqConn := mq.Init(&cfg.RabbitMQ)

	store := mysql.NewStore(db)

	publisher, err := event.NewAMQPPublisher(mqConn)
	if err != nil {
		log.Fatalf("declare event exchange failed: %v", err)
	}

	// 本进程的连接池与跨进程事件订阅，断连后自动重连
	hub := ws.NewHub()
	subscriber := event.NewSubscriber(mqConn, hub)
	go subscriber.Loop(context.Background())

	registry := presence.NewRegistry(redisClient, publisher, cfg.Presence.ConnTTLSeconds)
	tokenCache := auth.NewTokenCache(redisClient, 10*time.Minute)

	// 服务
	webhookSvc := service.NewWebhookService(store, publisher, &cfg.Webhook)
	inboxSvc := service.NewInboxService(store)
	assignmentSvc := service.NewAssignmentService(store, publisher)
	noteSvc := service.NewStaffNoteService(store, publisher)
	outboundSvc := service.NewOutboundService(
		store,
		service.NewAMQPEnqueuer(mqConn),
		provider.NewHTTPSender(&cfg.Provider),
		redisClient,
		publisher,
		cfg.Provider.SendIntervalSeconds,
	)

	// ---------- 服务商 webhook ----------

	// 订阅握手：服务商带 hub.mode/hub.verify_token/hub.challenge 发起 GET
	app.Get("/webhooks/provider", func(ctx iris.Context) {
		challenge, ok := webhookSvc.VerifyToken(
			ctx.URLParam("hub.mode"),
			ctx.URLParam("hub.verify_token"),
			ctx.URLParam("hub.challenge"),
		)
		if !ok {
			ctx.StopWithJSON(403, iris.Map{"code": 403, "msg": "verify token mismatch"})
			return
		}
		_, _ = ctx.WriteString(challenge)
	})

	// 消息投递：签名校验必须基于原始请求体
	app.Post("/webhooks/provider", middleware.WebhookRateLimit(), func(ctx iris.Context) {
		body, err := ctx.GetBody()
		if err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		if !webhookSvc.VerifySignature(body, ctx.GetHeader("X-Hub-Signature-256")) {
			ctx.StopWithJSON(403, iris.Map{"code": 403, "msg": "invalid signature"})
			return
		}
		if err := webhookSvc.Process(ctx.Request().Context(), body); err != nil {
			// 非 2xx 时服务商会重试，依赖幂等落库保证不重复
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"status": "ok"})
	})

	api := app.Party("/api")

	// 健康检查
	api.Get("/health", func(ctx iris.Context) {
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	// 运行统计
	api.Get("/stats", func(ctx iris.Context) {
		ctx.JSON(iris.Map{"code": 0, "data": service.GetMonitor().GetStats()})
	})

	// websocket 入口（鉴权在握手阶段完成）
	app.Get("/ws", handleWS(cfg, hub, registry))

	// 需要登录的接口
	authAPI := api.Party("/", func(ctx iris.Context) {
		token := strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			ctx.StopWithJSON(401, iris.Map{"code": 401, "msg": "missing token"})
			return
		}
		claims, hit, err := tokenCache.Get(ctx.Request().Context(), token)
		if err != nil || !hit {
			claims, err = auth.ParseToken(&cfg.JWT, token)
			if err != nil {
				ctx.StopWithJSON(401, iris.Map{"code": 401, "msg": "invalid token"})
				return
			}
			_ = tokenCache.Set(ctx.Request().Context(), token, claims)
		}
		ctx.Values().Set("user_id", claims.UserID)
		ctx.Values().Set("role", claims.Role)
		ctx.Values().Set("claims", claims)
		ctx.Next()
	})

	// ---------- 收件箱 ----------

	// 团队收件箱列表
	authAPI.Get("/inbox", func(ctx iris.Context) {
		teamID, err := strconv.ParseInt(ctx.URLParam("teamId"), 10, 64)
		if err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": "invalid teamId"})
			return
		}
		list, err := inboxSvc.List(ctx.Request().Context(), teamID)
		if err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": list})
	})

	// 会话消息（含附件）
	authAPI.Get("/conversations/{id:uint64}/messages", func(ctx iris.Context) {
		id, _ := ctx.Params().GetUint64("id")
		limit, err := strconv.Atoi(ctx.URLParamDefault("limit", "50"))
		if err != nil || limit <= 0 {
			limit = 50
		}
		list, err := inboxSvc.Messages(ctx.Request().Context(), int64(id), limit)
		if err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": list})
	})

	// 发送消息：入队后由 worker 异步调服务商
	authAPI.Post("/conversations/{id:uint64}/messages", middleware.SendRateLimit(), func(ctx iris.Context) {
		id, _ := ctx.Params().GetUint64("id")
		var req struct {
			Text string `json:"text"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		userID := ctx.Values().GetInt64Default("user_id", 0)
		if err := outboundSvc.Enqueue(ctx.Request().Context(), int64(id), userID, req.Text); err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.StatusCode(202)
		ctx.JSON(iris.Map{"code": 0, "msg": "queued"})
	})

	// 会话状态
	authAPI.Patch("/conversations/{id:uint64}/status", func(ctx iris.Context) {
		id, _ := ctx.Params().GetUint64("id")
		var req struct {
			Status string `json:"status"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		userID := ctx.Values().GetInt64Default("user_id", 0)
		if err := inboxSvc.SetStatus(ctx.Request().Context(), int64(id), req.Status, userID); err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	authAPI.Patch("/conversations/{id:uint64}/pinned", func(ctx iris.Context) {
		id, _ := ctx.Params().GetUint64("id")
		var req struct {
			Pinned bool `json:"pinned"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		userID := ctx.Values().GetInt64Default("user_id", 0)
		if err := inboxSvc.SetPinned(ctx.Request().Context(), int64(id), req.Pinned, userID); err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	authAPI.Patch("/conversations/{id:uint64}/blocked", func(ctx iris.Context) {
		id, _ := ctx.Params().GetUint64("id")
		var req struct {
			Blocked bool `json:"blocked"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		userID := ctx.Values().GetInt64Default("user_id", 0)
		if err := inboxSvc.SetBlocked(ctx.Request().Context(), int64(id), req.Blocked, userID); err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	// ---------- 会话归属 ----------

	// 认领会话（原子抢占，已被别人持有返回 409）
	authAPI.Post("/conversations/claim", func(ctx iris.Context) {
		var req struct {
			ConversationID int64 `json:"conversationId"`
			TeamID         int64 `json:"teamId"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		userID := ctx.Values().GetInt64Default("user_id", 0)
		a, err := assignmentSvc.Claim(ctx.Request().Context(), req.ConversationID, req.TeamID, userID)
		if err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": a})
	})

	// 改派会话（仅管理员）
	authAPI.Post("/conversations/reassign", func(ctx iris.Context) {
		var req struct {
			ConversationID    int64 `json:"conversationId"`
			TeamID            int64 `json:"teamId"`
			NewAssigneeUserID int64 `json:"newAssigneeUserId"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		userID := ctx.Values().GetInt64Default("user_id", 0)
		role := ctx.Values().GetStringDefault("role", "")
		a, err := assignmentSvc.Reassign(ctx.Request().Context(), req.ConversationID, req.TeamID, req.NewAssigneeUserID, role, userID)
		if err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": a})
	})

	// 释放会话（持有人本人或管理员）
	authAPI.Post("/conversations/release", func(ctx iris.Context) {
		var req struct {
			ConversationID int64 `json:"conversationId"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		userID := ctx.Values().GetInt64Default("user_id", 0)
		role := ctx.Values().GetStringDefault("role", "")
		if err := assignmentSvc.Release(ctx.Request().Context(), req.ConversationID, role, userID); err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	// 归属历史
	authAPI.Get("/conversations/{id:uint64}/assignments", func(ctx iris.Context) {
		id, _ := ctx.Params().GetUint64("id")
		list, err := assignmentSvc.History(ctx.Request().Context(), int64(id))
		if err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": list})
	})

	// ---------- 内部备注 ----------

	authAPI.Get("/conversations/{id:uint64}/notes", func(ctx iris.Context) {
		id, _ := ctx.Params().GetUint64("id")
		list, err := noteSvc.List(ctx.Request().Context(), int64(id), 100)
		if err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": list})
	})

	authAPI.Post("/conversations/{id:uint64}/notes", func(ctx iris.Context) {
		id, _ := ctx.Params().GetUint64("id")
		var req struct {
			Body string `json:"body"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		userID := ctx.Values().GetInt64Default("user_id", 0)
		note, err := noteSvc.Create(ctx.Request().Context(), int64(id), userID, req.Body)
		if err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": note})
	})

	authAPI.Put("/notes/{id:uint64}", func(ctx iris.Context) {
		id, _ := ctx.Params().GetUint64("id")
		var req struct {
			Body string `json:"body"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		userID := ctx.Values().GetInt64Default("user_id", 0)
		role := ctx.Values().GetStringDefault("role", "")
		note, err := noteSvc.Update(ctx.Request().Context(), int64(id), req.Body, role, userID)
		if err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": note})
	})

	authAPI.Delete("/notes/{id:uint64}", func(ctx iris.Context) {
		id, _ := ctx.Params().GetUint64("id")
		userID := ctx.Values().GetInt64Default("user_id", 0)
		role := ctx.Values().GetStringDefault("role", "")
		if err := noteSvc.Delete(ctx.Request().Context(), int64(id), role, userID); err != nil {
			writeServiceError(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	// ---------- 在线状态 ----------

	// 团队在线成员
	authAPI.Get("/team/{id:uint64}/online", func(ctx iris.Context) {
		id, _ := ctx.Params().GetUint64("id")
		members, err := registry.OnlineMembers(int64(id))
		if err != nil {
			service.GetMonitor().RecordRedisError()
			ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": iris.Map{"team_id": id, "online": members}})
	})
}
