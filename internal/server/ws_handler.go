package server

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"

	"github.com/example/teaminbox/internal/auth"
	"github.com/example/teaminbox/internal/config"
	"github.com/example/teaminbox/internal/presence"
	"github.com/example/teaminbox/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsIdentity 握手阶段解析出的连接身份
type wsIdentity struct {
	UserID  int64
	TeamIDs []int64
}

// resolveIdentity 优先走 JWT；开发环境允许 uid/teams 明文参数方便联调
func resolveIdentity(ctx iris.Context, cfg *config.Config) (*wsIdentity, bool) {
	if token := ctx.URLParam("token"); token != "" {
		claims, err := auth.ParseToken(&cfg.JWT, token)
		if err != nil {
			return nil, false
		}
		return &wsIdentity{UserID: claims.UserID, TeamIDs: claims.TeamIDs}, true
	}

	if cfg.IsProduction() {
		return nil, false
	}
	uid, err := strconv.ParseInt(ctx.URLParam("uid"), 10, 64)
	if err != nil || uid <= 0 {
		return nil, false
	}
	var teamIDs []int64
	for _, part := range strings.Split(ctx.URLParam("teams"), ",") {
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		teamIDs = append(teamIDs, id)
	}
	return &wsIdentity{UserID: uid, TeamIDs: teamIDs}, true
}

// handleWS websocket 握手入口。
// 鉴权失败直接 401，不升级协议；升级后登记到本地 Hub 与全局在线注册表，
// 连接断开时反向注销。
func handleWS(cfg *config.Config, hub *ws.Hub, registry *presence.Registry) iris.Handler {
	return func(ctx iris.Context) {
		identity, ok := resolveIdentity(ctx, cfg)
		if !ok {
			ctx.StopWithJSON(401, iris.Map{"code": 401, "msg": "unauthorized"})
			return
		}

		wsConn, err := upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
		if err != nil {
			log.Printf("ws upgrade failed: %v", err)
			return
		}

		connID := uuid.NewString()
		conn := ws.NewConn(connID, identity.UserID, identity.TeamIDs, wsConn, hub)
		conn.OnHeartbeat = func() {
			if err := registry.Refresh(identity.UserID); err != nil {
				log.Printf("presence refresh failed: %v", err)
			}
		}
		hub.Register(conn)

		if _, err := registry.Connect(identity.UserID, connID, identity.TeamIDs); err != nil {
			log.Printf("presence connect failed: %v", err)
		}

		go conn.WriteLoop()
		conn.ReadLoop()

		if _, err := registry.Disconnect(identity.UserID, connID, identity.TeamIDs); err != nil {
			log.Printf("presence disconnect failed: %v", err)
		}
	}
}
