package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// clientFrame 客户端上行帧
type clientFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
}

// Conn 一条已认证的客户端长连接
type Conn struct {
	ID      string
	UserID  int64
	TeamIDs []int64

	// OnHeartbeat 每个 ping 周期回调一次，用于给在线注册表续期，
	// 否则长寿命连接的注册项会先于连接本身过期
	OnHeartbeat func()

	ws     *websocket.Conn
	hub    *Hub
	sendCh chan []byte

	mu     sync.Mutex
	closed bool
}

// NewConn 包装一条已完成鉴权的 websocket 连接
func NewConn(id string, userID int64, teamIDs []int64, wsConn *websocket.Conn, hub *Hub) *Conn {
	return &Conn{
		ID:      id,
		UserID:  userID,
		TeamIDs: teamIDs,
		ws:      wsConn,
		hub:     hub,
		sendCh:  make(chan []byte, sendBuffer),
	}
}

// ReadLoop 读取客户端帧直到连接断开。
// 目前客户端只有一种指令：join:conversation，加入会话房间后
// 在连接生命周期内不再退出（多收事件无害）。
func (c *Conn) ReadLoop() {
	defer c.Close()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws read error: %v", err)
			}
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "join:conversation":
			if frame.ConversationID > 0 && c.hub != nil {
				c.hub.Join(c, fmt.Sprintf("conversation:%d", frame.ConversationID))
			}
		}
	}
}

// WriteLoop 发送下行帧并定期 ping
func (c *Conn) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sendCh:
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.OnHeartbeat != nil {
				c.OnHeartbeat()
			}
		}
	}
}

// Send 异步发送一帧；缓冲区满说明客户端卡死，返回错误由调用方断开
func (c *Conn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close 关闭连接（幂等）
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.sendCh)
	c.mu.Unlock()

	if c.ws != nil {
		_ = c.ws.Close()
	}
	if c.hub != nil {
		c.hub.Unregister(c)
	}
}
