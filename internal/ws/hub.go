package ws

import (
	"fmt"
	"sync"
)

// Hub 本进程的连接/房间注册表。
// 房间成员关系只存在于进程内；跨进程扇出由事件订阅端负责，
// 每个进程收到事件后各自投递自己房间里的连接。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	conns map[*Conn]map[string]struct{}
}

// NewHub 创建空 Hub
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Conn]struct{}),
		conns: make(map[*Conn]map[string]struct{}),
	}
}

// Register 登记连接并加入其默认房间：user:{id}、各 team:{id} 和 broadcast
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = make(map[string]struct{})
	h.join(c, fmt.Sprintf("user:%d", c.UserID))
	for _, teamID := range c.TeamIDs {
		h.join(c, fmt.Sprintf("team:%d", teamID))
	}
	h.join(c, "broadcast")
}

// Join 把连接加入指定房间
func (h *Hub) Join(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	h.join(c, room)
}

func (h *Hub) join(c *Conn, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Conn]struct{})
	}
	h.rooms[room][c] = struct{}{}
	h.conns[c][room] = struct{}{}
}

// Unregister 注销连接并退出全部房间
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.conns[c] {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.conns, c)
}

// Broadcast 把一帧推给房间里的所有连接；发送失败的连接直接断开
func (h *Hub) Broadcast(room string, payload []byte) {
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.Send(payload); err != nil {
			c.Close()
		}
	}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RoomSize 房间成员数
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
