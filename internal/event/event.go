package event

import (
	"fmt"
	"time"
)

// 事件类型，同时是推给客户端的事件名
const (
	TypeMessageNew           = "message:new"
	TypeAssignmentClaimed    = "assignment:claimed"
	TypeAssignmentReassigned = "assignment:reassigned"
	TypeAssignmentReleased   = "assignment:released"
	TypePresenceOnline       = "presence:online"
	TypePresenceOffline      = "presence:offline"
	TypeStaffNoteNew         = "staff_note:new"
	TypeStaffNoteUpdated     = "staff_note:updated"
	TypeStaffNoteDeleted     = "staff_note:deleted"
)

// RoomBroadcast 全员房间
const RoomBroadcast = "broadcast"

// RoomUser 用户房间
func RoomUser(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// RoomTeam 团队房间
func RoomTeam(teamID int64) string {
	return fmt.Sprintf("team:%d", teamID)
}

// RoomConversation 会话房间
func RoomConversation(conversationID int64) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// Meta 事件元信息
type Meta struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
	Type string    `json:"type"`
}

// Envelope 跨进程事件信封：rooms 决定投递范围，data 原样推给客户端
type Envelope struct {
	Meta  Meta        `json:"meta"`
	Rooms []string    `json:"rooms"`
	Data  interface{} `json:"data"`
}

// Publisher 事件发布接口，业务层只依赖它
type Publisher interface {
	Publish(typ string, rooms []string, data interface{}) error
}

// Broadcaster 本进程内把事件帧投递到房间里的连接
type Broadcaster interface {
	Broadcast(room string, payload []byte)
}
