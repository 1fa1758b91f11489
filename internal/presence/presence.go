package presence

import (
	"fmt"
	"log"
	"strconv"

	radix "github.com/mediocregopher/radix/v3"

	"github.com/example/teaminbox/internal/event"
)

const (
	connSetKey = "presence:conns:%d" // userID -> 连接 id 集合
	teamSetKey = "presence:team:%d"  // teamID -> 在线成员集合
)

// 上线/下线判定必须和集合写入在同一原子步骤里完成：
// 两个连接并发建立时，只有让 SCARD 返回 1 的那一次触发上线广播。
var (
	connectScript = radix.NewEvalScript(1, `
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return redis.call('SCARD', KEYS[1])`)

	disconnectScript = radix.NewEvalScript(1, `
if redis.call('SREM', KEYS[1], ARGV[1]) == 0 then
	return -1
end
local n = redis.call('SCARD', KEYS[1])
if n == 0 then
	redis.call('DEL', KEYS[1])
end
return n`)
)

// Registry 跨进程在线状态注册表。
// 同一用户可能在多个进程上持有多个连接，所以连接集合放在
// Redis 里，用原子操作的返回值判定首连/末连迁移。
type Registry struct {
	redis      radix.Client
	publisher  event.Publisher
	connTTLSec int
}

// NewRegistry 创建注册表
func NewRegistry(redis radix.Client, publisher event.Publisher, connTTLSec int) *Registry {
	if connTTLSec <= 0 {
		connTTLSec = 300
	}
	return &Registry{redis: redis, publisher: publisher, connTTLSec: connTTLSec}
}

// Connect 登记一条新连接。
// 集合大小恰好变为 1 时标记用户上线：加入各团队在线集合并广播 presence:online。
// 返回本次是否为首连迁移。
func (r *Registry) Connect(userID int64, connID string, teamIDs []int64) (bool, error) {
	key := fmt.Sprintf(connSetKey, userID)
	var card int
	if err := r.redis.Do(connectScript.Cmd(&card, key, connID, strconv.Itoa(r.connTTLSec))); err != nil {
		return false, err
	}
	if card != 1 {
		return false, nil
	}
	for _, teamID := range teamIDs {
		if err := r.redis.Do(radix.FlatCmd(nil, "SADD", fmt.Sprintf(teamSetKey, teamID), userID)); err != nil {
			return true, err
		}
	}
	r.broadcast(event.TypePresenceOnline, userID, teamIDs)
	return true, nil
}

// Disconnect 注销一条连接。
// 只有真正移除了集合成员且集合随之清空的那一次触发下线广播：
// 重复断开或从未登记的连接 id 不会再次广播 presence:offline。
func (r *Registry) Disconnect(userID int64, connID string, teamIDs []int64) (bool, error) {
	key := fmt.Sprintf(connSetKey, userID)
	var card int
	if err := r.redis.Do(disconnectScript.Cmd(&card, key, connID)); err != nil {
		return false, err
	}
	if card != 0 {
		return false, nil
	}
	for _, teamID := range teamIDs {
		if err := r.redis.Do(radix.FlatCmd(nil, "SREM", fmt.Sprintf(teamSetKey, teamID), userID)); err != nil {
			return true, err
		}
	}
	r.broadcast(event.TypePresenceOffline, userID, teamIDs)
	return true, nil
}

// Refresh 刷新连接集合的过期时间，心跳时调用
func (r *Registry) Refresh(userID int64) error {
	key := fmt.Sprintf(connSetKey, userID)
	return r.redis.Do(radix.Cmd(nil, "EXPIRE", key, strconv.Itoa(r.connTTLSec)))
}

// OnlineMembers 查询团队当前在线成员
func (r *Registry) OnlineMembers(teamID int64) ([]int64, error) {
	var raw []string
	if err := r.redis.Do(radix.Cmd(&raw, "SMEMBERS", fmt.Sprintf(teamSetKey, teamID))); err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (r *Registry) broadcast(typ string, userID int64, teamIDs []int64) {
	if r.publisher == nil {
		return
	}
	rooms := make([]string, 0, len(teamIDs))
	for _, teamID := range teamIDs {
		rooms = append(rooms, event.RoomTeam(teamID))
	}
	if len(rooms) == 0 {
		return
	}
	if err := r.publisher.Publish(typ, rooms, map[string]interface{}{"user_id": userID}); err != nil {
		log.Printf("publish %s failed: %v", typ, err)
	}
}
