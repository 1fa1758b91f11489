package presence

import (
	"strings"
	"sync"
	"testing"

	radix "github.com/mediocregopher/radix/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teaminbox/internal/event"
)

type capturedEvent struct {
	Type  string
	Rooms []string
	Data  interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *fakePublisher) Publish(typ string, rooms []string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{Type: typ, Rooms: rooms, Data: data})
	return nil
}

func (p *fakePublisher) byType(typ string) []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []capturedEvent
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// newRedisStub 实现注册表用到的命令子集。
// EVALSHA 一律返回 NOSCRIPT，走 EVAL 路径；脚本语义按内容区分执行。
func newRedisStub(t *testing.T) radix.Client {
	t.Helper()
	var mu sync.Mutex
	sets := map[string]map[string]struct{}{}

	stub := radix.Stub("tcp", "127.0.0.1:6379", func(args []string) interface{} {
		mu.Lock()
		defer mu.Unlock()
		switch strings.ToUpper(args[0]) {
		case "EVALSHA":
			return errorNoScript{}
		case "EVAL":
			script, key, member := args[1], args[3], args[4]
			if sets[key] == nil {
				sets[key] = map[string]struct{}{}
			}
			if strings.Contains(script, "SREM") {
				if _, ok := sets[key][member]; !ok {
					return -1
				}
				delete(sets[key], member)
				n := len(sets[key])
				if n == 0 {
					delete(sets, key)
				}
				return n
			}
			sets[key][member] = struct{}{}
			return len(sets[key])
		case "SADD":
			key, member := args[1], args[2]
			if sets[key] == nil {
				sets[key] = map[string]struct{}{}
			}
			sets[key][member] = struct{}{}
			return 1
		case "SREM":
			delete(sets[args[1]], args[2])
			return 1
		case "SMEMBERS":
			var out []string
			for m := range sets[args[1]] {
				out = append(out, m)
			}
			return out
		case "EXPIRE":
			return 1
		case "DEL":
			delete(sets, args[1])
			return 1
		}
		return nil
	})
	t.Cleanup(func() { _ = stub.Close() })
	return stub
}

// errorNoScript 让 EvalScript 回退到 EVAL
type errorNoScript struct{}

func (errorNoScript) Error() string { return "NOSCRIPT No matching script. Please use EVAL." }

func TestConnect_FirstConnectionMarksOnline(t *testing.T) {
	redis := newRedisStub(t)
	pub := &fakePublisher{}
	reg := NewRegistry(redis, pub, 300)

	first, err := reg.Connect(42, "conn-1", []int64{7, 8})
	require.NoError(t, err)
	assert.True(t, first)

	online, err := reg.OnlineMembers(7)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, online)

	events := pub.byType(event.TypePresenceOnline)
	require.Len(t, events, 1)
	assert.ElementsMatch(t, []string{event.RoomTeam(7), event.RoomTeam(8)}, events[0].Rooms)
}

func TestConnect_SecondConnectionIsSilent(t *testing.T) {
	redis := newRedisStub(t)
	pub := &fakePublisher{}
	reg := NewRegistry(redis, pub, 300)

	_, err := reg.Connect(42, "conn-1", []int64{7})
	require.NoError(t, err)
	first, err := reg.Connect(42, "conn-2", []int64{7})
	require.NoError(t, err)
	assert.False(t, first)

	// 只广播过一次上线
	assert.Len(t, pub.byType(event.TypePresenceOnline), 1)
}

func TestDisconnect_LastConnectionMarksOffline(t *testing.T) {
	redis := newRedisStub(t)
	pub := &fakePublisher{}
	reg := NewRegistry(redis, pub, 300)

	_, err := reg.Connect(42, "conn-1", []int64{7})
	require.NoError(t, err)
	_, err = reg.Connect(42, "conn-2", []int64{7})
	require.NoError(t, err)

	last, err := reg.Disconnect(42, "conn-1", []int64{7})
	require.NoError(t, err)
	assert.False(t, last)
	assert.Empty(t, pub.byType(event.TypePresenceOffline))

	// 仍在线
	online, _ := reg.OnlineMembers(7)
	assert.Equal(t, []int64{42}, online)

	last, err = reg.Disconnect(42, "conn-2", []int64{7})
	require.NoError(t, err)
	assert.True(t, last)
	assert.Len(t, pub.byType(event.TypePresenceOffline), 1)

	online, _ = reg.OnlineMembers(7)
	assert.Empty(t, online)
}

func TestDisconnect_UnknownConnectionIsSilent(t *testing.T) {
	redis := newRedisStub(t)
	pub := &fakePublisher{}
	reg := NewRegistry(redis, pub, 300)

	_, err := reg.Connect(42, "conn-1", []int64{7})
	require.NoError(t, err)

	// 从未登记过的连接 id：不能把活跃用户误判为下线
	last, err := reg.Disconnect(42, "ghost", []int64{7})
	require.NoError(t, err)
	assert.False(t, last)
	assert.Empty(t, pub.byType(event.TypePresenceOffline))

	online, _ := reg.OnlineMembers(7)
	assert.Equal(t, []int64{42}, online)
}

func TestDisconnect_DuplicateBroadcastsOfflineOnce(t *testing.T) {
	redis := newRedisStub(t)
	pub := &fakePublisher{}
	reg := NewRegistry(redis, pub, 300)

	_, err := reg.Connect(42, "conn-1", []int64{7})
	require.NoError(t, err)

	last, err := reg.Disconnect(42, "conn-1", []int64{7})
	require.NoError(t, err)
	assert.True(t, last)

	// 同一连接重复断开（并发断开的迟到方）不再触发第二次下线
	last, err = reg.Disconnect(42, "conn-1", []int64{7})
	require.NoError(t, err)
	assert.False(t, last)
	assert.Len(t, pub.byType(event.TypePresenceOffline), 1)
}

func TestRefresh_ExtendsTTLWithoutBroadcast(t *testing.T) {
	redis := newRedisStub(t)
	pub := &fakePublisher{}
	reg := NewRegistry(redis, pub, 300)

	_, err := reg.Connect(42, "conn-1", []int64{7})
	require.NoError(t, err)

	// 心跳续期只刷新过期时间，不得重放上线/下线广播
	require.NoError(t, reg.Refresh(42))
	require.NoError(t, reg.Refresh(42))
	assert.Len(t, pub.byType(event.TypePresenceOnline), 1)
	assert.Empty(t, pub.byType(event.TypePresenceOffline))

	online, _ := reg.OnlineMembers(7)
	assert.Equal(t, []int64{42}, online)
}
