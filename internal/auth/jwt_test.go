package auth

import (
	"context"
	"sync"
	"testing"

	radix "github.com/mediocregopher/radix/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teaminbox/internal/config"
)

func TestGenerateAndParseToken(t *testing.T) {
	cfg := &config.JWTConfig{Secret: "unit-test-secret"}

	token, err := GenerateToken(cfg, 42, RoleAgent, []int64{7, 8})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, RoleAgent, claims.Role)
	assert.Equal(t, []int64{7, 8}, claims.TeamIDs)
	assert.False(t, claims.IsAdmin())
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken(&config.JWTConfig{Secret: "secret-a"}, 42, RoleAgent, nil)
	require.NoError(t, err)

	_, err = ParseToken(&config.JWTConfig{Secret: "secret-b"}, token)
	assert.Error(t, err)
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := ParseToken(&config.JWTConfig{Secret: "s"}, "not.a.token")
	assert.Error(t, err)
}

func TestIsAdmin(t *testing.T) {
	assert.True(t, (&Claims{Role: RoleAdmin}).IsAdmin())
	assert.False(t, (&Claims{Role: RoleAgent}).IsAdmin())
}

// newCacheStub 支持 GET/SETEX/DEL 的 redis 替身
func newCacheStub(t *testing.T) radix.Client {
	t.Helper()
	var mu sync.Mutex
	kv := map[string]string{}

	stub := radix.Stub("tcp", "127.0.0.1:6379", func(args []string) interface{} {
		mu.Lock()
		defer mu.Unlock()
		switch args[0] {
		case "GET":
			if v, ok := kv[args[1]]; ok {
				return v
			}
			return nil
		case "SETEX":
			kv[args[1]] = args[3]
			return "OK"
		case "DEL":
			delete(kv, args[1])
			return 1
		}
		return nil
	})
	t.Cleanup(func() { _ = stub.Close() })
	return stub
}

func TestTokenCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := &config.JWTConfig{Secret: "unit-test-secret"}
	cache := NewTokenCache(newCacheStub(t), 0)

	token, err := GenerateToken(cfg, 42, RoleAdmin, []int64{7})
	require.NoError(t, err)
	claims, err := ParseToken(cfg, token)
	require.NoError(t, err)

	// 未缓存时 miss
	_, hit, err := cache.Get(ctx, token)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, token, claims))

	cached, hit, err := cache.Get(ctx, token)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, int64(42), cached.UserID)
	assert.Equal(t, RoleAdmin, cached.Role)
}

func TestTokenCache_NilRedisIsNoop(t *testing.T) {
	cache := NewTokenCache(nil, 0)
	_, hit, err := cache.Get(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, cache.Set(context.Background(), "tok", &Claims{}))
}
