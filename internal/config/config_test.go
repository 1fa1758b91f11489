package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.False(t, cfg.IsProduction())
	assert.NotEmpty(t, cfg.Webhook.Secret)
	assert.NotEmpty(t, cfg.JWT.Secret)
	assert.Greater(t, cfg.Presence.ConnTTLSeconds, 0)
	assert.Greater(t, cfg.Provider.SendIntervalSeconds, 0)
}

func TestIsProduction(t *testing.T) {
	cfg := &Config{Env: "production"}
	assert.True(t, cfg.IsProduction())
}
