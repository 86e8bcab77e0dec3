package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/ws", cfg.WSPath)
	assert.Equal(t, 5*time.Second, cfg.WSPingInterval)
	assert.Equal(t, 15*time.Second, cfg.WSConnectionTimeout)
	assert.True(t, cfg.WSPurgeSubscriptionsOnClose)
	assert.Equal(t, "order:status", cfg.OrderStatusStream)
	assert.NotEmpty(t, cfg.ConsumerName)
	assert.Empty(t, cfg.WSAllowedOrigins)
	assert.Equal(t, 5.0, cfg.WSHandshakeRate)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WS_PING_INTERVAL_MS", "250")
	t.Setenv("WS_CONNECTION_TIMEOUT_MS", "1000")
	t.Setenv("WS_PURGE_SUBSCRIPTIONS_ON_CLOSE", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.WSPingInterval)
	assert.Equal(t, time.Second, cfg.WSConnectionTimeout)
	assert.False(t, cfg.WSPurgeSubscriptionsOnClose)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_RejectsTimeoutShorterThanPing(t *testing.T) {
	t.Setenv("WS_PING_INTERVAL_MS", "5000")
	t.Setenv("WS_CONNECTION_TIMEOUT_MS", "5000")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsRelativePath(t *testing.T) {
	t.Setenv("WS_PATH", "ws")

	_, err := Load()
	assert.Error(t, err)
}
