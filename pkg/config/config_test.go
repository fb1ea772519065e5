package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Bus.Driver)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 10, cfg.AI.HistoryLimit)
	assert.Equal(t, "AI response failed, please retry", cfg.AI.FallbackText)
	assert.Equal(t, "none", cfg.Knowledge.Driver)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BUS_DRIVER", "nats")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WS_SEND_RATE", "2.5")
	t.Setenv("AI_WORKERS", "3")

	cfg := Load()

	assert.Equal(t, "nats", cfg.Bus.Driver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, 2.5, cfg.Security.WSSendRate)
	assert.Equal(t, 3, cfg.AI.Workers)
}

func TestAITimeoutIsClamped(t *testing.T) {
	t.Setenv("AI_TIMEOUT", "2s")
	assert.Equal(t, 10*time.Second, Load().AI.Timeout)

	t.Setenv("AI_TIMEOUT", "5m")
	assert.Equal(t, 60*time.Second, Load().AI.Timeout)
}

func TestInvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "many")
	t.Setenv("VAULT_ENABLED", "perhaps")

	cfg := Load()

	assert.Equal(t, 20, cfg.Database.MaxConns)
	assert.False(t, cfg.Vault.Enabled)
}
