package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("STREAM_TOKEN_SECRET", "test-secret")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 50, cfg.Stream.BufferDepth)
	assert.Equal(t, 5*time.Minute, cfg.Stream.IdleExpiry)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.OpenTimeout)
	assert.Equal(t, 30*time.Second, cfg.Idempotency.TransientErrorTTL)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.SuccessTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.InitialDelay)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "anthropic", cfg.Providers[0].Name)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("STREAM_BUFFER_DEPTH", "100")
	t.Setenv("BREAKER_OPEN_TIMEOUT", "45s")
	t.Setenv("IDEMPOTENCY_TRANSIENT_ERROR_TTL", "10s")
	t.Setenv("OPENAI_API_KEY", "sk-other")
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 100, cfg.Stream.BufferDepth)
	assert.Equal(t, 45*time.Second, cfg.Breaker.OpenTimeout)
	assert.Equal(t, 10*time.Second, cfg.Idempotency.TransientErrorTTL)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "anthropic", cfg.Providers[0].Name, "anthropic is tried first")
	assert.Equal(t, "openai", cfg.Providers[1].Name)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers[1].Model)
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	t.Run("unparseable duration", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("BREAKER_OPEN_TIMEOUT", "soon")
		_, err := LoadFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "BREAKER_OPEN_TIMEOUT")
	})

	t.Run("no providers", func(t *testing.T) {
		t.Setenv("STREAM_TOKEN_SECRET", "test-secret")
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "")
		_, err := LoadFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no LLM providers")
	})

	t.Run("missing token secret", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-test")
		t.Setenv("STREAM_TOKEN_SECRET", "")
		_, err := LoadFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "STREAM_TOKEN_SECRET")
	})
}
