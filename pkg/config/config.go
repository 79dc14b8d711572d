// Package config loads the service configuration from the environment.
// Every knob has a built-in default; the environment only overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/resolvd/decisiond/pkg/breaker"
	"github.com/resolvd/decisiond/pkg/idempotency"
	"github.com/resolvd/decisiond/pkg/services"
	"github.com/resolvd/decisiond/pkg/stream"
	"github.com/resolvd/decisiond/pkg/streamclient"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	// Port the API listens on.
	Port string
	// ShutdownTimeout is the max time to wait for running turns during
	// graceful shutdown.
	ShutdownTimeout time.Duration
}

// RedisConfig holds the shared backing store connection settings.
// An empty Addr disables Redis entirely: sessions run degraded and
// idempotency falls back to the in-process store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ProviderConfig names one upstream LLM provider. Providers are tried in
// the order they appear in Config.Providers.
type ProviderConfig struct {
	// Name is the circuit breaker identity: "anthropic" or "openai".
	Name string
	// APIKey is the provider credential.
	APIKey string
	// Model is the model identifier to request.
	Model string
}

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	Stream      stream.Config
	Breaker     breaker.Config
	Idempotency idempotency.Config
	Service     services.Config
	// Reconnect is the client reconnection policy served to UI layers.
	Reconnect streamclient.Config
	Providers []ProviderConfig
}

// LoadFromEnv builds the configuration from defaults overridden by
// environment variables. It fails on values that do not parse, never on
// absent ones.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("HTTP_PORT", "8080"),
			ShutdownTimeout: 2 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Stream:      stream.DefaultConfig(),
		Breaker:     breaker.DefaultConfig(),
		Idempotency: idempotency.DefaultConfig(),
		Service:     services.DefaultConfig(),
		Reconnect:   streamclient.DefaultConfig(),
	}

	var err error
	if cfg.Server.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	if cfg.Stream.BufferDepth, err = getInt("STREAM_BUFFER_DEPTH", cfg.Stream.BufferDepth); err != nil {
		return nil, err
	}
	if cfg.Stream.IdleExpiry, err = getDuration("STREAM_IDLE_EXPIRY", cfg.Stream.IdleExpiry); err != nil {
		return nil, err
	}
	if cfg.Stream.TokenTTL, err = getDuration("STREAM_TOKEN_TTL", cfg.Stream.TokenTTL); err != nil {
		return nil, err
	}
	if cfg.Stream.ReaperInterval, err = getDuration("STREAM_REAPER_INTERVAL", cfg.Stream.ReaperInterval); err != nil {
		return nil, err
	}
	if secret := os.Getenv("STREAM_TOKEN_SECRET"); secret != "" {
		cfg.Stream.TokenSecret = []byte(secret)
	}

	if cfg.Breaker.FailureThreshold, err = getInt("BREAKER_FAILURE_THRESHOLD", cfg.Breaker.FailureThreshold); err != nil {
		return nil, err
	}
	if cfg.Breaker.SuccessThreshold, err = getInt("BREAKER_SUCCESS_THRESHOLD", cfg.Breaker.SuccessThreshold); err != nil {
		return nil, err
	}
	if cfg.Breaker.OpenTimeout, err = getDuration("BREAKER_OPEN_TIMEOUT", cfg.Breaker.OpenTimeout); err != nil {
		return nil, err
	}

	if cfg.Idempotency.SuccessTTL, err = getDuration("IDEMPOTENCY_SUCCESS_TTL", cfg.Idempotency.SuccessTTL); err != nil {
		return nil, err
	}
	if cfg.Idempotency.PermanentErrorTTL, err = getDuration("IDEMPOTENCY_PERMANENT_ERROR_TTL", cfg.Idempotency.PermanentErrorTTL); err != nil {
		return nil, err
	}
	if cfg.Idempotency.TransientErrorTTL, err = getDuration("IDEMPOTENCY_TRANSIENT_ERROR_TTL", cfg.Idempotency.TransientErrorTTL); err != nil {
		return nil, err
	}

	if cfg.Service.HeartbeatInterval, err = getDuration("HEARTBEAT_INTERVAL", cfg.Service.HeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.Service.TurnTimeout, err = getDuration("TURN_TIMEOUT", cfg.Service.TurnTimeout); err != nil {
		return nil, err
	}
	if cfg.Service.ProviderTimeout, err = getDuration("PROVIDER_TIMEOUT", cfg.Service.ProviderTimeout); err != nil {
		return nil, err
	}

	if cfg.Reconnect.InitialDelay, err = getDuration("RECONNECT_INITIAL_DELAY", cfg.Reconnect.InitialDelay); err != nil {
		return nil, err
	}
	if cfg.Reconnect.MaxDelay, err = getDuration("RECONNECT_MAX_DELAY", cfg.Reconnect.MaxDelay); err != nil {
		return nil, err
	}
	if cfg.Reconnect.MaxAttempts, err = getInt("RECONNECT_MAX_ATTEMPTS", cfg.Reconnect.MaxAttempts); err != nil {
		return nil, err
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			Name:   "anthropic",
			APIKey: key,
			Model:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			Name:   "openai",
			APIKey: key,
			Model:  getEnv("OPENAI_MODEL", "gpt-4o"),
		})
	}

	return cfg, cfg.validate()
}

// validate rejects configurations the service cannot run with.
func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no LLM providers configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}
	if len(c.Stream.TokenSecret) == 0 {
		return fmt.Errorf("STREAM_TOKEN_SECRET is required: resume tokens must be signed")
	}
	if c.Stream.BufferDepth <= 0 {
		return fmt.Errorf("STREAM_BUFFER_DEPTH must be positive, got %d", c.Stream.BufferDepth)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive, got %d", c.Breaker.FailureThreshold)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}
