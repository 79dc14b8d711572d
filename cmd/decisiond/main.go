// decisiond server: accepts decision-graph turns over HTTP, streams
// progress over resumable SSE sessions, and consults LLM providers behind
// per-provider circuit breakers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/resolvd/decisiond/pkg/api"
	"github.com/resolvd/decisiond/pkg/breaker"
	"github.com/resolvd/decisiond/pkg/config"
	"github.com/resolvd/decisiond/pkg/idempotency"
	"github.com/resolvd/decisiond/pkg/llm"
	"github.com/resolvd/decisiond/pkg/services"
	"github.com/resolvd/decisiond/pkg/stream"
	"github.com/resolvd/decisiond/pkg/version"
)

func buildProviders(cfgs []config.ProviderConfig) []llm.Provider {
	providers := make([]llm.Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		switch pc.Name {
		case "anthropic":
			providers = append(providers, llm.NewAnthropicProvider(pc.APIKey, pc.Model))
		case "openai":
			providers = append(providers, llm.NewOpenAIProvider(pc.APIKey, pc.Model))
		default:
			slog.Warn("Unknown provider in configuration, skipping", "provider", pc.Name)
		}
	}
	return providers
}

func main() {
	// Parse command-line flags
	envFile := flag.String("env-file", ".env", "Path to optional .env file")
	flag.Parse()

	// Load .env file; absent is fine, the environment still applies
	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting decisiond",
		"version", version.Full(),
		"http_port", cfg.Server.Port,
		"providers", len(cfg.Providers),
		"redis_configured", cfg.Redis.Addr != "")

	// 2. Connect the shared backing store. A missing or unreachable Redis is
	// not fatal: sessions run degraded (no resume) and idempotency falls
	// back to the in-process store.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			slog.Warn("Redis unreachable at startup, sessions will run degraded until it recovers",
				"addr", cfg.Redis.Addr, "error", err)
		} else {
			slog.Info("Connected to Redis", "addr", cfg.Redis.Addr)
		}
		cancel()
		defer func() {
			if err := rdb.Close(); err != nil {
				slog.Error("Error closing Redis client", "error", err)
			}
		}()
	} else {
		slog.Warn("REDIS_ADDR not set, running without resume support")
	}

	// 3. Stream manager and idle-session reaper
	var sessionStore stream.SessionStore
	var idempotencyStore idempotency.Store
	if rdb != nil {
		sessionStore = stream.NewRedisStore(rdb, cfg.Stream.IdleExpiry)
		idempotencyStore = idempotency.NewRedisStore(rdb)
	} else {
		idempotencyStore = idempotency.NewMemoryStore()
	}
	streams := stream.NewManager(cfg.Stream, sessionStore)
	streams.StartReaper(ctx)
	slog.Info("Stream manager initialized",
		"buffer_depth", cfg.Stream.BufferDepth,
		"idle_expiry", cfg.Stream.IdleExpiry)

	// 4. Domain services
	providers := buildProviders(cfg.Providers)
	circuits := breaker.New(cfg.Breaker)
	cache := idempotency.NewCache(idempotencyStore, cfg.Idempotency)
	decisions := services.NewDecisionService(cfg.Service, streams, providers, circuits, cache)
	slog.Info("Services initialized")

	// 5. Create HTTP server
	var storePing func(ctx context.Context) error
	if sessionStore != nil {
		storePing = sessionStore.Ping
	}
	httpServer := api.NewServer(decisions, streams, circuits, cfg.Reconnect, storePing)

	// 6. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("decisiond started successfully")

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: drain running turns first so every open stream
	// reaches a terminal event before the transport goes away.
	drainCtx, drainCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer drainCancel()
	if err := decisions.Shutdown(drainCtx); err != nil {
		slog.Warn("Turns did not drain before deadline", "error", err)
	} else {
		slog.Info("Running turns drained")
	}

	// 9. Stop the reaper and release sessions
	streams.Stop()

	// 10. Stop HTTP server with its own timeout budget
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
