// Package api exposes the HTTP surface: turn submission, the SSE event
// stream with resume, the reconnection policy for UI layers, and health.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resolvd/decisiond/pkg/breaker"
	"github.com/resolvd/decisiond/pkg/services"
	"github.com/resolvd/decisiond/pkg/stream"
	"github.com/resolvd/decisiond/pkg/streamclient"
)

// Server is the HTTP API server.
type Server struct {
	decisions *services.DecisionService
	streams   *stream.Manager
	circuits  *breaker.Breaker
	reconnect streamclient.Config

	// storePing probes the shared backing store for the health endpoint;
	// nil when the store is not configured.
	storePing func(ctx context.Context) error

	engine *gin.Engine
	http   *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(
	decisions *services.DecisionService,
	streams *stream.Manager,
	circuits *breaker.Breaker,
	reconnect streamclient.Config,
	storePing func(ctx context.Context) error,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), securityHeaders())

	s := &Server{
		decisions: decisions,
		streams:   streams,
		circuits:  circuits,
		reconnect: reconnect,
		storePing: storePing,
		engine:    engine,
	}

	v1 := engine.Group("/api/v1")
	v1.POST("/decisions", s.submitDecisionHandler)
	v1.GET("/sessions/:session_id/stream", s.attachStreamHandler)
	v1.GET("/stream/resume", s.resumeStreamHandler)
	v1.GET("/stream/policy", s.streamPolicyHandler)
	v1.GET("/health", s.healthHandler)

	return s
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}
	return s.http.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
