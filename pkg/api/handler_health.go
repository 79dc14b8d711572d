package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/resolvd/decisiond/pkg/version"
)

// healthHandler handles GET /api/v1/health. The service reports degraded,
// not unhealthy, when the shared store is down: turns still execute and
// stream, only resumability is lost.
func (s *Server) healthHandler(c *gin.Context) {
	resp := HealthResponse{
		Status:   "healthy",
		Version:  version.Full(),
		Store:    "disabled",
		Sessions: s.streams.SessionCount(),
		Circuits: s.circuits.Snapshot(),
	}

	if s.storePing != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.storePing(ctx); err != nil {
			resp.Status = "degraded"
			resp.Store = "unavailable"
		} else {
			resp.Store = "healthy"
		}
	}

	c.JSON(http.StatusOK, resp)
}
