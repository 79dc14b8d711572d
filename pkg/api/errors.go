package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resolvd/decisiond/pkg/services"
	"github.com/resolvd/decisiond/pkg/stream"
)

// mapServiceError writes the HTTP response for a service-layer error.
func mapServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: validErr.Error()})
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "resource not found"})
		return
	}
	if errors.Is(err, services.ErrShuttingDown) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "service is shutting down"})
		return
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

// mapStreamError writes the HTTP response for a stream attach/resume error.
// Everything the client cannot fix by retrying the resume maps to 410 Gone
// with restart_required set, which is the signal to submit a fresh turn.
func mapStreamError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, stream.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "resume token invalid"})
	case stream.RestartRequired(err):
		c.JSON(http.StatusGone, ErrorResponse{Error: err.Error(), RestartRequired: true})
	case errors.Is(err, stream.ErrDegraded):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), RestartRequired: true})
	default:
		slog.Error("Unexpected stream error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
