package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/resolvd/decisiond/pkg/stream"
)

const (
	// degradedHeader marks a session whose resume support is unavailable.
	// Its value names the missing dependency, distinct from any payload
	// error: streaming still works, reconnecting will not.
	degradedHeader     = "X-Degraded"
	degradedDependency = "redis"
)

// attachStreamHandler handles GET /api/v1/sessions/:session_id/stream.
// This is the initial, tokenless attachment made right after submission; it
// replays anything emitted since the session opened, then delivers live.
func (s *Server) attachStreamHandler(c *gin.Context) {
	sub, err := s.streams.Attach(c.Param("session_id"))
	if err != nil {
		mapStreamError(c, err)
		return
	}
	defer sub.Close()
	s.serveStream(c, sub)
}

// resumeStreamHandler handles GET /api/v1/stream/resume?token=...&cursor=N.
// cursor is the last sequence the client saw; when absent, the standard
// Last-Event-ID header is honored, and failing both, replay starts from the
// beginning of the retained buffer.
func (s *Server) resumeStreamHandler(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "token query parameter is required"})
		return
	}

	cursor := int64(-1)
	raw := c.Query("cursor")
	if raw == "" {
		raw = c.GetHeader("Last-Event-ID")
	}
	if raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cursor must be a non-negative integer"})
			return
		}
		cursor = parsed
	}

	sub, err := s.streams.Resume(c.Request.Context(), token, cursor)
	if err != nil {
		mapStreamError(c, err)
		return
	}
	defer sub.Close()
	s.serveStream(c, sub)
}

// streamPolicyHandler handles GET /api/v1/stream/policy: the reconnection
// schedule UI layers should follow after an unexpected disconnect.
func (s *Server) streamPolicyHandler(c *gin.Context) {
	c.JSON(http.StatusOK, StreamPolicyResponse{
		InitialDelayMS: s.reconnect.InitialDelay.Milliseconds(),
		MaxDelayMS:     s.reconnect.MaxDelay.Milliseconds(),
		MaxAttempts:    s.reconnect.MaxAttempts,
	})
}

// serveStream pumps a subscription over SSE until the terminal event, the
// subscription is superseded, or the client goes away. Each frame's id is
// the event sequence, directly usable as the resume cursor.
func (s *Server) serveStream(c *gin.Context, sub *stream.Subscription) {
	if sub.Degraded {
		c.Header(degradedHeader, degradedDependency)
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			writeEvent(c, ev)
			c.Writer.Flush()
			if ev.Terminal() {
				return
			}
		case <-clientGone:
			return
		}
	}
}
