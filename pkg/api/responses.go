package api

import (
	"encoding/json"

	"github.com/resolvd/decisiond/pkg/breaker"
)

// SubmitDecisionResponse answers a submission that started a new turn.
type SubmitDecisionResponse struct {
	SessionID string `json:"session_id"`
	// ResumeToken is presented on GET /api/v1/stream/resume after a
	// disconnect; empty for degraded sessions.
	ResumeToken string `json:"resume_token,omitempty"`
	// StreamURL is where to attach for live events.
	StreamURL string `json:"stream_url"`
	Degraded  bool   `json:"degraded,omitempty"`
	Status    string `json:"status"`
}

// CachedDecisionResponse answers a submission replayed from the idempotency
// cache. Exactly one of Result or Error is set.
type CachedDecisionResponse struct {
	SessionID string          `json:"session_id"`
	Status    string          `json:"status"`
	Cached    bool            `json:"cached"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *CachedError    `json:"error,omitempty"`
}

// CachedError is the replayed failure of a previously completed turn.
type CachedError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// DuplicateDecisionResponse answers a submission whose identical original is
// still executing.
type DuplicateDecisionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
	Detail    string `json:"detail"`
}

// StreamPolicyResponse is the reconnection policy UI layers follow.
type StreamPolicyResponse struct {
	InitialDelayMS int64 `json:"initial_delay_ms"`
	MaxDelayMS     int64 `json:"max_delay_ms"`
	MaxAttempts    int   `json:"max_attempts"`
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	// Store reports the shared backing store: "healthy", "unavailable"
	// or "disabled".
	Store    string           `json:"store"`
	Sessions int              `json:"sessions"`
	Circuits []breaker.Status `json:"circuits"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error string `json:"error"`
	// RestartRequired tells the client resuming is pointless; it must
	// submit a fresh turn.
	RestartRequired bool `json:"restart_required,omitempty"`
}
