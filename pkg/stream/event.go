// Package stream implements the resilient delivery layer between a
// long-running decision computation and its client: ordered event delivery
// over a push connection, a bounded replay buffer, signed resume tokens, and
// a degraded mode that keeps live delivery working when the shared backing
// store is down.
//
// Each session has a single writer (the owning delivery loop). A client that
// disconnects mid-stream can reconnect with its resume token and continue
// from the last event it saw, without duplicates or gaps, as long as the
// session is still active and the buffer retains the needed range.
package stream

import (
	"encoding/json"
	"time"
)

// EventType tags a StreamEvent on the wire.
type EventType string

const (
	// EventStage announces a pipeline stage transition.
	EventStage EventType = "stage"
	// EventData carries a data payload (partial or final graph content).
	EventData EventType = "data"
	// EventHeartbeat keeps the connection alive; it carries no payload.
	EventHeartbeat EventType = "heartbeat"
	// EventError is the terminal event of a failed session.
	EventError EventType = "error"
	// EventDone is the terminal event of a completed session.
	EventDone EventType = "done"
)

// Event is one unit of progress or data pushed to the client.
type Event struct {
	// Sequence is the strictly increasing per-session position, starting
	// at 0. It doubles as the client's resume cursor.
	Sequence uint64 `json:"sequence"`
	// Type is the wire tag.
	Type EventType `json:"type"`
	// Payload is an opaque JSON value; absent for heartbeats.
	Payload json.RawMessage `json:"payload,omitempty"`
	// EmittedAt records when the event was appended.
	EmittedAt time.Time `json:"emitted_at"`
}

// Terminal reports whether no event may follow this one in its session.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// SessionState is the lifecycle state of a StreamSession.
type SessionState string

const (
	// StateActive accepts events and resume attempts.
	StateActive SessionState = "active"
	// StateClosed is terminal: normal completion or explicit close.
	StateClosed SessionState = "closed"
	// StateExpired is terminal: the idle reaper timed the session out.
	StateExpired SessionState = "expired"
)

// StagePayload is the payload of stage events.
type StagePayload struct {
	Stage   string `json:"stage"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload is the payload of terminal error events.
type ErrorPayload struct {
	// Code is a machine-readable failure class the client keys retry
	// behavior on ("transient", "permanent", "invalid_input").
	Code    string `json:"code"`
	Message string `json:"message"`
}
