package streamclient

import (
	"sync"
	"time"
)

// State is the connection state exposed to the caller.
type State string

const (
	// StateConnected means the stream is attached and delivering.
	StateConnected State = "connected"
	// StateReconnecting means a disconnect happened and a retry is
	// scheduled; Status.Attempt says which one.
	StateReconnecting State = "reconnecting"
	// StateFailed means the attempt budget is exhausted or the server
	// told us to restart; the caller must start a fresh submission.
	StateFailed State = "failed"
)

// Config tunes the reconnection policy.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxAttempts caps consecutive reconnect attempts; 0 means unlimited.
	MaxAttempts int
}

// DefaultConfig returns the reconnection defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  10,
	}
}

// Status is the externally visible snapshot: connection state, which
// reconnect attempt is in progress, and the resume cursor to present on the
// next attempt (-1 before any event arrives).
type Status struct {
	State   State `json:"state"`
	Attempt int   `json:"attempt,omitempty"`
	Cursor  int64 `json:"cursor"`
}

// Reconnector is the client-side reconnection state machine. The transport
// driver reports connection events into it; it decides whether and when to
// retry and keeps the resume cursor current. It owns no timers: the caller
// sleeps for the returned delay, which keeps the policy testable.
type Reconnector struct {
	cfg Config

	mu       sync.Mutex
	status   Status
	onChange func(Status)
}

// NewReconnector creates a Reconnector in the reconnecting-toward-first-
// connection state with no cursor. onChange, if non-nil, is invoked after
// every state transition with the new status; it must not call back into the
// Reconnector.
func NewReconnector(cfg Config, onChange func(Status)) *Reconnector {
	def := DefaultConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Reconnector{
		cfg:      cfg,
		status:   Status{State: StateReconnecting, Cursor: -1},
		onChange: onChange,
	}
}

// Connected records a successful (re)attachment. The attempt counter resets
// so a later disconnect starts a fresh backoff schedule.
func (r *Reconnector) Connected() {
	r.mu.Lock()
	r.status.State = StateConnected
	r.status.Attempt = 0
	r.transitionLocked()
}

// Observed advances the resume cursor past a delivered event.
func (r *Reconnector) Observed(sequence uint64) {
	r.mu.Lock()
	if int64(sequence) > r.status.Cursor {
		r.status.Cursor = int64(sequence)
	}
	r.mu.Unlock()
}

// Disconnected records an unexpected disconnect. It returns the delay to
// wait before the next attempt and whether a retry should happen at all;
// retry=false means the machine moved to StateFailed.
func (r *Reconnector) Disconnected() (delay time.Duration, retry bool) {
	r.mu.Lock()
	r.status.Attempt++
	if r.cfg.MaxAttempts > 0 && r.status.Attempt > r.cfg.MaxAttempts {
		r.status.State = StateFailed
		r.transitionLocked()
		return 0, false
	}
	r.status.State = StateReconnecting
	delay = Delay(r.status.Attempt, r.cfg.InitialDelay, r.cfg.MaxDelay)
	r.transitionLocked()
	return delay, true
}

// RestartRequired records a server verdict that the session cannot be
// resumed. No further retries; the caller re-submits from scratch.
func (r *Reconnector) RestartRequired() {
	r.mu.Lock()
	r.status.State = StateFailed
	r.transitionLocked()
}

// Status returns the current snapshot.
func (r *Reconnector) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// transitionLocked snapshots the status, releases the lock, and fires the
// change callback outside it.
func (r *Reconnector) transitionLocked() {
	snapshot := r.status
	r.mu.Unlock()
	if r.onChange != nil {
		r.onChange(snapshot)
	}
}
