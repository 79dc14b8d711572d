// Package breaker gates calls to upstream LLM providers with a per-provider
// circuit breaker. A provider that fails repeatedly is cut off for a cooling
// period, then probed with a limited number of trial calls before traffic is
// fully restored. Providers are isolated: a failing secondary never blocks
// the primary.
package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State is the health state of one provider's circuit.
type State string

const (
	// StateClosed admits all calls (normal operation).
	StateClosed State = "closed"
	// StateOpen rejects all calls until the open timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen admits probe calls to test recovery.
	StateHalfOpen State = "half_open"
)

// Config holds the breaker tunables, shared by all provider circuits.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again. Values above 1 keep a single
	// lucky probe from flapping a flaky provider back to closed.
	SuccessThreshold int
	// OpenTimeout is how long an open circuit waits before allowing a
	// half-open probe.
	OpenTimeout time.Duration
}

// DefaultConfig returns the built-in breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// Status is a point-in-time snapshot of one provider circuit, exposed by the
// health endpoint.
type Status struct {
	Provider      string    `json:"provider"`
	State         State     `json:"state"`
	FailureCount  int       `json:"failure_count"`
	SuccessCount  int       `json:"success_count"`
	LastFailureAt time.Time `json:"last_failure_at,omitzero"`
	NextRetryAt   time.Time `json:"next_retry_at,omitzero"`
}

// circuit is the mutable state for a single provider. Each circuit has its
// own lock so concurrent updates to different providers never contend.
type circuit struct {
	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	lastFailureAt time.Time
	nextRetryAt   time.Time
}

// Breaker tracks circuit state per provider identifier. Circuits are created
// lazily on first reference and live for the process lifetime.
type Breaker struct {
	cfg Config

	mu       sync.RWMutex
	circuits map[string]*circuit

	// now is swapped in tests to drive the open-timeout clock.
	now func() time.Time
}

// New creates a Breaker with the given configuration.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:      cfg,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

// Allow reports whether a call to the provider should be attempted.
// Closed and half-open circuits admit; an open circuit admits only by
// transitioning to half-open once the open timeout has elapsed; the
// transition is evaluated lazily here, there is no background timer.
//
// Callers must report the outcome of every admitted call via RecordSuccess
// or RecordFailure; the breaker does not make calls itself.
func (b *Breaker) Allow(providerID string) bool {
	c := b.circuit(providerID)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if !b.now().Before(c.nextRetryAt) {
			b.transition(providerID, c, StateHalfOpen)
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful call outcome. Side effect only.
func (b *Breaker) RecordSuccess(providerID string) {
	c := b.circuit(providerID)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		// No accumulation across unrelated failures.
		c.failureCount = 0
	case StateHalfOpen:
		c.successCount++
		if c.successCount >= b.cfg.SuccessThreshold {
			b.transition(providerID, c, StateClosed)
		}
	case StateOpen:
		// A stale success from a call admitted before the circuit opened.
		// Ignored: recovery is decided by half-open probes only.
	}
}

// RecordFailure records a failed call outcome. Side effect only.
func (b *Breaker) RecordFailure(providerID string) {
	c := b.circuit(providerID)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastFailureAt = b.now()

	switch c.state {
	case StateClosed:
		c.failureCount++
		if c.failureCount >= b.cfg.FailureThreshold {
			b.open(providerID, c)
		}
	case StateHalfOpen:
		// Any half-open failure re-opens immediately with a fresh wait.
		b.open(providerID, c)
	case StateOpen:
		// Already open; nothing to update beyond lastFailureAt.
	}
}

// Register creates the circuit for a provider if it does not exist yet.
// Registering configured providers up front makes them visible in Snapshot
// before any traffic has touched them.
func (b *Breaker) Register(providerID string) {
	b.circuit(providerID)
}

// Snapshot returns the current status of every known circuit, for the
// health endpoint.
func (b *Breaker) Snapshot() []Status {
	b.mu.RLock()
	ids := make([]string, 0, len(b.circuits))
	for id := range b.circuits {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	statuses := make([]Status, 0, len(ids))
	for _, id := range ids {
		c := b.circuit(id)
		c.mu.Lock()
		statuses = append(statuses, Status{
			Provider:      id,
			State:         c.state,
			FailureCount:  c.failureCount,
			SuccessCount:  c.successCount,
			LastFailureAt: c.lastFailureAt,
			NextRetryAt:   c.nextRetryAt,
		})
		c.mu.Unlock()
	}
	return statuses
}

// circuit returns the circuit for a provider, creating it lazily.
func (b *Breaker) circuit(providerID string) *circuit {
	b.mu.RLock()
	c, ok := b.circuits[providerID]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.circuits[providerID]; ok {
		return c
	}
	c = &circuit{state: StateClosed}
	b.circuits[providerID] = c
	return c
}

// open moves a circuit to the open state with a fresh retry deadline.
// Caller holds c.mu.
func (b *Breaker) open(providerID string, c *circuit) {
	b.transition(providerID, c, StateOpen)
	c.nextRetryAt = b.now().Add(b.cfg.OpenTimeout)
}

// transition applies a state change and resets both counters.
// Caller holds c.mu.
func (b *Breaker) transition(providerID string, c *circuit, to State) {
	from := c.state
	c.state = to
	c.failureCount = 0
	c.successCount = 0
	if to != StateOpen {
		c.nextRetryAt = time.Time{}
	}
	slog.Info("Circuit breaker state change",
		"provider", providerID, "from", from, "to", to)
}
