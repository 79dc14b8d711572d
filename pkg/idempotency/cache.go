// Package idempotency deduplicates retried client submissions for the same
// logical turn. The key is application-level identity (scenario + client
// turn), not network-level request identity, so a client that retries after
// a disconnect reuses the outcome of the original submission instead of
// re-triggering an expensive, non-deterministic LLM run.
//
// The classification boundary is the correctness-critical decision here:
// outcomes caused by invalid client input are never stored, because a
// corrected resubmission under the same id must be re-validated fresh;
// transient upstream failures are stored just long enough to absorb a retry
// storm; successes and permanent failures are stored for the long haul.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Classification describes whether and how long an outcome may be replayed.
type Classification string

const (
	// ClassCacheableSuccess marks a completed decision graph.
	ClassCacheableSuccess Classification = "cacheable_success"
	// ClassCacheablePermanentError marks an upstream rejection that a
	// retry will not fix.
	ClassCacheablePermanentError Classification = "cacheable_permanent_error"
	// ClassCacheableTransientError marks an upstream condition worth
	// retrying once it clears; stored with a short expiry only.
	ClassCacheableTransientError Classification = "cacheable_transient_error"
	// ClassNonCacheable marks outcomes that must never be stored
	// (invalid client input).
	ClassNonCacheable Classification = "non_cacheable"
)

// ErrorKind is the outcome-level error taxonomy set by the service layer.
type ErrorKind string

const (
	// ErrorKindNone marks a successful outcome.
	ErrorKindNone ErrorKind = ""
	// ErrorKindTransient marks a transient upstream failure.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent marks a permanent upstream failure.
	ErrorKindPermanent ErrorKind = "permanent"
	// ErrorKindInvalidInput marks a client input error.
	ErrorKindInvalidInput ErrorKind = "invalid_input"
)

// Outcome is the stored result of one completed submission.
type Outcome struct {
	// SessionID is the stream session that delivered (or failed) this turn.
	SessionID string `json:"session_id"`
	// Result is the success envelope (the decision graph plus its integrity
	// hash), nil for error outcomes.
	Result json.RawMessage `json:"result,omitempty"`
	// ErrorKind classifies the failure, empty on success.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	// ErrorMessage is the client-safe failure description.
	ErrorMessage string `json:"error_message,omitempty"`
	// CompletedAt records when the outcome was produced.
	CompletedAt time.Time `json:"completed_at"`
}

// Entry is an Outcome plus its cache metadata, as held by a Store.
type Entry struct {
	Key            string         `json:"key"`
	Outcome        Outcome        `json:"outcome"`
	Classification Classification `json:"classification"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// Store is the keyed backing store for idempotency entries. Implementations
// must provide per-key atomicity: concurrent writes to different keys must
// not contend, and a write for one key is last-write-wins.
type Store interface {
	// Get returns the entry for key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set stores an entry with the given TTL, overwriting any prior entry.
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	// Delete removes the entry for key, if present.
	Delete(ctx context.Context, key string) error
}

// Config holds the per-classification cache TTLs.
type Config struct {
	// SuccessTTL applies to cacheable_success outcomes.
	SuccessTTL time.Duration
	// PermanentErrorTTL applies to cacheable_permanent_error outcomes.
	PermanentErrorTTL time.Duration
	// TransientErrorTTL applies to cacheable_transient_error outcomes.
	// Long enough to dedupe an immediate retry storm, short enough that a
	// genuine retry after the condition clears is not starved.
	TransientErrorTTL time.Duration
}

// DefaultConfig returns the built-in TTL defaults.
func DefaultConfig() Config {
	return Config{
		SuccessTTL:        24 * time.Hour,
		PermanentErrorTTL: 24 * time.Hour,
		TransientErrorTTL: 30 * time.Second,
	}
}

// Cache maps (scenario_id, client_turn_id) to previously computed outcomes.
type Cache struct {
	store Store
	cfg   Config
}

// NewCache creates a Cache over the given store.
func NewCache(store Store, cfg Config) *Cache {
	return &Cache{store: store, cfg: cfg}
}

// Key builds the canonical cache key for a scenario/turn pair.
func Key(scenarioID, clientTurnID string) string {
	return fmt.Sprintf("idem:%s:%s", scenarioID, clientTurnID)
}

// Get returns the cached outcome for the pair, or ok=false on a miss.
// A miss is an ordinary return value, never an error.
func (c *Cache) Get(ctx context.Context, scenarioID, clientTurnID string) (*Outcome, bool, error) {
	entry, ok, err := c.store.Get(ctx, Key(scenarioID, clientTurnID))
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	outcome := entry.Outcome
	return &outcome, true, nil
}

// Put classifies the outcome and stores it under the pair's key, unless the
// classification is non_cacheable. Successive writes with the same key
// overwrite the prior entry.
func (c *Cache) Put(ctx context.Context, scenarioID, clientTurnID string, outcome Outcome) error {
	class := classify(outcome)
	if class == ClassNonCacheable {
		// Invalid input must be re-validated on resubmission; caching it
		// would wrongly block a corrected retry under the same id.
		slog.Debug("Skipping idempotency store for non-cacheable outcome",
			"scenario_id", scenarioID, "client_turn_id", clientTurnID)
		return nil
	}

	ttl := c.ttlFor(class)
	key := Key(scenarioID, clientTurnID)
	entry := Entry{
		Key:            key,
		Outcome:        outcome,
		Classification: class,
		ExpiresAt:      time.Now().Add(ttl),
	}
	if err := c.store.Set(ctx, key, entry, ttl); err != nil {
		return fmt.Errorf("idempotency put: %w", err)
	}
	return nil
}

// classify maps an outcome's error kind to its cache classification.
func classify(outcome Outcome) Classification {
	switch outcome.ErrorKind {
	case ErrorKindNone:
		return ClassCacheableSuccess
	case ErrorKindTransient:
		return ClassCacheableTransientError
	case ErrorKindPermanent:
		return ClassCacheablePermanentError
	default:
		return ClassNonCacheable
	}
}

func (c *Cache) ttlFor(class Classification) time.Duration {
	switch class {
	case ClassCacheableSuccess:
		return c.cfg.SuccessTTL
	case ClassCacheablePermanentError:
		return c.cfg.PermanentErrorTTL
	default:
		return c.cfg.TransientErrorTTL
	}
}
