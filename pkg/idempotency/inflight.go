package idempotency

import "sync"

// InFlight tracks submissions that are currently executing, keyed the same
// way as the cache. The cache only dedupes completed outcomes; this registry
// catches the window where a duplicate arrives while the original is still
// running, so the API can point the duplicate at the original's stream
// session instead of starting a second LLM run.
type InFlight struct {
	mu     sync.Mutex
	active map[string]string // key → session_id of the running submission
}

// NewInFlight creates an empty registry.
func NewInFlight() *InFlight {
	return &InFlight{active: make(map[string]string)}
}

// Begin registers a submission as in flight. If the key is already active,
// Begin returns the existing session id and ok=false without registering.
func (f *InFlight) Begin(scenarioID, clientTurnID, sessionID string) (existing string, ok bool) {
	key := Key(scenarioID, clientTurnID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if sid, active := f.active[key]; active {
		return sid, false
	}
	f.active[key] = sessionID
	return "", true
}

// End removes a submission from the registry. Safe to call for keys that
// were never registered.
func (f *InFlight) End(scenarioID, clientTurnID string) {
	key := Key(scenarioID, clientTurnID)
	f.mu.Lock()
	delete(f.active, key)
	f.mu.Unlock()
}

// Len returns the number of submissions currently in flight.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}
