package stream

import (
	"context"
	"sync"
	"time"
)

// SessionMeta is the shared-store view of a session: enough for another
// instance to answer a resume without owning the delivery loop.
type SessionMeta struct {
	SessionID      string       `json:"session_id"`
	State          SessionState `json:"state"`
	LastSequence   int64        `json:"last_sequence"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}

// SessionStore is the shared backing store behind cross-instance resume.
// The in-process manager remains authoritative for live delivery; the store
// mirrors session metadata and the bounded event buffer, and fans live
// events out to subscribers on other instances.
type SessionStore interface {
	// Ping probes store health. Failure at session open puts the new
	// session into degraded mode.
	Ping(ctx context.Context) error

	// CreateSession registers a new session's metadata.
	CreateSession(ctx context.Context, meta SessionMeta) error

	// GetSession returns the metadata for id, ok=false when unknown.
	GetSession(ctx context.Context, id string) (SessionMeta, bool, error)

	// AppendEvent appends ev to the session's buffer, trims the buffer to
	// the most recent maxLen events, advances the metadata cursor, and
	// publishes ev to live subscribers.
	AppendEvent(ctx context.Context, id string, ev Event, maxLen int) error

	// Events returns the retained events with sequence greater than
	// afterSeq, plus the oldest retained sequence for gap detection.
	// afterSeq of -1 means everything retained.
	Events(ctx context.Context, id string, afterSeq int64) ([]Event, uint64, error)

	// SetState records a lifecycle transition.
	SetState(ctx context.Context, id string, state SessionState) error

	// Subscribe starts a live feed of events appended after the call.
	// The returned cancel function releases the subscription; the channel
	// is closed when the subscription ends.
	Subscribe(ctx context.Context, id string) (<-chan Event, func(), error)

	// DeleteSession removes all state for id.
	DeleteSession(ctx context.Context, id string) error
}

// MemoryStore is an in-process SessionStore for single-instance deployments
// and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*storedSession
}

type storedSession struct {
	meta   SessionMeta
	events []Event
	subs   map[int]chan Event
	nextID int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*storedSession)}
}

// Ping implements SessionStore. A MemoryStore is always healthy.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// CreateSession implements SessionStore.
func (s *MemoryStore) CreateSession(_ context.Context, meta SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[meta.SessionID] = &storedSession{
		meta: meta,
		subs: make(map[int]chan Event),
	}
	return nil
}

// GetSession implements SessionStore.
func (s *MemoryStore) GetSession(_ context.Context, id string) (SessionMeta, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return SessionMeta{}, false, nil
	}
	return sess.meta, true, nil
}

// AppendEvent implements SessionStore.
func (s *MemoryStore) AppendEvent(_ context.Context, id string, ev Event, maxLen int) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	sess.events = append(sess.events, ev)
	if maxLen > 0 && len(sess.events) > maxLen {
		sess.events = sess.events[len(sess.events)-maxLen:]
	}
	sess.meta.LastSequence = int64(ev.Sequence)
	sess.meta.LastActivityAt = ev.EmittedAt
	subs := make([]chan Event, 0, len(sess.subs))
	for _, ch := range sess.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not draining; it re-resumes from the buffer.
		}
	}
	return nil
}

// Events implements SessionStore.
func (s *MemoryStore) Events(_ context.Context, id string, afterSeq int64) ([]Event, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, 0, ErrSessionNotFound
	}
	var oldest uint64
	if len(sess.events) > 0 {
		oldest = sess.events[0].Sequence
	}
	var out []Event
	for _, ev := range sess.events {
		if int64(ev.Sequence) > afterSeq {
			out = append(out, ev)
		}
	}
	return out, oldest, nil
}

// SetState implements SessionStore.
func (s *MemoryStore) SetState(_ context.Context, id string, state SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.meta.State = state
	return nil
}

// Subscribe implements SessionStore.
func (s *MemoryStore) Subscribe(_ context.Context, id string) (<-chan Event, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	ch := make(chan Event, 64)
	subID := sess.nextID
	sess.nextID++
	sess.subs[subID] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, still := s.sessions[id]; still {
			if _, live := cur.subs[subID]; live {
				delete(cur.subs, subID)
				close(ch)
			}
		}
	}
	return ch, cancel, nil
}

// DeleteSession implements SessionStore.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		for subID, ch := range sess.subs {
			delete(sess.subs, subID)
			close(ch)
		}
		delete(s.sessions, id)
	}
	return nil
}
