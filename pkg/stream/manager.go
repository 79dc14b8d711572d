package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds the tunables of the stream transport.
type Config struct {
	// BufferDepth is the number of most recent events retained per
	// session for replay.
	BufferDepth int
	// IdleExpiry is how long a session may go without events or resume
	// activity before the reaper discards it.
	IdleExpiry time.Duration
	// TokenTTL bounds the lifetime of issued resume tokens.
	TokenTTL time.Duration
	// ReaperInterval is how often idle sessions are scanned for expiry.
	ReaperInterval time.Duration
	// TokenSecret signs resume tokens. Instances that should honor each
	// other's tokens must share it.
	TokenSecret []byte
}

// DefaultConfig returns the stream transport defaults.
func DefaultConfig() Config {
	return Config{
		BufferDepth:    50,
		IdleExpiry:     5 * time.Minute,
		TokenTTL:       time.Hour,
		ReaperInterval: 30 * time.Second,
	}
}

// OpenResult is what a new session hands back to the submission path.
type OpenResult struct {
	SessionID string
	// ResumeToken is empty for degraded sessions.
	ResumeToken string
	Degraded    bool
}

// Subscription is one client attachment to a session's event feed. Events is
// closed after the terminal event, or when a newer attachment supersedes
// this one, or when the session expires.
type Subscription struct {
	SessionID string
	Degraded  bool
	Events    <-chan Event
	cancel    func()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// session is the in-process authority for one stream: the single writer
// appends under mu, and at most one local attachment receives live events.
type session struct {
	id string

	mu           sync.Mutex
	state        SessionState
	degraded     bool
	nextSeq      uint64
	buffer       []Event
	attachment   chan Event
	createdAt    time.Time
	lastActivity time.Time
}

// Manager owns the stream sessions of this instance. Sessions it did not
// create are reachable read-only through the shared store, which is how
// resume keeps working when the client's reconnect lands elsewhere.
type Manager struct {
	cfg   Config
	store SessionStore // nil means every session opens degraded

	mu       sync.RWMutex
	sessions map[string]*session

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// now is swapped in tests to drive expiry.
	now func() time.Time
}

// NewManager creates a Manager. store may be nil, in which case all sessions
// run degraded and resume is disabled.
func NewManager(cfg Config, store SessionStore) *Manager {
	def := DefaultConfig()
	if cfg.BufferDepth <= 0 {
		cfg.BufferDepth = def.BufferDepth
	}
	if cfg.IdleExpiry <= 0 {
		cfg.IdleExpiry = def.IdleExpiry
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = def.ReaperInterval
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		sessions: make(map[string]*session),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// OpenSession creates a new active session. If the shared store cannot be
// reached the session opens in degraded mode: live delivery still works, but
// no resume token is issued and the degradation is sticky for the session's
// lifetime.
func (m *Manager) OpenSession(ctx context.Context) (*OpenResult, error) {
	id := uuid.New().String()
	now := m.now()

	degraded := m.store == nil
	if !degraded {
		if err := m.store.Ping(ctx); err != nil {
			degraded = true
			slog.Warn("Shared session store unavailable, opening degraded session",
				"session_id", id, "error", err)
		}
	}
	if !degraded {
		meta := SessionMeta{
			SessionID:      id,
			State:          StateActive,
			LastSequence:   -1,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		if err := m.store.CreateSession(ctx, meta); err != nil {
			degraded = true
			slog.Warn("Failed to register session in shared store, opening degraded",
				"session_id", id, "error", err)
		}
	}

	sess := &session{
		id:           id,
		state:        StateActive,
		degraded:     degraded,
		createdAt:    now,
		lastActivity: now,
	}
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	result := &OpenResult{SessionID: id, Degraded: degraded}
	if !degraded {
		token, err := EncodeToken(m.cfg.TokenSecret, Token{
			SessionID:    id,
			LastSequence: -1,
			IssuedAt:     now,
			ExpiresAt:    now.Add(m.cfg.TokenTTL),
		})
		if err != nil {
			return nil, fmt.Errorf("issue resume token for session %s: %w", id, err)
		}
		result.ResumeToken = token
	}
	return result, nil
}

// Emit appends an event to the session and delivers it to the attached
// client, if any. It never blocks on a slow client: if the attachment's
// channel is full the client is detached and recovers by resuming. Only the
// session's owning delivery loop may call Emit.
func (m *Manager) Emit(ctx context.Context, sessionID string, typ EventType, payload any) (Event, error) {
	sess := m.lookup(sessionID)
	if sess == nil {
		return Event{}, ErrSessionNotFound
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload for session %s: %w", typ, sessionID, err)
	}

	sess.mu.Lock()
	switch sess.state {
	case StateClosed:
		sess.mu.Unlock()
		return Event{}, ErrSessionClosed
	case StateExpired:
		sess.mu.Unlock()
		return Event{}, ErrSessionExpired
	}

	ev := Event{
		Sequence:  sess.nextSeq,
		Type:      typ,
		Payload:   raw,
		EmittedAt: m.now(),
	}
	sess.nextSeq++
	sess.buffer = append(sess.buffer, ev)
	if len(sess.buffer) > m.cfg.BufferDepth {
		sess.buffer = sess.buffer[len(sess.buffer)-m.cfg.BufferDepth:]
	}
	sess.lastActivity = ev.EmittedAt

	if sess.attachment != nil {
		select {
		case sess.attachment <- ev:
		default:
			// Client is not draining. Drop the attachment; the buffer
			// still holds the event for its resume.
			slog.Warn("Detaching slow stream client", "session_id", sessionID, "sequence", ev.Sequence)
			close(sess.attachment)
			sess.attachment = nil
		}
	}

	terminal := ev.Terminal()
	if terminal {
		sess.state = StateClosed
		sess.buffer = nil
		if sess.attachment != nil {
			close(sess.attachment)
			sess.attachment = nil
		}
	}
	degraded := sess.degraded
	sess.mu.Unlock()

	if !degraded && m.store != nil {
		if err := m.store.AppendEvent(ctx, sessionID, ev, m.cfg.BufferDepth); err != nil {
			slog.Warn("Failed to mirror event to shared store",
				"session_id", sessionID, "sequence", ev.Sequence, "error", err)
		} else if terminal {
			if err := m.store.SetState(ctx, sessionID, StateClosed); err != nil {
				slog.Warn("Failed to mark session closed in shared store",
					"session_id", sessionID, "error", err)
			}
		}
	}
	return ev, nil
}

// Complete emits the terminal done event carrying the final result payload.
func (m *Manager) Complete(ctx context.Context, sessionID string, payload any) error {
	_, err := m.Emit(ctx, sessionID, EventDone, payload)
	return err
}

// Fail emits the terminal error event. code is the failure class the client
// keys its retry behavior on.
func (m *Manager) Fail(ctx context.Context, sessionID, code, message string) error {
	_, err := m.Emit(ctx, sessionID, EventError, ErrorPayload{Code: code, Message: message})
	return err
}

// Attach connects the initial client to a locally owned session, replaying
// anything already buffered. This is the tokenless path used right after
// submission, and the only way to attach to a degraded session.
func (m *Manager) Attach(sessionID string) (*Subscription, error) {
	sess := m.lookup(sessionID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return m.attachLocal(sess, -1)
}

// Resume validates the resume token and reattaches the client at cursor:
// buffered events after cursor are replayed first, then live delivery
// continues, with no duplicates and no gaps. cursor is the last sequence the
// client saw, -1 for none.
func (m *Manager) Resume(ctx context.Context, rawToken string, cursor int64) (*Subscription, error) {
	token, err := DecodeToken(m.cfg.TokenSecret, rawToken)
	if err != nil {
		return nil, err
	}
	if m.now().After(token.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	if sess := m.lookup(token.SessionID); sess != nil {
		return m.attachLocal(sess, cursor)
	}
	if m.store == nil {
		return nil, ErrSessionNotFound
	}
	return m.resumeRemote(ctx, token.SessionID, cursor)
}

// attachLocal swaps the client attachment under the session lock. Replay and
// the attachment swap happen atomically with respect to Emit, which is what
// rules out both duplicates and gaps at the replay/live boundary.
func (m *Manager) attachLocal(sess *session, cursor int64) (*Subscription, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.state {
	case StateClosed:
		return nil, ErrSessionClosed
	case StateExpired:
		return nil, ErrSessionExpired
	}

	if len(sess.buffer) > 0 {
		if oldest := int64(sess.buffer[0].Sequence); cursor+1 < oldest {
			return nil, ErrOutOfBuffer
		}
	} else if sess.nextSeq > 0 && cursor+1 < int64(sess.nextSeq) {
		return nil, ErrOutOfBuffer
	}

	ch := make(chan Event, 2*m.cfg.BufferDepth)
	for _, ev := range sess.buffer {
		if int64(ev.Sequence) > cursor {
			ch <- ev
		}
	}
	if sess.attachment != nil {
		// A newer connection supersedes the old one.
		close(sess.attachment)
	}
	sess.attachment = ch
	sess.lastActivity = m.now()

	return &Subscription{
		SessionID: sess.id,
		Degraded:  sess.degraded,
		Events:    ch,
		cancel: func() {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			if sess.attachment == ch {
				sess.attachment = nil
				close(ch)
			}
		},
	}, nil
}

// resumeRemote serves a resume for a session another instance owns, reading
// replay from the shared store and following live events over its pub/sub
// feed. Subscribing before reading the buffer closes the gap between the
// two; live events at or below the replay high-water mark are dropped as
// duplicates.
func (m *Manager) resumeRemote(ctx context.Context, sessionID string, cursor int64) (*Subscription, error) {
	meta, ok, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("look up session %s: %w", sessionID, err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	switch meta.State {
	case StateClosed:
		return nil, ErrSessionClosed
	case StateExpired:
		return nil, ErrSessionExpired
	}

	live, cancelLive, err := m.store.Subscribe(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("subscribe to session %s: %w", sessionID, err)
	}
	replay, oldest, err := m.store.Events(ctx, sessionID, cursor)
	if err != nil {
		cancelLive()
		return nil, fmt.Errorf("read session %s buffer: %w", sessionID, err)
	}
	if cursor+1 < int64(oldest) {
		cancelLive()
		return nil, ErrOutOfBuffer
	}
	if len(replay) == 0 && meta.LastSequence > cursor {
		cancelLive()
		return nil, ErrOutOfBuffer
	}

	out := make(chan Event, 2*m.cfg.BufferDepth)
	done := make(chan struct{})
	go func() {
		defer close(out)
		defer cancelLive()
		last := cursor
		for _, ev := range replay {
			select {
			case out <- ev:
			case <-done:
				return
			}
			last = int64(ev.Sequence)
			if ev.Terminal() {
				return
			}
		}
		for ev := range live {
			if int64(ev.Sequence) <= last {
				continue
			}
			select {
			case out <- ev:
			case <-done:
				return
			}
			last = int64(ev.Sequence)
			if ev.Terminal() {
				return
			}
		}
	}()

	var closeOnce sync.Once
	return &Subscription{
		SessionID: sessionID,
		Events:    out,
		cancel: func() {
			closeOnce.Do(func() { close(done) })
		},
	}, nil
}

// Abandon discards a session that never delivered anything, without emitting
// a terminal event. Used when a submission loses a duplicate race right after
// opening its session.
func (m *Manager) Abandon(ctx context.Context, sessionID string) {
	sess := m.lookup(sessionID)
	if sess == nil {
		return
	}
	sess.mu.Lock()
	sess.state = StateClosed
	sess.buffer = nil
	if sess.attachment != nil {
		close(sess.attachment)
		sess.attachment = nil
	}
	degraded := sess.degraded
	sess.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !degraded && m.store != nil {
		if err := m.store.DeleteSession(ctx, sessionID); err != nil {
			slog.Warn("Failed to delete abandoned session from shared store",
				"session_id", sessionID, "error", err)
		}
	}
}

// Degraded reports whether a locally owned session runs without resume
// support. Unknown sessions report false.
func (m *Manager) Degraded(sessionID string) bool {
	sess := m.lookup(sessionID)
	if sess == nil {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.degraded
}

// SessionCount returns the number of locally tracked sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartReaper launches the idle-session reaper. Stop shuts it down.
func (m *Manager) StartReaper(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.ReaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reap(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the reaper and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// reap expires active sessions idle past IdleExpiry and drops terminal
// sessions once they have aged out of resumability.
func (m *Manager) reap(ctx context.Context) {
	now := m.now()

	m.mu.RLock()
	candidates := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		candidates = append(candidates, sess)
	}
	m.mu.RUnlock()

	var remove []string
	for _, sess := range candidates {
		sess.mu.Lock()
		idle := now.Sub(sess.lastActivity)
		switch {
		case sess.state == StateActive && idle > m.cfg.IdleExpiry:
			sess.state = StateExpired
			sess.buffer = nil
			if sess.attachment != nil {
				close(sess.attachment)
				sess.attachment = nil
			}
			degraded := sess.degraded
			sess.mu.Unlock()

			slog.Info("Expired idle stream session", "session_id", sess.id, "idle", idle)
			if !degraded && m.store != nil {
				if err := m.store.SetState(ctx, sess.id, StateExpired); err != nil {
					slog.Warn("Failed to mark session expired in shared store",
						"session_id", sess.id, "error", err)
				}
			}
		case sess.state != StateActive && idle > m.cfg.IdleExpiry:
			// Terminal and past the window where a late resume would
			// still get a precise closed/expired answer.
			sess.mu.Unlock()
			remove = append(remove, sess.id)
		default:
			sess.mu.Unlock()
		}
	}

	if len(remove) > 0 {
		m.mu.Lock()
		for _, id := range remove {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) lookup(id string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}
