// Package services holds the domain services behind the HTTP API. The
// central one is DecisionService, which owns the lifecycle of a decision
// turn: idempotency checks, the streaming session, provider selection
// through the circuit breaker, and outcome classification.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/resolvd/decisiond/pkg/breaker"
	"github.com/resolvd/decisiond/pkg/graph"
	"github.com/resolvd/decisiond/pkg/hash"
	"github.com/resolvd/decisiond/pkg/idempotency"
	"github.com/resolvd/decisiond/pkg/llm"
	"github.com/resolvd/decisiond/pkg/stream"
)

// Config holds DecisionService tunables.
type Config struct {
	// HeartbeatInterval paces keepalive events on active sessions.
	HeartbeatInterval time.Duration
	// TurnTimeout bounds a whole turn, all provider attempts included.
	TurnTimeout time.Duration
	// ProviderTimeout bounds a single provider call.
	ProviderTimeout time.Duration
}

// DefaultConfig returns the decision service defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 15 * time.Second,
		TurnTimeout:       2 * time.Minute,
		ProviderTimeout:   60 * time.Second,
	}
}

// SubmitInput contains the domain-level data of one turn submission.
// Transformed from the HTTP request by the handler.
type SubmitInput struct {
	// ScenarioID and ClientTurnID together form the application-supplied
	// identity retries are deduplicated on.
	ScenarioID   string
	ClientTurnID string
	// Brief is the scenario description the graph is built from.
	Brief string
	// Context is optional caller-supplied background.
	Context string
}

// SubmitResult tells the handler how to answer a submission.
type SubmitResult struct {
	SessionID   string
	ResumeToken string
	Degraded    bool
	// Cached is set when the turn was served from the idempotency cache;
	// no session was opened in that case.
	Cached *idempotency.Outcome
}

// TurnResult is the success envelope delivered on the stream and recorded in
// the idempotency cache.
type TurnResult struct {
	SessionID     string               `json:"session_id"`
	ScenarioID    string               `json:"scenario_id"`
	ClientTurnID  string               `json:"client_turn_id"`
	Provider      string               `json:"provider"`
	Model         string               `json:"model"`
	Graph         *graph.DecisionGraph `json:"graph"`
	IntegrityHash string               `json:"integrity_hash"`
	CompletedAt   time.Time            `json:"completed_at"`
}

// DonePayload is the terminal done event's payload. IntegrityHash lets the
// client verify the graph it assembled from data events.
type DonePayload struct {
	Status        string `json:"status"`
	IntegrityHash string `json:"integrity_hash,omitempty"`
}

// DecisionService coordinates one decision turn end to end. Submissions
// return immediately; the turn itself runs in a background goroutine that
// reports progress through the stream manager.
type DecisionService struct {
	cfg       Config
	streams   *stream.Manager
	providers []llm.Provider
	circuits  *breaker.Breaker
	cache     *idempotency.Cache
	inflight  *idempotency.InFlight

	mu      sync.Mutex
	closed  bool
	turnsWG sync.WaitGroup

	// now is swapped in tests.
	now func() time.Time
}

// NewDecisionService creates a DecisionService.
func NewDecisionService(
	cfg Config,
	streams *stream.Manager,
	providers []llm.Provider,
	circuits *breaker.Breaker,
	cache *idempotency.Cache,
) *DecisionService {
	if streams == nil {
		panic("NewDecisionService: streams must not be nil")
	}
	if circuits == nil {
		panic("NewDecisionService: circuits must not be nil")
	}
	if cache == nil {
		panic("NewDecisionService: cache must not be nil")
	}
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = def.TurnTimeout
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = def.ProviderTimeout
	}
	for _, p := range providers {
		circuits.Register(p.Name())
	}
	return &DecisionService{
		cfg:       cfg,
		streams:   streams,
		providers: providers,
		circuits:  circuits,
		cache:     cache,
		inflight:  idempotency.NewInFlight(),
		now:       time.Now,
	}
}

// Submit starts a decision turn. It returns as soon as the turn's session is
// open; progress and the result are delivered on the session's stream.
//
// A completed identical turn is answered from the idempotency cache without
// opening a session. An identical turn still executing yields a
// DuplicateError pointing at the original's session.
func (s *DecisionService) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.mu.Unlock()

	if input.ScenarioID == "" {
		return nil, NewValidationError("scenario_id", "required")
	}
	if input.ClientTurnID == "" {
		return nil, NewValidationError("client_turn_id", "required")
	}
	if input.Brief == "" {
		return nil, NewValidationError("brief", "required")
	}
	if len(s.providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}

	cached, ok, err := s.cache.Get(ctx, input.ScenarioID, input.ClientTurnID)
	if err != nil {
		// A cache outage must not fail the submission; the turn just
		// re-executes.
		slog.Warn("Idempotency lookup failed, executing turn fresh",
			"scenario_id", input.ScenarioID, "client_turn_id", input.ClientTurnID, "error", err)
	} else if ok {
		slog.Info("Turn served from idempotency cache",
			"scenario_id", input.ScenarioID, "client_turn_id", input.ClientTurnID,
			"session_id", cached.SessionID)
		return &SubmitResult{Cached: cached}, nil
	}

	open, err := s.streams.OpenSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream session: %w", err)
	}

	if existing, started := s.inflight.Begin(input.ScenarioID, input.ClientTurnID, open.SessionID); !started {
		s.streams.Abandon(ctx, open.SessionID)
		return nil, &DuplicateError{SessionID: existing}
	}

	s.turnsWG.Add(1)
	go s.run(open.SessionID, input)

	return &SubmitResult{
		SessionID:   open.SessionID,
		ResumeToken: open.ResumeToken,
		Degraded:    open.Degraded,
	}, nil
}

// run executes one turn in the background and always leaves the session with
// a terminal event.
func (s *DecisionService) run(sessionID string, input SubmitInput) {
	defer s.turnsWG.Done()
	defer s.inflight.End(input.ScenarioID, input.ClientTurnID)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TurnTimeout)
	defer cancel()

	stopHeartbeats := s.startHeartbeats(ctx, sessionID)
	defer stopHeartbeats()

	s.emitStage(ctx, sessionID, "planning", "building scenario prompt")
	req := llm.CompletionRequest{
		System: graph.SystemPrompt,
		Prompt: graph.BuildPrompt(input.Brief, input.Context),
	}

	completion, providerName, err := s.consult(ctx, sessionID, req)
	if err != nil {
		s.finishWithError(sessionID, input, err)
		return
	}

	s.emitStage(ctx, sessionID, "assembling", "parsing decision graph")
	g, err := graph.Parse(completion.Text)
	if err != nil {
		// Malformed model output is worth a fresh attempt, so it is
		// recorded as transient.
		s.finishWithError(sessionID, input, llm.Transient(providerName, 0, err))
		return
	}

	integrity, err := hash.Sum(g)
	if err != nil {
		s.finishWithError(sessionID, input, llm.Transient(providerName, 0, err))
		return
	}

	result := TurnResult{
		SessionID:     sessionID,
		ScenarioID:    input.ScenarioID,
		ClientTurnID:  input.ClientTurnID,
		Provider:      providerName,
		Model:         completion.Model,
		Graph:         g,
		IntegrityHash: integrity,
		CompletedAt:   s.now().UTC(),
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		s.finishWithError(sessionID, input, fmt.Errorf("encode turn result: %w", err))
		return
	}

	finishCtx, finishCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finishCancel()

	if err := s.cache.Put(finishCtx, input.ScenarioID, input.ClientTurnID, idempotency.Outcome{
		SessionID:   sessionID,
		Result:      resultJSON,
		CompletedAt: result.CompletedAt,
	}); err != nil {
		slog.Warn("Failed to record turn outcome in idempotency cache",
			"session_id", sessionID, "error", err)
	}

	if _, err := s.streams.Emit(finishCtx, sessionID, stream.EventData, json.RawMessage(resultJSON)); err != nil {
		slog.Error("Failed to emit turn result", "session_id", sessionID, "error", err)
	}
	stopHeartbeats()
	if err := s.streams.Complete(finishCtx, sessionID, DonePayload{
		Status:        "completed",
		IntegrityHash: integrity,
	}); err != nil {
		slog.Error("Failed to close session", "session_id", sessionID, "error", err)
	}
	slog.Info("Turn completed", "session_id", sessionID, "provider", providerName,
		"nodes", len(g.Nodes), "integrity_hash", integrity)
}

// consult tries the configured providers in order, gated by the circuit
// breaker. Transient failures fall through to the next provider; a permanent
// failure stops the search because the request itself is at fault.
func (s *DecisionService) consult(ctx context.Context, sessionID string, req llm.CompletionRequest) (*llm.CompletionResult, string, error) {
	var lastErr error
	for _, p := range s.providers {
		name := p.Name()
		if !s.circuits.Allow(name) {
			slog.Debug("Provider circuit open, skipping", "provider", name, "session_id", sessionID)
			continue
		}
		s.emitStage(ctx, sessionID, "consulting_provider", name)

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		result, err := p.Complete(callCtx, req)
		cancel()

		if err == nil {
			s.circuits.RecordSuccess(name)
			return result, name, nil
		}
		s.circuits.RecordFailure(name)
		lastErr = err
		slog.Warn("Provider call failed", "provider", name, "session_id", sessionID,
			"class", llm.Classify(err), "error", err)
		if llm.Classify(err) == llm.ClassPermanent {
			return nil, name, err
		}
	}
	if lastErr == nil {
		return nil, "", fmt.Errorf("all provider circuits open")
	}
	return nil, "", lastErr
}

// finishWithError classifies err, records it for retry deduplication, and
// fails the session.
func (s *DecisionService) finishWithError(sessionID string, input SubmitInput, err error) {
	kind := idempotency.ErrorKindTransient
	if llm.Classify(err) == llm.ClassPermanent {
		kind = idempotency.ErrorKindPermanent
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if putErr := s.cache.Put(ctx, input.ScenarioID, input.ClientTurnID, idempotency.Outcome{
		SessionID:    sessionID,
		ErrorKind:    kind,
		ErrorMessage: err.Error(),
		CompletedAt:  s.now().UTC(),
	}); putErr != nil {
		slog.Warn("Failed to record turn error in idempotency cache",
			"session_id", sessionID, "error", putErr)
	}

	if failErr := s.streams.Fail(ctx, sessionID, string(kind), err.Error()); failErr != nil {
		slog.Error("Failed to fail session", "session_id", sessionID, "error", failErr)
	}
	slog.Info("Turn failed", "session_id", sessionID, "kind", kind, "error", err)
}

// emitStage sends a stage event; stage events are informational, so emit
// errors are only logged.
func (s *DecisionService) emitStage(ctx context.Context, sessionID, stage, message string) {
	if _, err := s.streams.Emit(ctx, sessionID, stream.EventStage, stream.StagePayload{
		Stage:   stage,
		Message: message,
	}); err != nil {
		slog.Warn("Failed to emit stage event", "session_id", sessionID, "stage", stage, "error", err)
	}
}

// startHeartbeats emits keepalive events until the returned stop function is
// called. Stop is idempotent.
func (s *DecisionService) startHeartbeats(ctx context.Context, sessionID string) func() {
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.streams.Emit(ctx, sessionID, stream.EventHeartbeat, nil); err != nil {
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}

// Shutdown stops accepting submissions and waits for running turns to
// finish, up to ctx's deadline.
func (s *DecisionService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.turnsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("turns still running at shutdown deadline: %w", ctx.Err())
	}
}
