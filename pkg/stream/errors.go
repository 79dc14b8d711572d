package stream

import "errors"

// Sentinel errors for session lookup and resume handling. The API layer maps
// these onto HTTP statuses; everything that cannot be honored by replay maps
// to a "restart required" response so the client re-submits instead of
// retrying the resume.
var (
	// ErrSessionNotFound means no session with that id exists on this
	// instance or in the shared store. Covers foreign tokens whose
	// signature verifies but whose session this deployment never created.
	ErrSessionNotFound = errors.New("stream session not found")

	// ErrSessionClosed means the session already delivered its terminal
	// event; there is nothing to resume.
	ErrSessionClosed = errors.New("stream session closed")

	// ErrSessionExpired means the idle reaper discarded the session.
	ErrSessionExpired = errors.New("stream session expired")

	// ErrOutOfBuffer means the resume cursor points before the oldest
	// retained event, so a gapless replay is impossible.
	ErrOutOfBuffer = errors.New("resume cursor older than retained buffer")

	// ErrDegraded means the session was opened without the shared store
	// and carries no resume capability.
	ErrDegraded = errors.New("session is degraded, resume unavailable")

	// ErrTokenInvalid means the resume token failed signature or shape
	// validation.
	ErrTokenInvalid = errors.New("resume token invalid")

	// ErrTokenExpired means the resume token's own lifetime elapsed.
	ErrTokenExpired = errors.New("resume token expired")
)

// RestartRequired reports whether err is one of the resume failures that the
// client cannot recover from by retrying; the only way forward is a fresh
// submission.
func RestartRequired(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrOutOfBuffer) ||
		errors.Is(err, ErrTokenExpired)
}
