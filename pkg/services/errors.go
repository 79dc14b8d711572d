package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrShuttingDown is returned when a submission arrives during
	// graceful shutdown
	ErrShuttingDown = errors.New("service is shutting down")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DuplicateError reports that an identical submission is still executing.
// The caller should follow the original's stream instead of resubmitting.
type DuplicateError struct {
	SessionID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("submission already in flight as session %s", e.SessionID)
}

// IsDuplicateError checks if an error is a duplicate-submission error and
// returns the original session id when it is.
func IsDuplicateError(err error) (string, bool) {
	var de *DuplicateError
	if errors.As(err, &de) {
		return de.SessionID, true
	}
	return "", false
}
