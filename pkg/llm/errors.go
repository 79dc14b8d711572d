package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass classifies an upstream provider failure by retry-eligibility.
type ErrorClass string

const (
	// ClassTransient marks conditions worth retrying later: rate limits,
	// timeouts, provider 5xx.
	ClassTransient ErrorClass = "transient"
	// ClassPermanent marks clear rejections that retrying will not fix:
	// auth failures, unknown models, provider 4xx other than rate limits.
	ClassPermanent ErrorClass = "permanent"
)

// ProviderError wraps an upstream provider failure with its classification.
type ProviderError struct {
	Provider string
	Class    ErrorClass
	// Status is the upstream HTTP status when one was observed, 0 otherwise.
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %v", e.Provider, e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient wraps err as a transient provider failure.
func Transient(provider string, status int, err error) error {
	return &ProviderError{Provider: provider, Class: ClassTransient, Status: status, Err: err}
}

// Permanent wraps err as a permanent provider failure.
func Permanent(provider string, status int, err error) error {
	return &ProviderError{Provider: provider, Class: ClassPermanent, Status: status, Err: err}
}

// Classify returns the classification of err. Unclassified errors (network
// failures, context deadlines) default to transient: retrying is cheap
// relative to wrongly blacklisting an outcome.
func Classify(err error) ErrorClass {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassTransient
}

// classifyStatus maps an upstream HTTP status to an error class. Rate limits,
// request timeouts, provider overload and 5xx are transient; the remaining
// 4xx are permanent rejections.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// wrapStatus builds a ProviderError from an observed upstream status.
func wrapStatus(provider string, status int, err error) error {
	if classifyStatus(status) == ClassTransient {
		return Transient(provider, status, err)
	}
	return Permanent(provider, status, err)
}
