// Package llm defines the upstream LLM provider boundary. Providers are
// external collaborators: each one exposes a single Complete call that either
// returns a completion or a classified error. Everything the service layer
// needs to know about an upstream failure, retryable or not, is carried in
// the error classification, so the circuit breaker and idempotency cache can
// record outcomes without vendor-specific knowledge.
package llm

import "context"

// CompletionRequest is the single unit of work sent to a provider.
type CompletionRequest struct {
	// System is the system prompt framing the task.
	System string
	// Prompt is the user-facing content (the rendered decision brief).
	Prompt string
	// MaxTokens bounds the completion length. Zero uses the provider default.
	MaxTokens int
}

// CompletionResult is a successful provider response.
type CompletionResult struct {
	// Text is the full completion text.
	Text string
	// Model is the concrete model that produced the completion.
	Model string
	// InputTokens / OutputTokens are usage counters when the provider
	// reports them, zero otherwise.
	InputTokens  int
	OutputTokens int
}

// Provider is one upstream LLM backend. Implementations must return errors
// classified via ProviderError so callers can distinguish transient
// conditions from permanent rejections.
type Provider interface {
	// Name returns the stable provider identifier used for circuit breaker
	// keying and logging (e.g. "anthropic", "openai").
	Name() string
	// Complete performs one completion call.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}
