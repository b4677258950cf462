// Package llm provides rate-limited, retrying chat-completion clients used
// for topic extraction, merge verification, and document rewriting.
package llm

import (
	"context"
)

// Client is the interface for LLM API clients. Generate returns the raw text
// completion; callers that expect structured output decode it with
// DecodeJSON, which handles code fences and recovers embedded JSON.
type Client interface {
	// Generate sends a prompt and returns the completion text.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// ModelName returns the model identifier the client targets.
	ModelName() string
}

// GenerateOptions holds per-call generation options.
type GenerateOptions struct {
	SystemPrompt string  // System role content (optional)
	MaxTokens    int     // Completion token budget (0 = provider default)
	Temperature  float64 // Sampling temperature (default 0.3 for deterministic pipeline work)
}

// withDefaults fills unset option fields.
func (o GenerateOptions) withDefaults() GenerateOptions {
	if o.Temperature == 0 {
		o.Temperature = 0.3
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = 4096
	}
	return o
}
