// Package llm provides the text generation client used for answers and relevance judging.
package llm

import (
	"context"
)

// GenerateOptions configures the LLM generation request.
type GenerateOptions struct {
	// Model overrides the client's default model.
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness in generation (0.0 = deterministic, 1.0 = creative).
	Temperature float32

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int

	// JSON asks the model to emit a single JSON value.
	JSON bool
}

// LLM generates a complete response for a prompt.
type LLM interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
