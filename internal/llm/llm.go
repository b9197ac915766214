// Package llm provides a streaming completion client for a local Ollama server.
package llm

import (
	"context"
)

// CompletionOptions configures a single completion request.
// Zero values are sent as-is; the server is responsible for rejecting invalid values.
type CompletionOptions struct {
	// Temperature controls randomness in generation.
	Temperature float64

	// TopP is the nucleus-sampling threshold.
	TopP float64

	// TopK limits sampling to the K most likely tokens.
	TopK int

	// MaxTokens limits the number of generated tokens. Nil leaves the server default.
	MaxTokens *int

	// Stop lists sequences that end generation. Nil sends no stop sequences.
	Stop []string

	// System replaces the client's system message for this call. Nil keeps
	// the client's; an empty string sends none.
	System *string
}

// DefaultCompletionOptions returns the sampling settings Ollama itself applies
// when a model file does not override them. MaxTokens and Stop are left unset.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{
		Temperature: 0.8,
		TopP:        0.9,
		TopK:        40,
	}
}

// Completer defines the interface for streaming completion clients.
type Completer interface {
	// StreamComplete sends prompt to the model and returns a stream of text fragments.
	// Classified errors (*Error) are returned here, before any fragment is produced.
	StreamComplete(ctx context.Context, prompt string, opts CompletionOptions) (*Stream, error)

	// Complete sends prompt to the model and returns the concatenated fragments.
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)

	// ListModels returns the names of the models currently available on the server.
	ListModels(ctx context.Context) ([]string, error)

	// Preload asks the server to load the configured model into memory.
	// Failures are reported in the result and logged, never returned as errors.
	Preload(ctx context.Context) PreloadResult

	// ModelName returns the model used for completions.
	ModelName() string
}
