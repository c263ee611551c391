// Package llm abstracts the language models behind entity extraction and
// answer generation: a hosted Anthropic provider, deterministic mocks for
// tests and offline mode, and helpers for prying JSON out of model prose.
package llm

import (
	"context"
)

// ChatRequest is one prompt exchange. Callers that need machine-readable
// output say so in the prompt and parse the reply with ExtractJSON.
type ChatRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// ChatResponse carries the model's reply and token accounting.
type ChatResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// ChatProvider is a text-in text-out language model.
type ChatProvider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	ModelID() string
	Embed(ctx context.Context, text string) ([]float32, error)
}
