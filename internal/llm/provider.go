// Package llm abstracts the planning/answering model services behind a
// single Provider interface with Ollama and OpenAI implementations.
package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutLLMCall bounds every model call. A hung planning service must
// surface as an error, never a stuck turn.
const TimeoutLLMCall = 60 * time.Second

// Domain errors for the LLM package.
var (
	ErrProviderNotAvailable = errors.New("provider not available")
	ErrEmptyResponse        = errors.New("model returned an empty response")
)

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "ollama", "openai").
	Name() string
	// Generate sends a completion request to the LLM and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// EstimateCost estimates the cost in EUR for the given model and token counts.
	EstimateCost(model string, inputTokens, outputTokens int) float64
}

// Request represents an LLM generation request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSONSchema, when non-nil, asks the provider for structured output
	// conforming to the schema (Ollama "format"; OpenAI JSON response mode).
	JSONSchema map[string]interface{}
}

// Message represents a chat message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Response represents an LLM generation response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}
