package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/frontdesk-io/frontdesk/internal/llm"
)

// Answerer composes the final user-facing reply from accumulated tool
// results. It is optional: when disabled or failing, the orchestrator
// falls back to a templated summary.
type Answerer struct {
	provider    llm.Provider
	model       string
	temperature float64
	maxTokens   int
}

// NewAnswerer wires the provider and generation parameters.
func NewAnswerer(provider llm.Provider, model string, temperature float64, maxTokens int) *Answerer {
	return &Answerer{provider: provider, model: model, temperature: temperature, maxTokens: maxTokens}
}

// Answer writes the reply text. Free text, not JSON.
func (a *Answerer) Answer(ctx context.Context, message, intent string, slots Slots, toolResults map[string]interface{}, sessionSummary string) (string, error) {
	ctx, span := tracer.Start(ctx, "agent.answer")
	defer span.End()

	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return "", fmt.Errorf("encoding slots: %w", err)
	}
	resultsJSON, err := json.Marshal(toolResults)
	if err != nil {
		return "", fmt.Errorf("encoding tool results: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, llm.TimeoutLLMCall)
	defer cancel()

	resp, err := a.provider.Generate(ctx, &llm.Request{
		Model: a.model,
		Messages: []llm.Message{
			{Role: "system", Content: answererSystem},
			{Role: "user", Content: fmt.Sprintf(answererUserTemplate,
				message, intent, slotsJSON, resultsJSON, sessionSummary)},
		},
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	llm.RecordUsage(ctx, a.provider, resp, "answer")
	return resp.Content, nil
}

// FallbackReply is the templated summary used when no answerer runs.
func FallbackReply(intent string, toolResults map[string]interface{}) string {
	resultsJSON, err := json.Marshal(toolResults)
	if err != nil {
		log.Warn().Err(err).Msg("fallback_reply_encode_failed")
		resultsJSON = []byte("{}")
	}
	return fmt.Sprintf("Intent: %s\nResultados: %s", intent, resultsJSON)
}
