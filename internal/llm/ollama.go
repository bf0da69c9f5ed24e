package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	fdotel "github.com/frontdesk-io/frontdesk/internal/otel"
	"github.com/frontdesk-io/frontdesk/internal/requestctx"
)

// ollamaMaxRetries bounds transient-failure retries (network errors, 5xx, 429).
const ollamaMaxRetries = 2

// OllamaProvider implements Provider for Ollama instances, local or hosted.
// When apiKey is set, requests carry a Bearer token (hosted Ollama).
type OllamaProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOllamaProvider creates an Ollama provider pointing at the given base URL.
// If baseURL is empty, defaults to http://localhost:11434.
func NewOllamaProvider(baseURL, apiKey string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Name returns the provider identifier.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

type ollamaRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   json.RawMessage        `json:"format,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaResponse covers both the native /api/chat shape and the
// OpenAI-compatible choices shape some hosted deployments return.
type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (r *ollamaResponse) content() string {
	if r.Message.Content != "" {
		return r.Message.Content
	}
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// Generate sends a chat request to the Ollama instance, retrying transient
// failures with linear backoff.
func (p *OllamaProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(
			fdotel.GenAISystem.String("ollama"),
			fdotel.GenAIRequestModel.String(req.Model),
			fdotel.GenAIRequestTemperature.Float64(req.Temperature),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutLLMCall)
	defer cancel()

	messages := make([]ollamaMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = ollamaMessage{Role: msg.Role, Content: msg.Content}
	}

	apiReq := ollamaRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   false,
		Options: map[string]interface{}{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		apiReq.Options["num_predict"] = req.MaxTokens
	}
	if req.JSONSchema != nil {
		schema, err := json.Marshal(req.JSONSchema)
		if err != nil {
			return nil, fmt.Errorf("marshalling output schema: %w", err)
		}
		apiReq.Format = schema
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshalling ollama request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= ollamaMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}

		resp, retryable, err := p.doChat(ctx, body)
		if err == nil {
			resp.Model = req.Model
			span.SetAttributes(
				fdotel.GenAIUsageInputTokens.Int(resp.InputTokens),
				fdotel.GenAIUsageOutputTokens.Int(resp.OutputTokens),
			)
			return resp, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	span.RecordError(lastErr)
	return nil, lastErr
}

// doChat performs one HTTP round trip. The second return value reports
// whether the failure is worth retrying.
func (p *OllamaProvider) doChat(ctx context.Context, body []byte) (*Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("creating ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if reqID := requestctx.RequestID(ctx); reqID != "" {
		httpReq.Header.Set("X-Request-Id", reqID)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("ollama api call: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		retryable := httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("ollama api call: status %d: %s", httpResp.StatusCode, msg)
	}

	var apiResp ollamaResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&apiResp); err != nil {
		return nil, false, fmt.Errorf("decoding ollama response: %w", err)
	}

	content := apiResp.content()
	if content == "" {
		return nil, false, ErrEmptyResponse
	}

	// Fall back to rough estimates when the server omits token counts.
	inputTokens := apiResp.PromptEvalCount
	outputTokens := apiResp.EvalCount
	if inputTokens == 0 {
		inputTokens = len(body) / 4
	}
	if outputTokens == 0 {
		outputTokens = len(content) / 4
	}

	return &Response{
		Content:      content,
		FinishReason: "stop",
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, false, nil
}

// EstimateCost returns 0 for Ollama (self-hosted models have no API cost).
func (p *OllamaProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return 0.0
}
