package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontdesk-io/frontdesk/internal/requestctx"
)

func TestOllamaGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/chat", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var reqBody ollamaRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
			assert.Equal(t, "gpt-oss:20b", reqBody.Model)
			assert.False(t, reqBody.Stream)
			assert.Len(t, reqBody.Messages, 1)
			assert.Equal(t, "user", reqBody.Messages[0].Role)

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"message":           map[string]string{"content": "¡Hola!"},
				"prompt_eval_count": 12,
				"eval_count":        5,
			})
		}))
		defer server.Close()

		provider := NewOllamaProvider(server.URL, "")
		resp, err := provider.Generate(ctx, &Request{
			Model:    "gpt-oss:20b",
			Messages: []Message{{Role: "user", Content: "Hola"}},
		})

		require.NoError(t, err)
		assert.Equal(t, "¡Hola!", resp.Content)
		assert.Equal(t, "stop", resp.FinishReason)
		assert.Equal(t, "gpt-oss:20b", resp.Model)
		assert.Equal(t, 12, resp.InputTokens)
		assert.Equal(t, 5, resp.OutputTokens)
	})

	t.Run("bearer token and request id headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			assert.Equal(t, "req-42", r.Header.Get("X-Request-Id"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"message": map[string]string{"content": "ok"},
			})
		}))
		defer server.Close()

		provider := NewOllamaProvider(server.URL, "sk-test")
		reqCtx := requestctx.SetRequestID(ctx, "req-42")
		_, err := provider.Generate(reqCtx, &Request{
			Model:    "m",
			Messages: []Message{{Role: "user", Content: "x"}},
		})
		require.NoError(t, err)
	})

	t.Run("structured output schema is forwarded", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var reqBody ollamaRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
			require.NotNil(t, reqBody.Format)

			var schema map[string]interface{}
			require.NoError(t, json.Unmarshal(reqBody.Format, &schema))
			assert.Equal(t, "object", schema["type"])

			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"message": map[string]string{"content": `{"intent":"faq"}`},
			})
		}))
		defer server.Close()

		provider := NewOllamaProvider(server.URL, "")
		resp, err := provider.Generate(ctx, &Request{
			Model:      "m",
			Messages:   []Message{{Role: "user", Content: "x"}},
			JSONSchema: map[string]interface{}{"type": "object"},
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"intent":"faq"}`, resp.Content)
	})

	t.Run("choices fallback shape", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"choices": []map[string]interface{}{
					{"message": map[string]string{"content": "from choices"}},
				},
			})
		}))
		defer server.Close()

		provider := NewOllamaProvider(server.URL, "")
		resp, err := provider.Generate(ctx, &Request{
			Model:    "m",
			Messages: []Message{{Role: "user", Content: "x"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "from choices", resp.Content)
	})

	t.Run("retries transient 500 then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"message": map[string]string{"content": "recovered"},
			})
		}))
		defer server.Close()

		provider := NewOllamaProvider(server.URL, "")
		resp, err := provider.Generate(ctx, &Request{
			Model:    "m",
			Messages: []Message{{Role: "user", Content: "x"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "recovered", resp.Content)
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("4xx is not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
		}))
		defer server.Close()

		provider := NewOllamaProvider(server.URL, "")
		_, err := provider.Generate(ctx, &Request{
			Model:    "nonexistent",
			Messages: []Message{{Role: "user", Content: "x"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("empty content is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"message": map[string]string{"content": ""},
			})
		}))
		defer server.Close()

		provider := NewOllamaProvider(server.URL, "")
		_, err := provider.Generate(ctx, &Request{
			Model:    "m",
			Messages: []Message{{Role: "user", Content: "x"}},
		})
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})
}

func TestOllamaEstimateCost(t *testing.T) {
	provider := NewOllamaProvider("", "")
	assert.Zero(t, provider.EstimateCost("any", 1000, 1000))
}
