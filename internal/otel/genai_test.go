package otel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMRequestAttributes(t *testing.T) {
	attrs := LLMRequestAttributes("ollama", "gpt-oss:20b", 0.2, 1024)
	require.Len(t, attrs, 4)

	assert.Equal(t, "gen_ai.system", string(attrs[0].Key))
	assert.Equal(t, "ollama", attrs[0].Value.AsString())

	assert.Equal(t, "gen_ai.request.model", string(attrs[1].Key))
	assert.Equal(t, "gpt-oss:20b", attrs[1].Value.AsString())

	assert.Equal(t, "gen_ai.request.temperature", string(attrs[2].Key))
	assert.Equal(t, 0.2, attrs[2].Value.AsFloat64())

	assert.Equal(t, "gen_ai.request.max_tokens", string(attrs[3].Key))
	assert.Equal(t, int64(1024), attrs[3].Value.AsInt64())
}

func TestLLMUsageAttributes(t *testing.T) {
	attrs := LLMUsageAttributes(150, 300)
	require.Len(t, attrs, 2)

	assert.Equal(t, "gen_ai.usage.input_tokens", string(attrs[0].Key))
	assert.Equal(t, int64(150), attrs[0].Value.AsInt64())

	assert.Equal(t, "gen_ai.usage.output_tokens", string(attrs[1].Key))
	assert.Equal(t, int64(300), attrs[1].Value.AsInt64())
}
