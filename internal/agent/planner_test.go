package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontdesk-io/frontdesk/internal/llm"
)

// scriptedProvider returns canned responses in order and records calls.
type scriptedProvider struct {
	responses []string
	requests  []*llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, llm.ErrEmptyResponse
	}
	content := p.responses[0]
	p.responses = p.responses[1:]
	return &llm.Response{Content: content, Model: req.Model}, nil
}

func (p *scriptedProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return 0
}

const goodPlanJSON = `{"intent": "faq", "slots": {}, "missing": [], "tool_calls": [], "final": "Hola!", "confidence": 0.9}`

func TestPlannerSingleCallWhenValid(t *testing.T) {
	provider := &scriptedProvider{responses: []string{goodPlanJSON}}
	planner := NewPlanner(provider, "test-model", 0.1, 512)

	plan, err := planner.Plan(context.Background(), "hola", "Sin historial.", "- get_help (read)")
	require.NoError(t, err)
	assert.Equal(t, IntentFAQ, plan.Intent)
	assert.Equal(t, "Hola!", plan.Final)
	require.Len(t, provider.requests, 1)

	// Structured output: the plan schema rides along with the request.
	assert.NotNil(t, provider.requests[0].JSONSchema)
	assert.Equal(t, "test-model", provider.requests[0].Model)
}

func TestPlannerRepairsUnparseableOutput(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"sorry, here is the plan: {", goodPlanJSON}}
	planner := NewPlanner(provider, "test-model", 0.1, 512)

	plan, err := planner.Plan(context.Background(), "hola", "Sin historial.", "")
	require.NoError(t, err)
	assert.Equal(t, IntentFAQ, plan.Intent)
	assert.Len(t, provider.requests, 2)
}

func TestPlannerRepairsInvalidPlan(t *testing.T) {
	invalid := `{"intent": "chitchat", "confidence": 0.5}`
	provider := &scriptedProvider{responses: []string{invalid, goodPlanJSON}}
	planner := NewPlanner(provider, "test-model", 0.1, 512)

	plan, err := planner.Plan(context.Background(), "hola", "Sin historial.", "")
	require.NoError(t, err)
	assert.Equal(t, IntentFAQ, plan.Intent)
	assert.Len(t, provider.requests, 2)
}

func TestPlannerFailsAfterRepairStillInvalid(t *testing.T) {
	invalid := `{"intent": "chitchat", "confidence": 0.5}`
	provider := &scriptedProvider{responses: []string{invalid, invalid, goodPlanJSON}}
	planner := NewPlanner(provider, "test-model", 0.1, 512)

	_, err := planner.Plan(context.Background(), "hola", "Sin historial.", "")
	require.ErrorIs(t, err, ErrPlanning)

	// The repair budget is one call total: the third canned response must
	// never be requested.
	assert.Len(t, provider.requests, 2)
}

func TestPlannerSharedRepairBudget(t *testing.T) {
	// First output is unparseable, the repaired one parses but fails
	// validation. No second repair: the turn fails.
	provider := &scriptedProvider{responses: []string{
		"{not json",
		`{"intent": "chitchat", "confidence": 0.5}`,
		goodPlanJSON,
	}}
	planner := NewPlanner(provider, "test-model", 0.1, 512)

	_, err := planner.Plan(context.Background(), "hola", "Sin historial.", "")
	require.ErrorIs(t, err, ErrPlanning)
	assert.Len(t, provider.requests, 2)
}

func TestPlannerProviderError(t *testing.T) {
	provider := &scriptedProvider{}
	planner := NewPlanner(provider, "test-model", 0.1, 512)

	_, err := planner.Plan(context.Background(), "hola", "Sin historial.", "")
	require.ErrorIs(t, err, ErrPlanning)
}
