package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/frontdesk-io/frontdesk/internal/llm"
	fdotel "github.com/frontdesk-io/frontdesk/internal/otel"
)

var tracer = fdotel.Tracer("github.com/frontdesk-io/frontdesk/internal/agent")

// ErrPlanning wraps any failure to obtain a valid plan, including a plan
// still invalid after the repair attempt.
var ErrPlanning = errors.New("planning failed")

// Planner turns a user message into a validated Plan via the LLM
// provider. Per turn it makes one planning call and at most one repair
// call, shared between parse and validation failures; a plan that is
// still broken after that fails the turn.
type Planner struct {
	provider    llm.Provider
	model       string
	temperature float64
	maxTokens   int
}

// NewPlanner wires the provider and generation parameters.
func NewPlanner(provider llm.Provider, model string, temperature float64, maxTokens int) *Planner {
	return &Planner{provider: provider, model: model, temperature: temperature, maxTokens: maxTokens}
}

// Plan produces a validated plan for the message. sessionSummary and
// toolCatalog are embedded in the prompt verbatim.
func (p *Planner) Plan(ctx context.Context, message, sessionSummary, toolCatalog string) (*Plan, error) {
	ctx, span := tracer.Start(ctx, "agent.plan",
		trace.WithAttributes(attribute.String("model", p.model)))
	defer span.End()

	schema := planSchema()
	raw, err := p.generate(ctx, "plan", plannerSystem,
		fmt.Sprintf(plannerUserTemplate, message, sessionSummary, toolCatalog), schema)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrPlanning, err)
	}

	repairUsed := false
	plan, parseErr := ParsePlan(raw)
	if parseErr != nil {
		repairUsed = true
		raw, err = p.repair(ctx, raw, schema)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: %v", ErrPlanning, err)
		}
		plan, parseErr = ParsePlan(raw)
		if parseErr != nil {
			span.RecordError(parseErr)
			return nil, fmt.Errorf("%w: unparseable after repair: %v", ErrPlanning, parseErr)
		}
	}

	if validErr := plan.Validate(); validErr != nil {
		if repairUsed {
			span.RecordError(validErr)
			return nil, fmt.Errorf("%w: invalid after repair: %v", ErrPlanning, validErr)
		}
		raw, err = p.repair(ctx, raw, schema)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: %v", ErrPlanning, err)
		}
		plan, parseErr = ParsePlan(raw)
		if parseErr != nil {
			span.RecordError(parseErr)
			return nil, fmt.Errorf("%w: unparseable after repair: %v", ErrPlanning, parseErr)
		}
		if validErr = plan.Validate(); validErr != nil {
			span.RecordError(validErr)
			return nil, fmt.Errorf("%w: invalid after repair: %v", ErrPlanning, validErr)
		}
	}

	span.SetAttributes(
		attribute.String("intent", plan.Intent),
		attribute.Float64("confidence", plan.Confidence),
		attribute.Int("tool_calls", len(plan.ToolCalls)),
	)
	return plan, nil
}

func (p *Planner) generate(ctx context.Context, purpose, system, user string, schema map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, llm.TimeoutLLMCall)
	defer cancel()

	resp, err := p.provider.Generate(ctx, &llm.Request{
		Model: p.model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		JSONSchema:  schema,
	})
	if err != nil {
		return "", err
	}
	llm.RecordUsage(ctx, p.provider, resp, purpose)
	return resp.Content, nil
}

// repair is the single second chance: it hands the schema and the broken
// output back to the model and asks for conforming JSON.
func (p *Planner) repair(ctx context.Context, badOutput string, schema map[string]interface{}) (string, error) {
	compact, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("encoding plan schema: %w", err)
	}
	return p.generate(ctx, "repair", repairSystem,
		fmt.Sprintf(repairUserTemplate, compact, badOutput), schema)
}
