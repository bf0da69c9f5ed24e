// Package policy enforces deterministic guardrails over planner output.
//
// The planner is a statistical component; these rules are not. They run
// after every plan, read only the current message and plan, and always
// produce the same verdict for the same input. Rules live in embedded
// Rego evaluated through precompiled OPA queries; reason priorities and
// user-facing replies stay in Go.
package policy

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	fdotel "github.com/frontdesk-io/frontdesk/internal/otel"
)

var tracer = fdotel.Tracer("github.com/frontdesk-io/frontdesk/internal/policy")

//go:embed rego/*.rego
var embeddedPolicies embed.FS

const (
	guardrailsFile  = "rego/guardrails.rego"
	guardrailsQuery = "data.frontdesk.guardrails.deny"
)

// Reasons produced by the guardrail policy, in priority order: when a plan
// trips several rules, the lowest-indexed reason wins.
const (
	ReasonRegisterMissingTool = "register_missing_tool_call"
	ReasonRegisterWrongFirst  = "register_wrong_first_tool"
	ReasonWriteMissingTool    = "write_missing_tool_call"
)

var reasonPriority = []string{
	ReasonRegisterMissingTool,
	ReasonRegisterWrongFirst,
	ReasonWriteMissingTool,
}

// DefaultRegisterPhrases trigger the registration guardrails. Spanish
// because that is the language the assistant serves; the agent profile
// can override the list.
var DefaultRegisterPhrases = []string{
	"registrar cliente",
	"alta cliente",
	"crear cliente",
	"nuevo cliente",
	"registrar usuario",
	"alta usuario",
	"crear usuario",
}

// Violation is a tripped guardrail.
type Violation struct {
	Reason string
}

// Engine evaluates the guardrail policy with a precompiled OPA query.
type Engine struct {
	prepared rego.PreparedEvalQuery
}

// NewEngine compiles the embedded guardrail policy. registerPhrases feeds
// the OPA data document; nil selects DefaultRegisterPhrases.
func NewEngine(ctx context.Context, registerPhrases []string) (*Engine, error) {
	ctx, span := tracer.Start(ctx, "policy.engine.new")
	defer span.End()

	if registerPhrases == nil {
		registerPhrases = DefaultRegisterPhrases
	}
	phrases := make([]interface{}, len(registerPhrases))
	for i, p := range registerPhrases {
		phrases[i] = strings.ToLower(p)
	}

	content, err := embeddedPolicies.ReadFile(guardrailsFile)
	if err != nil {
		return nil, fmt.Errorf("reading embedded policy %s: %w", guardrailsFile, err)
	}

	store := inmem.NewFromObject(map[string]interface{}{
		"guardrails": map[string]interface{}{
			"register_phrases": phrases,
		},
	})

	r := rego.New(
		rego.Query(guardrailsQuery),
		rego.Module(guardrailsFile, string(content)),
		rego.Store(store),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing Rego policy %s: %w", guardrailsFile, err)
	}

	span.SetAttributes(attribute.Int("policy.register_phrases", len(phrases)))
	return &Engine{prepared: prepared}, nil
}

// Check evaluates the guardrails against one plan. message is the raw user
// text; toolCalls carries planned tool names in order. Returns the
// highest-priority violation, or nil when the plan passes.
func (e *Engine) Check(ctx context.Context, message, intent string, toolCalls []string, catalogHasRegister bool) (*Violation, error) {
	ctx, span := tracer.Start(ctx, "policy.check",
		trace.WithAttributes(
			attribute.String("intent", intent),
			attribute.Int("tool_calls", len(toolCalls)),
		))
	defer span.End()

	calls := make([]interface{}, len(toolCalls))
	for i, name := range toolCalls {
		calls[i] = name
	}

	input := map[string]interface{}{
		"message":              strings.ToLower(message),
		"intent":               intent,
		"tool_calls":           calls,
		"catalog_has_register": catalogHasRegister,
	}

	reasons, err := e.evaluateDenyReasons(ctx, input)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(reasons) == 0 {
		return nil, nil
	}

	// The deny document is a set; restore rule order via fixed priority.
	denied := make(map[string]bool, len(reasons))
	for _, r := range reasons {
		denied[r] = true
	}
	for _, reason := range reasonPriority {
		if denied[reason] {
			span.SetAttributes(attribute.String("violation", reason))
			return &Violation{Reason: reason}, nil
		}
	}
	return &Violation{Reason: reasons[0]}, nil
}

// evaluateDenyReasons runs the prepared query and extracts the deny set.
// OPA returns it as []interface{} or, occasionally, map[string]interface{}.
func (e *Engine) evaluateDenyReasons(ctx context.Context, input map[string]interface{}) ([]string, error) {
	results, err := e.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating guardrails: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	var reasons []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, msg := range v {
			if msgStr, ok := msg.(string); ok {
				reasons = append(reasons, msgStr)
			}
		}
	case map[string]interface{}:
		for _, msg := range v {
			if msgStr, ok := msg.(string); ok {
				reasons = append(reasons, msgStr)
			}
		}
	}
	return reasons, nil
}
