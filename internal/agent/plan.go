package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Planner intents. unknown is the planner's own fallback, the others map
// to how the turn proceeds: identify and read_data run read tools,
// write_action runs confirmed write tools, faq answers directly.
const (
	IntentIdentify    = "identify"
	IntentFAQ         = "faq"
	IntentReadData    = "read_data"
	IntentWriteAction = "write_action"
	IntentUnknown     = "unknown"
)

var validIntents = map[string]bool{
	IntentIdentify:    true,
	IntentFAQ:         true,
	IntentReadData:    true,
	IntentWriteAction: true,
	IntentUnknown:     true,
}

// Slots the planner may mark as missing. Only these two have clarifying
// questions; everything else goes into Slots.Otros.
var askableSlots = map[string]bool{
	"cliente_ref": true,
	"periodo":     true,
}

// ToolCall is one planned tool invocation.
type ToolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Slots carries the structured values the planner extracted.
type Slots struct {
	ClienteRef string                 `json:"cliente_ref,omitempty"`
	Periodo    string                 `json:"periodo,omitempty"`
	Otros      map[string]interface{} `json:"otros,omitempty"`
}

// Plan is the planner's structured output for one turn.
type Plan struct {
	Intent     string     `json:"intent"`
	Slots      Slots      `json:"slots"`
	Missing    []string   `json:"missing"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	Final      string     `json:"final,omitempty"`
	Confidence float64    `json:"confidence"`
}

// ToolNames returns the planned tool names in order.
func (p *Plan) ToolNames() []string {
	names := make([]string, len(p.ToolCalls))
	for i, tc := range p.ToolCalls {
		names[i] = tc.Name
	}
	return names
}

// ParsePlan decodes raw planner text into a Plan without validating it.
// The text must be a bare JSON object; markdown fences and prose fail.
func ParsePlan(raw string) (*Plan, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	var plan Plan
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("parsing plan JSON: %w", err)
	}
	return &plan, nil
}

// Validate checks the structural and semantic rules a plan must satisfy
// before anything acts on it.
func (p *Plan) Validate() error {
	if !validIntents[p.Intent] {
		return fmt.Errorf("invalid intent %q", p.Intent)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %v out of [0,1]", p.Confidence)
	}
	for _, m := range p.Missing {
		if !askableSlots[m] {
			return fmt.Errorf("unknown missing slot %q", m)
		}
	}
	// A plan that still needs data has nothing to execute yet.
	if len(p.Missing) > 0 && len(p.ToolCalls) > 0 {
		return fmt.Errorf("plan declares missing slots and tool calls at once")
	}
	// A final answer claiming a completed write with no call to make it
	// happen is the planner inventing results.
	if p.Intent == IntentWriteAction && p.Final != "" && len(p.ToolCalls) == 0 {
		return fmt.Errorf("write_action plan carries a final answer but no tool calls")
	}
	for i, tc := range p.ToolCalls {
		if strings.TrimSpace(tc.Name) == "" {
			return fmt.Errorf("tool call %d has no name", i)
		}
	}
	return nil
}

// planSchema is the JSON schema sent to the provider for structured
// output. Kept literal so what we enforce and what we request stay in
// one place.
func planSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"intent": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{IntentIdentify, IntentFAQ, IntentReadData, IntentWriteAction, IntentUnknown},
			},
			"slots": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"cliente_ref": map[string]interface{}{"type": []interface{}{"string", "null"}},
					"periodo":     map[string]interface{}{"type": []interface{}{"string", "null"}},
					"otros":       map[string]interface{}{"type": "object"},
				},
			},
			"missing": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "string",
					"enum": []interface{}{"cliente_ref", "periodo"},
				},
			},
			"tool_calls": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"name": map[string]interface{}{"type": "string"},
						"args": map[string]interface{}{"type": "object"},
					},
					"required": []interface{}{"name"},
				},
			},
			"final":      map[string]interface{}{"type": []interface{}{"string", "null"}},
			"confidence": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required": []interface{}{"intent", "confidence"},
	}
}
