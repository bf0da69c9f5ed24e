package tools

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/frontdesk-io/frontdesk/internal/audit"
	fdotel "github.com/frontdesk-io/frontdesk/internal/otel"
)

var tracer = fdotel.Tracer("github.com/frontdesk-io/frontdesk/internal/tools")

// ErrToolNotFound means the plan named a tool the registry does not have.
var ErrToolNotFound = errors.New("tool not found")

// ErrConfirmationRequired signals that the tool declares the write scope
// and the invocation was not confirmed. The caller creates a pending
// confirmation and asks the user; nothing has executed.
var ErrConfirmationRequired = errors.New("confirmation required")

// Executor resolves, validates and dispatches tool calls sequentially,
// emitting one audit event per invocation attempt.
type Executor struct {
	registry *Registry
	bus      *audit.Bus
}

// NewExecutor wires the registry and audit bus.
func NewExecutor(registry *Registry, bus *audit.Bus) *Executor {
	return &Executor{registry: registry, bus: bus}
}

// Registry exposes the underlying capability table.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Run invokes one tool. Arguments are validated and coerced against the
// tool's declared schema before dispatch; a write tool with
// tctx.Confirmed false returns ErrConfirmationRequired without executing.
// A successful invocation emits a TOOL audit event with the echoed
// arguments and result; a failing one emits an ERROR event and the error
// propagates.
func (e *Executor) Run(ctx context.Context, name string, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	ctx, span := tracer.Start(ctx, "tools.run",
		trace.WithAttributes(
			attribute.String("tool", name),
			attribute.Bool("confirmed", tctx.Confirmed),
		))
	defer span.End()

	tool, ok := e.registry.Get(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrToolNotFound, name)
		span.RecordError(err)
		return nil, err
	}

	validated, err := ValidateArgs(tool.Args(), args)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("validating arguments for %s: %w", name, err)
	}

	if RequiresConfirmation(tool) && !tctx.Confirmed {
		return nil, ErrConfirmationRequired
	}

	result, err := tool.Run(ctx, validated, tctx)
	if err != nil {
		span.RecordError(err)
		e.bus.Emit(ctx, &audit.Event{
			RequestID: tctx.RequestID,
			SessionID: tctx.SessionID,
			Type:      audit.TypeError,
			Channel:   tctx.Channel,
			ToolName:  name,
			Confirmed: tctx.Confirmed,
			Payload: map[string]interface{}{
				"args":  validated,
				"error": err.Error(),
			},
		})
		return nil, fmt.Errorf("running tool %s: %w", name, err)
	}

	e.bus.Emit(ctx, &audit.Event{
		RequestID: tctx.RequestID,
		SessionID: tctx.SessionID,
		Type:      audit.TypeTool,
		Channel:   tctx.Channel,
		ToolName:  name,
		Confirmed: tctx.Confirmed,
		Payload: map[string]interface{}{
			"args":   validated,
			"result": result,
		},
	})
	return result, nil
}
