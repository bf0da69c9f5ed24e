package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/frontdesk-io/frontdesk/internal/audit"
	"github.com/frontdesk-io/frontdesk/internal/confirm"
	"github.com/frontdesk-io/frontdesk/internal/dedupe"
	"github.com/frontdesk-io/frontdesk/internal/mailer"
	fdotel "github.com/frontdesk-io/frontdesk/internal/otel"
	"github.com/frontdesk-io/frontdesk/internal/policy"
	"github.com/frontdesk-io/frontdesk/internal/ratelimit"
	"github.com/frontdesk-io/frontdesk/internal/requestctx"
	"github.com/frontdesk-io/frontdesk/internal/session"
	"github.com/frontdesk-io/frontdesk/internal/tools"
)

// Inbound is one user message entering the orchestrator. Immutable once
// received.
type Inbound struct {
	Message     string
	SessionID   string
	Channel     string
	UserID      string
	MessageID   string
	PayloadHash string
}

// Response is what goes back to the channel.
type Response struct {
	Intent  string                 `json:"intent"`
	Reply   string                 `json:"reply"`
	Missing []string               `json:"missing"`
	Data    map[string]interface{} `json:"data"`
	Debug   map[string]interface{} `json:"debug,omitempty"`
}

// PlannerService produces a validated plan for a turn.
type PlannerService interface {
	Plan(ctx context.Context, message, sessionSummary, toolCatalog string) (*Plan, error)
}

// AnswerService composes the final reply from tool results.
type AnswerService interface {
	Answer(ctx context.Context, message, intent string, slots Slots, toolResults map[string]interface{}, sessionSummary string) (string, error)
}

// Orchestrator runs the per-message state machine. It holds no state
// between turns; everything cross-turn lives in the shared stores.
type Orchestrator struct {
	Limiter       *ratelimit.FixedWindow
	Dedupe        dedupe.Gate
	Sessions      *session.Store
	Confirmations *confirm.Store
	Planner       PlannerService
	Answerer      AnswerService // nil disables the answerer
	Guardrails    *policy.Engine
	Executor      *tools.Executor
	Bus           *audit.Bus
	Mailer        mailer.Sender
	Debug         bool // expose internals in responses; dev only
}

const (
	replyRateLimited  = "⚠️ Estás enviando demasiados mensajes. Probá de nuevo en %ds."
	replyDuplicate    = "Mensaje duplicado (dedupe)."
	replyConfirmFail  = "❌ Confirmación inválida o expirada. Volvé a solicitar la acción."
	replyGenericError = "⚠️ Ocurrió un error procesando tu mensaje. Probá de nuevo o reformulalo."

	replyGuardRegisterMissing = "⚠️ Para registrar un cliente/usuario necesito ejecutar una herramienta y no se generó ninguna.\n" +
		"Probá con:\n" +
		"registrar cliente | display_name=Nombre Apellido | email=mail@dominio.com | phone=+54..."
	replyGuardRegisterWrong = "⚠️ Para registrar clientes debe usarse la herramienta register_customer.\n" +
		"Reintentá con:\n" +
		"registrar cliente | display_name=Nombre Apellido | email=mail@dominio.com | phone=+54..."
	replyGuardWriteMissing = "⚠️ Para ejecutar una acción de escritura necesito llamar una herramienta, " +
		"pero no se generó ninguna."
)

// Handle processes one inbound message end to end. It never returns an
// error: every failure becomes an error-intent response, recorded as an
// ERROR audit event.
func (o *Orchestrator) Handle(ctx context.Context, in *Inbound) (resp *Response) {
	requestID := requestctx.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = requestID
	}

	ctx, span := tracer.Start(ctx, "agent.handle",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("channel", in.Channel),
		))
	defer span.End()

	fail := func(err error) *Response {
		span.RecordError(err)
		o.Bus.Emit(ctx, &audit.Event{
			RequestID: requestID,
			SessionID: sessionID,
			Type:      audit.TypeError,
			Channel:   in.Channel,
			Payload:   map[string]interface{}{"error": err.Error()},
		})
		log.Error().Err(err).
			Str("request_id", requestID).
			Str("session_id", sessionID).
			Str("channel", in.Channel).
			Msg("turn_failed")
		r := &Response{Intent: "error", Reply: replyGenericError, Missing: []string{}, Data: map[string]interface{}{}}
		if o.Debug {
			r.Debug = map[string]interface{}{"error": err.Error()}
		}
		return r
	}

	defer func() {
		if r := recover(); r != nil {
			resp = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	// 1. Rate check. Rejected turns are cheap: nothing below runs.
	if o.Limiter != nil {
		allowed, retryAfter := o.Limiter.Check("sess:" + sessionID)
		if !allowed {
			return &Response{
				Intent:  "rate_limited",
				Reply:   fmt.Sprintf(replyRateLimited, retryAfter),
				Missing: []string{},
				Data:    map[string]interface{}{"retry_after_sec": retryAfter, "scope": "session"},
			}
		}
	}

	// 2. Dedupe, only for channels that supply a provider message id.
	if in.MessageID != "" && o.Dedupe != nil {
		provider := in.Channel
		if provider == "" {
			provider = "unknown"
		}
		first, err := o.Dedupe.Mark(ctx, provider, in.MessageID, in.PayloadHash)
		if err != nil {
			return fail(fmt.Errorf("dedupe check: %w", err))
		}
		if !first {
			return &Response{Intent: IntentUnknown, Reply: replyDuplicate, Missing: []string{}, Data: map[string]interface{}{}}
		}
	}

	// 3. Session load.
	state, err := o.Sessions.Load(ctx, sessionID)
	if err != nil {
		return fail(fmt.Errorf("loading session: %w", err))
	}
	summary := summarizeSession(state)

	o.Bus.Emit(ctx, &audit.Event{
		RequestID: requestID,
		SessionID: sessionID,
		Type:      audit.TypeIn,
		Channel:   in.Channel,
		Payload:   map[string]interface{}{"text": in.Message},
	})
	log.Info().Str("request_id", requestID).Str("session_id", sessionID).Str("channel", in.Channel).Msg("in")

	turn := &turnContext{in: in, requestID: requestID, sessionID: sessionID, state: state}

	// 4. Confirmation-token shortcut bypasses planning entirely.
	if token := extractConfirmToken(in.Message); token != "" {
		resp, err := o.handleConfirmation(ctx, turn, token)
		if err != nil {
			return fail(err)
		}
		return resp
	}

	// 5. Plan.
	plan, err := o.Planner.Plan(ctx, in.Message, summary, o.Executor.Registry().Describe())
	if err != nil {
		return fail(err)
	}
	o.Bus.Emit(ctx, &audit.Event{
		RequestID: requestID,
		SessionID: sessionID,
		Type:      audit.TypePlan,
		Channel:   in.Channel,
		Intent:    plan.Intent,
		Payload:   map[string]interface{}{"plan": planPayload(plan)},
	})
	log.Info().
		Str("request_id", requestID).
		Str("session_id", sessionID).
		Str("intent", plan.Intent).
		Float64("confidence", plan.Confidence).
		Msg("plan")
	turn.plan = plan

	// 6. Guardrails.
	violation, err := o.Guardrails.Check(ctx, in.Message, plan.Intent, plan.ToolNames(),
		o.Executor.Registry().Has("register_customer"))
	if err != nil {
		return fail(fmt.Errorf("evaluating guardrails: %w", err))
	}
	if violation != nil {
		log.Warn().
			Str("request_id", requestID).
			Str("session_id", sessionID).
			Str("reason", violation.Reason).
			Msg("guardrail_rejected")
		return o.finalize(ctx, turn, "error", guardrailReply(violation.Reason), nil,
			map[string]interface{}{"slots": plan.Slots, "plan": planPayload(plan)})
	}

	// 7. Missing slots: ask, don't act.
	if len(plan.Missing) > 0 {
		return o.finalize(ctx, turn, plan.Intent, askForMissing(plan.Missing), plan.Missing,
			map[string]interface{}{"slots": plan.Slots})
	}

	// 8. Direct final answer, never for write intents.
	if plan.Final != "" && len(plan.ToolCalls) == 0 && plan.Intent != IntentWriteAction {
		return o.finalize(ctx, turn, plan.Intent, plan.Final, nil,
			map[string]interface{}{"slots": plan.Slots})
	}

	// 9. Tool loop, strictly in plan order.
	toolResults := map[string]interface{}{}
	for _, tc := range plan.ToolCalls {
		result, err := o.Executor.Run(ctx, tc.Name, tc.Args, o.toolContext(turn, false))
		if errors.Is(err, tools.ErrConfirmationRequired) {
			resp, cerr := o.requestConfirmation(ctx, turn, tc)
			if cerr != nil {
				return fail(cerr)
			}
			return resp
		}
		if err != nil {
			return fail(err)
		}
		toolResults[tc.Name] = result
	}

	// 10. Compose the reply.
	var reply string
	if o.Answerer != nil {
		reply, err = o.Answerer.Answer(ctx, in.Message, plan.Intent, plan.Slots, toolResults, summary)
		if err != nil {
			log.Warn().Err(err).Str("request_id", requestID).Msg("answerer_failed")
			reply = FallbackReply(plan.Intent, toolResults)
		}
	} else {
		reply = FallbackReply(plan.Intent, toolResults)
	}

	// 11. Finalize.
	data := map[string]interface{}{"slots": plan.Slots, "tool_results": toolResults}
	return o.finalize(ctx, turn, plan.Intent, reply, nil, data)
}

// turnContext carries the per-turn values the steps share.
type turnContext struct {
	in        *Inbound
	requestID string
	sessionID string
	state     *session.State
	plan      *Plan
}

func (o *Orchestrator) toolContext(turn *turnContext, confirmed bool) *tools.Context {
	return &tools.Context{
		RequestID: turn.requestID,
		SessionID: turn.sessionID,
		Channel:   turn.in.Channel,
		UserID:    turn.in.UserID,
		Confirmed: confirmed,
		Mailer:    o.Mailer,
	}
}

// handleConfirmation consumes the token and, on success, executes the
// captured tool as confirmed. The turn always ends here.
func (o *Orchestrator) handleConfirmation(ctx context.Context, turn *turnContext, token string) (*Response, error) {
	pending, err := o.Confirmations.Consume(ctx, turn.sessionID, token)
	if err != nil {
		if errors.Is(err, confirm.ErrNotFound) || errors.Is(err, confirm.ErrExpired) || errors.Is(err, confirm.ErrConsumed) {
			return o.finalize(ctx, turn, IntentWriteAction, replyConfirmFail, nil, map[string]interface{}{}), nil
		}
		return nil, fmt.Errorf("consuming confirmation: %w", err)
	}

	o.Bus.Emit(ctx, &audit.Event{
		RequestID: turn.requestID,
		SessionID: turn.sessionID,
		Type:      audit.TypeConfirm,
		Channel:   turn.in.Channel,
		ToolName:  pending.ToolName,
		Confirmed: true,
		Payload:   map[string]interface{}{"token": pending.Token},
	})

	result, err := o.Executor.Run(ctx, pending.ToolName, pending.Args, o.toolContext(turn, true))
	if err != nil {
		return nil, err
	}

	reply := formatWriteResult(pending.ToolName, result)
	data := map[string]interface{}{"tool_results": map[string]interface{}{pending.ToolName: result}}
	resp := o.finalize(ctx, turn, IntentWriteAction, reply, nil, data)
	if o.Debug {
		resp.Debug = map[string]interface{}{"confirmed": true, "tool": pending.ToolName}
	}
	return resp, nil
}

// requestConfirmation parks the write call and tells the user how to
// approve it. Results of earlier read calls in the plan are dropped from
// this turn's reply on purpose.
func (o *Orchestrator) requestConfirmation(ctx context.Context, turn *turnContext, tc ToolCall) (*Response, error) {
	pending, err := o.Confirmations.Create(ctx, turn.sessionID, tc.Name, tc.Args)
	if err != nil {
		return nil, fmt.Errorf("creating confirmation: %w", err)
	}

	argsJSON, err := json.Marshal(tc.Args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	reply := fmt.Sprintf(
		"⚠️ Esta acción requiere confirmación.\n- Acción: %s\n- Datos: %s\n\nSi querés continuar, respondé: confirm %s",
		tc.Name, argsJSON, pending.Token)
	if pending.ShortCode != "" {
		reply += fmt.Sprintf("\nO usá el código corto: confirm %s", pending.ShortCode)
	}

	data := map[string]interface{}{
		"pending_confirmation": map[string]interface{}{"token": pending.Token, "tool": tc.Name},
	}
	return o.finalize(ctx, turn, turn.plan.Intent, reply, nil, data), nil
}

// finalize persists the turn into session history, emits the OUT event
// and builds the response. Session write failures are logged, not fatal:
// the reply already exists.
func (o *Orchestrator) finalize(ctx context.Context, turn *turnContext, intent, reply string, missing []string, data map[string]interface{}) *Response {
	turn.state.Append(turn.in.Message, reply, intent)
	if err := o.Sessions.Save(ctx, turn.sessionID, turn.state); err != nil {
		log.Warn().Err(err).Str("session_id", turn.sessionID).Msg("session_save_failed")
	}

	o.Bus.Emit(ctx, &audit.Event{
		RequestID: turn.requestID,
		SessionID: turn.sessionID,
		Type:      audit.TypeOut,
		Channel:   turn.in.Channel,
		Intent:    intent,
	})
	log.Info().
		Str("request_id", turn.requestID).
		Str("session_id", turn.sessionID).
		Str("intent", intent).
		Func(fdotel.LogTraceFields(ctx)).
		Msg("out")

	if missing == nil {
		missing = []string{}
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	resp := &Response{Intent: intent, Reply: reply, Missing: missing, Data: data}
	if o.Debug && turn.plan != nil {
		resp.Debug = map[string]interface{}{"plan": planPayload(turn.plan)}
	}
	return resp
}

func guardrailReply(reason string) string {
	switch reason {
	case policy.ReasonRegisterMissingTool:
		return replyGuardRegisterMissing
	case policy.ReasonRegisterWrongFirst:
		return replyGuardRegisterWrong
	default:
		return replyGuardWriteMissing
	}
}

func askForMissing(missing []string) string {
	questions := make([]string, 0, len(missing))
	for _, m := range missing {
		switch m {
		case "cliente_ref":
			questions = append(questions, "• ¿A qué cliente te referís? (nombre o referencia)")
		case "periodo":
			questions = append(questions, "• ¿Qué período? (YYYY-MM, por ejemplo 2025-12)")
		}
	}
	return "Me falta un dato para ayudarte:\n" + strings.Join(questions, "\n")
}

// extractConfirmToken recognizes "confirm <token>" and "confirmar
// <token>" (case-insensitive prefix) and returns the token.
func extractConfirmToken(text string) string {
	raw := strings.TrimSpace(text)
	low := strings.ToLower(raw)
	for _, prefix := range []string{"confirm ", "confirmar "} {
		if strings.HasPrefix(low, prefix) {
			return strings.TrimSpace(raw[len(prefix):])
		}
	}
	return ""
}

func formatWriteResult(toolName string, result map[string]interface{}) string {
	if ok, _ := result["ok"].(bool); !ok {
		detail := result["error"]
		if detail == nil {
			detail = result["detail"]
		}
		return fmt.Sprintf("❌ No pude completar la acción (%s).\n• Detalle: %v", toolName, detail)
	}

	switch toolName {
	case "create_appointment":
		return fmt.Sprintf("✅ Turno reservado.\n• ID: %v\n• Estado: reservado", result["appointment_id"])
	case "cancel_appointment":
		return fmt.Sprintf("✅ Turno cancelado.\n• ID: %v\n• Servicio: %v\n• Fecha y hora: %v a %v",
			result["appointment_id"], result["service"], result["start"], result["end"])
	case "reschedule_appointment":
		return fmt.Sprintf("✅ Turno reprogramado.\n• ID: %v\n• Servicio: %v\n• Nuevo horario: %v a %v",
			result["appointment_id"], result["service"], result["new_start"], result["new_end"])
	default:
		return fmt.Sprintf("✅ Acción ejecutada: %s", toolName)
	}
}

// summarizeSession renders the last exchanges for prompt context.
func summarizeSession(state *session.State) string {
	if len(state.History) == 0 {
		return "Sin historial."
	}
	recent := state.Recent(6)
	var b strings.Builder
	for _, m := range recent {
		switch m.Role {
		case "user":
			fmt.Fprintf(&b, "- IN: %s\n", m.Content)
		case "assistant":
			fmt.Fprintf(&b, "  OUT: %s\n", m.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// planPayload is the audit/debug rendition of a plan.
func planPayload(p *Plan) map[string]interface{} {
	calls := make([]map[string]interface{}, len(p.ToolCalls))
	for i, tc := range p.ToolCalls {
		calls[i] = map[string]interface{}{"name": tc.Name, "args": tc.Args}
	}
	return map[string]interface{}{
		"intent":     p.Intent,
		"slots":      p.Slots,
		"missing":    p.Missing,
		"tool_calls": calls,
		"final":      p.Final,
		"confidence": p.Confidence,
	}
}
