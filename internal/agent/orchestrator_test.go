package agent

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontdesk-io/frontdesk/internal/audit"
	"github.com/frontdesk-io/frontdesk/internal/confirm"
	"github.com/frontdesk-io/frontdesk/internal/dedupe"
	"github.com/frontdesk-io/frontdesk/internal/policy"
	"github.com/frontdesk-io/frontdesk/internal/ratelimit"
	"github.com/frontdesk-io/frontdesk/internal/session"
	"github.com/frontdesk-io/frontdesk/internal/tools"
)

// stubPlanner returns a fixed plan or error.
type stubPlanner struct {
	plan *Plan
	err  error
}

func (s *stubPlanner) Plan(ctx context.Context, message, sessionSummary, toolCatalog string) (*Plan, error) {
	return s.plan, s.err
}

// stubAnswerer returns fixed text or an error.
type stubAnswerer struct {
	reply string
	err   error
}

func (s *stubAnswerer) Answer(ctx context.Context, message, intent string, slots Slots, toolResults map[string]interface{}, sessionSummary string) (string, error) {
	return s.reply, s.err
}

type fixture struct {
	orch *Orchestrator
	bus  *audit.Bus
}

func newFixture(t *testing.T, planner PlannerService) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	sessions, err := session.NewStore(db, time.Hour)
	require.NoError(t, err)
	confirmations, err := confirm.NewStore(db, 30*time.Minute, false)
	require.NoError(t, err)
	registry, err := tools.NewBuiltinRegistry(db, "test-pepper")
	require.NoError(t, err)
	engine, err := policy.NewEngine(context.Background(), nil)
	require.NoError(t, err)

	bus := audit.NewBus(nil, 64)
	orch := &Orchestrator{
		Limiter:       ratelimit.NewFixedWindow(100, time.Minute),
		Dedupe:        dedupe.NewMemoryGate(time.Hour),
		Sessions:      sessions,
		Confirmations: confirmations,
		Planner:       planner,
		Guardrails:    engine,
		Executor:      tools.NewExecutor(registry, bus),
		Bus:           bus,
	}
	return &fixture{orch: orch, bus: bus}
}

func eventTypes(bus *audit.Bus) []string {
	tail := bus.Tail(0)
	types := make([]string, len(tail))
	for i, ev := range tail {
		types[i] = ev.Type
	}
	return types
}

func TestHandleRateLimited(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{Intent: IntentFAQ, Final: "Hola!", Confidence: 1}})
	f.orch.Limiter = ratelimit.NewFixedWindow(1, time.Minute)
	ctx := context.Background()

	in := &Inbound{Message: "hola", SessionID: "s1", Channel: "web"}
	resp := f.orch.Handle(ctx, in)
	assert.Equal(t, IntentFAQ, resp.Intent)

	resp = f.orch.Handle(ctx, in)
	assert.Equal(t, "rate_limited", resp.Intent)
	assert.Contains(t, resp.Reply, "demasiados mensajes")
	assert.Equal(t, "session", resp.Data["scope"])
	assert.GreaterOrEqual(t, resp.Data["retry_after_sec"].(int), 1)
}

func TestHandleDuplicateMessage(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{Intent: IntentFAQ, Final: "Hola!", Confidence: 1}})
	ctx := context.Background()

	in := &Inbound{Message: "hola", SessionID: "s1", Channel: "whatsapp", MessageID: "wamid-1"}
	resp := f.orch.Handle(ctx, in)
	assert.Equal(t, IntentFAQ, resp.Intent)

	resp = f.orch.Handle(ctx, in)
	assert.Equal(t, IntentUnknown, resp.Intent)
	assert.Contains(t, resp.Reply, "duplicado")

	// The duplicate turn adds no IN/PLAN/OUT events.
	assert.Equal(t, []string{audit.TypeIn, audit.TypePlan, audit.TypeOut}, eventTypes(f.bus))
}

func TestHandleFinalAnswer(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{Intent: IntentFAQ, Final: "Atendemos de 9 a 20.", Confidence: 0.95}})

	resp := f.orch.Handle(context.Background(), &Inbound{Message: "¿horario?", SessionID: "s1", Channel: "web"})
	assert.Equal(t, IntentFAQ, resp.Intent)
	assert.Equal(t, "Atendemos de 9 a 20.", resp.Reply)
	assert.Empty(t, resp.Missing)
	assert.Equal(t, []string{audit.TypeIn, audit.TypePlan, audit.TypeOut}, eventTypes(f.bus))
}

func TestHandleMissingSlots(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{
		Intent:     IntentReadData,
		Missing:    []string{"cliente_ref", "periodo"},
		Confidence: 0.8,
	}})

	resp := f.orch.Handle(context.Background(), &Inbound{Message: "dame el reporte", SessionID: "s1", Channel: "web"})
	assert.Equal(t, IntentReadData, resp.Intent)
	assert.Equal(t, []string{"cliente_ref", "periodo"}, resp.Missing)
	assert.Contains(t, resp.Reply, "¿A qué cliente te referís?")
	assert.Contains(t, resp.Reply, "¿Qué período?")
}

func TestHandleReadToolAndFallbackReply(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{
		Intent: IntentReadData,
		ToolCalls: []ToolCall{{
			Name: "get_report",
			Args: map[string]interface{}{"cliente_ref": "C-1", "periodo": "2025-12"},
		}},
		Confidence: 0.9,
	}})

	resp := f.orch.Handle(context.Background(), &Inbound{Message: "reporte 2025-12 cliente C-1", SessionID: "s1", Channel: "web"})
	assert.Equal(t, IntentReadData, resp.Intent)
	assert.Contains(t, resp.Reply, "Intent: read_data")
	assert.Contains(t, resp.Reply, "metric_a")
	assert.Equal(t, []string{audit.TypeIn, audit.TypePlan, audit.TypeTool, audit.TypeOut}, eventTypes(f.bus))
}

func TestHandleAnswererComposesReply(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{
		Intent:     IntentReadData,
		ToolCalls:  []ToolCall{{Name: "get_help"}},
		Confidence: 0.9,
	}})
	f.orch.Answerer = &stubAnswerer{reply: "Esto puedo hacer por vos..."}

	resp := f.orch.Handle(context.Background(), &Inbound{Message: "ayuda", SessionID: "s1", Channel: "web"})
	assert.Equal(t, "Esto puedo hacer por vos...", resp.Reply)
}

func TestHandleAnswererFailureFallsBack(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{
		Intent:     IntentReadData,
		ToolCalls:  []ToolCall{{Name: "get_help"}},
		Confidence: 0.9,
	}})
	f.orch.Answerer = &stubAnswerer{err: errors.New("provider down")}

	resp := f.orch.Handle(context.Background(), &Inbound{Message: "ayuda", SessionID: "s1", Channel: "web"})
	assert.Equal(t, IntentReadData, resp.Intent)
	assert.Contains(t, resp.Reply, "Intent: read_data")
}

func TestHandleWriteToolRequiresConfirmation(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{
		Intent: IntentWriteAction,
		ToolCalls: []ToolCall{{
			Name: "create_ticket",
			Args: map[string]interface{}{"title": "Error en pagos", "detail": "No puedo pagar"},
		}},
		Confidence: 0.9,
	}})
	ctx := context.Background()

	resp := f.orch.Handle(ctx, &Inbound{Message: "crear ticket por error en pagos", SessionID: "s1", Channel: "web"})
	assert.Equal(t, IntentWriteAction, resp.Intent)
	assert.Contains(t, resp.Reply, "requiere confirmación")
	assert.Contains(t, resp.Reply, "confirm ")

	pc := resp.Data["pending_confirmation"].(map[string]interface{})
	token := pc["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "create_ticket", pc["tool"])

	// No TOOL event yet: nothing executed.
	assert.Equal(t, []string{audit.TypeIn, audit.TypePlan, audit.TypeOut}, eventTypes(f.bus))

	// Confirming runs the captured call exactly once.
	resp = f.orch.Handle(ctx, &Inbound{Message: "confirm " + token, SessionID: "s1", Channel: "web"})
	assert.Equal(t, IntentWriteAction, resp.Intent)
	assert.Contains(t, resp.Reply, "✅ Acción ejecutada: create_ticket")

	results := resp.Data["tool_results"].(map[string]interface{})
	ticket := results["create_ticket"].(map[string]interface{})
	assert.Equal(t, "TCK-1001", ticket["ticket_id"])

	// A second confirm of the same token fails.
	resp = f.orch.Handle(ctx, &Inbound{Message: "confirmar " + token, SessionID: "s1", Channel: "web"})
	assert.Contains(t, resp.Reply, "inválida o expirada")
}

func TestHandleConfirmTokenFromOtherSessionRejected(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{
		Intent: IntentWriteAction,
		ToolCalls: []ToolCall{{
			Name: "create_ticket",
			Args: map[string]interface{}{"title": "t", "detail": "d"},
		}},
		Confidence: 0.9,
	}})
	ctx := context.Background()

	resp := f.orch.Handle(ctx, &Inbound{Message: "crear ticket", SessionID: "s1", Channel: "web"})
	pc := resp.Data["pending_confirmation"].(map[string]interface{})
	token := pc["token"].(string)

	resp = f.orch.Handle(ctx, &Inbound{Message: "confirm " + token, SessionID: "s2", Channel: "web"})
	assert.Contains(t, resp.Reply, "inválida o expirada")

	// The owning session can still confirm.
	resp = f.orch.Handle(ctx, &Inbound{Message: "confirm " + token, SessionID: "s1", Channel: "web"})
	assert.Contains(t, resp.Reply, "✅")
}

func TestHandleGuardrailRejectsRegisterWithoutTool(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{
		Intent:     IntentFAQ,
		Final:      "Claro, ya lo registré!",
		Confidence: 0.9,
	}})

	resp := f.orch.Handle(context.Background(), &Inbound{Message: "quiero registrar cliente Juan", SessionID: "s1", Channel: "web"})
	assert.Equal(t, "error", resp.Intent)
	assert.Contains(t, resp.Reply, "register")

	// The rejected plan is still recorded.
	assert.Equal(t, []string{audit.TypeIn, audit.TypePlan, audit.TypeOut}, eventTypes(f.bus))
}

func TestHandleGuardrailRejectsWrongFirstTool(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{
		Intent:     IntentWriteAction,
		ToolCalls:  []ToolCall{{Name: "create_ticket", Args: map[string]interface{}{"title": "t", "detail": "d"}}},
		Confidence: 0.9,
	}})

	resp := f.orch.Handle(context.Background(), &Inbound{Message: "alta cliente Juan", SessionID: "s1", Channel: "web"})
	assert.Equal(t, "error", resp.Intent)
	assert.Contains(t, resp.Reply, "register_customer")
}

func TestHandlePlannerFailure(t *testing.T) {
	f := newFixture(t, &stubPlanner{err: ErrPlanning})

	resp := f.orch.Handle(context.Background(), &Inbound{Message: "hola", SessionID: "s1", Channel: "web"})
	assert.Equal(t, "error", resp.Intent)
	assert.Contains(t, resp.Reply, "Ocurrió un error")
	assert.Nil(t, resp.Debug)

	types := eventTypes(f.bus)
	assert.Equal(t, []string{audit.TypeIn, audit.TypeError}, types)
}

func TestHandleDebugExposesDetail(t *testing.T) {
	f := newFixture(t, &stubPlanner{err: ErrPlanning})
	f.orch.Debug = true

	resp := f.orch.Handle(context.Background(), &Inbound{Message: "hola", SessionID: "s1", Channel: "web"})
	require.NotNil(t, resp.Debug)
	assert.Contains(t, resp.Debug["error"], "planning failed")
}

func TestHandlePersistsSessionHistory(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{Intent: IntentFAQ, Final: "Hola!", Confidence: 1}})
	ctx := context.Background()

	f.orch.Handle(ctx, &Inbound{Message: "hola", SessionID: "s1", Channel: "web"})

	state, err := f.orch.Sessions.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, state.History, 2)
	assert.Equal(t, "hola", state.History[0].Content)
	assert.Empty(t, state.History[0].Intent)
	assert.Equal(t, "Hola!", state.History[1].Content)
	assert.Equal(t, IntentFAQ, state.History[1].Intent, "the turn's intent is persisted with the reply")
}

func TestHandleGeneratesSessionFromRequestWhenAbsent(t *testing.T) {
	f := newFixture(t, &stubPlanner{plan: &Plan{Intent: IntentFAQ, Final: "Hola!", Confidence: 1}})

	resp := f.orch.Handle(context.Background(), &Inbound{Message: "hola", Channel: "web"})
	assert.Equal(t, IntentFAQ, resp.Intent)
}

func TestExtractConfirmToken(t *testing.T) {
	assert.Equal(t, "abc123", extractConfirmToken("confirm abc123"))
	assert.Equal(t, "abc123", extractConfirmToken("CONFIRM abc123"))
	assert.Equal(t, "abc123", extractConfirmToken("  confirmar abc123  "))
	assert.Equal(t, "", extractConfirmToken("confirmo todo"))
	assert.Equal(t, "", extractConfirmToken("hola"))
	assert.Equal(t, "", extractConfirmToken("confirm"))
}

func TestFormatWriteResult(t *testing.T) {
	msg := formatWriteResult("create_appointment", map[string]interface{}{"ok": true, "appointment_id": int64(7)})
	assert.Contains(t, msg, "✅ Turno reservado")
	assert.Contains(t, msg, "ID: 7")

	msg = formatWriteResult("cancel_appointment", map[string]interface{}{
		"ok": true, "appointment_id": int64(7), "service": "consulta",
		"start": "2026-03-02T10:00", "end": "2026-03-02T10:15",
	})
	assert.Contains(t, msg, "✅ Turno cancelado")

	msg = formatWriteResult("create_ticket", map[string]interface{}{"ok": true, "ticket_id": "TCK-1001"})
	assert.Equal(t, "✅ Acción ejecutada: create_ticket", msg)

	msg = formatWriteResult("create_ticket", map[string]interface{}{"ok": false, "error": "db down"})
	assert.Contains(t, msg, "❌ No pude completar la acción")
	assert.Contains(t, msg, "db down")
}

func TestSummarizeSession(t *testing.T) {
	state := session.NewState()
	assert.Equal(t, "Sin historial.", summarizeSession(state))

	state.Append("hola", "Hola! ¿En qué te ayudo?", IntentFAQ)
	summary := summarizeSession(state)
	assert.Contains(t, summary, "- IN: hola")
	assert.Contains(t, summary, "OUT: Hola!")
}
