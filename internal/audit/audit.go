// Package audit provides the append-only trail of agent activity.
//
// Every turn emits events at fixed points: IN on arrival, PLAN after the
// planner, TOOL per tool invocation attempt, OUT on reply, ERROR on
// failure. Events are observational; emission is best-effort and never
// fails the turn that produced it.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event types.
const (
	TypeIn      = "IN"
	TypePlan    = "PLAN"
	TypeTool    = "TOOL"
	TypeOut     = "OUT"
	TypeError   = "ERROR"
	TypeConfirm = "CONFIRM"
)

// Event is a single audit record.
type Event struct {
	ID        string                 `json:"id"`
	RequestID string                 `json:"request_id"`
	SessionID string                 `json:"session_id"`
	Type      string                 `json:"type"`
	Channel   string                 `json:"channel,omitempty"`
	Intent    string                 `json:"intent,omitempty"`
	ToolName  string                 `json:"tool_name,omitempty"`
	Confirmed bool                   `json:"confirmed,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Writer persists events.
type Writer interface {
	Write(ctx context.Context, ev *Event) error
}

// Bus fans events out to an optional writer and keeps a bounded in-process
// tail for debugging. Emit never returns an error: a failing writer is
// logged and swallowed so audit problems cannot break message handling.
type Bus struct {
	mu     sync.Mutex
	writer Writer
	tail   []*Event
	keep   int
}

// NewBus creates a bus. writer may be nil (events stay in memory only).
func NewBus(writer Writer, keep int) *Bus {
	if keep <= 0 {
		keep = 256
	}
	return &Bus{writer: writer, keep: keep}
}

// Emit records the event. Missing ID and CreatedAt are filled in.
func (b *Bus) Emit(ctx context.Context, ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	b.mu.Lock()
	b.tail = append(b.tail, ev)
	if len(b.tail) > b.keep {
		b.tail = b.tail[len(b.tail)-b.keep:]
	}
	b.mu.Unlock()

	if b.writer == nil {
		return
	}
	if err := b.writer.Write(ctx, ev); err != nil {
		log.Warn().
			Err(err).
			Str("event_type", ev.Type).
			Str("request_id", ev.RequestID).
			Msg("audit_write_failed")
	}
}

// Tail returns a copy of the most recent events, newest last.
func (b *Bus) Tail(n int) []*Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > len(b.tail) {
		n = len(b.tail)
	}
	out := make([]*Event, n)
	copy(out, b.tail[len(b.tail)-n:])
	return out
}
