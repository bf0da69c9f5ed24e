package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	fdotel "github.com/frontdesk-io/frontdesk/internal/otel"
)

var tracer = fdotel.Tracer("github.com/frontdesk-io/frontdesk/internal/audit")

// SQLiteStore persists audit events. Rows are insert-only; there is no
// update or delete path besides retention cleanup.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the audit store and its schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			channel TEXT,
			intent TEXT,
			tool_name TEXT,
			confirmed BOOLEAN NOT NULL DEFAULT 0,
			payload_json TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_events(request_id);
		CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating audit_events table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Write appends one event.
func (s *SQLiteStore) Write(ctx context.Context, ev *Event) error {
	ctx, span := tracer.Start(ctx, "audit.write",
		trace.WithAttributes(
			attribute.String("event_type", ev.Type),
			attribute.String("session_id", ev.SessionID),
		))
	defer span.End()

	var payloadJSON sql.NullString
	if len(ev.Payload) > 0 {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshaling audit payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, request_id, session_id, type, channel, intent, tool_name, confirmed, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RequestID, ev.SessionID, ev.Type, ev.Channel, ev.Intent,
		ev.ToolName, ev.Confirmed, payloadJSON, ev.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing audit event: %w", err)
	}
	return nil
}

// List returns events matching the given filters, newest first.
func (s *SQLiteStore) List(ctx context.Context, sessionID, requestID, eventType string, from, to time.Time, limit int) ([]*Event, error) {
	ctx, span := tracer.Start(ctx, "audit.list",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("request_id", requestID),
		))
	defer span.End()

	query := `SELECT id, request_id, session_id, type, channel, intent, tool_name, confirmed, payload_json, created_at
	          FROM audit_events WHERE 1=1`
	args := []interface{}{}

	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	if requestID != "" {
		query += ` AND request_id = ?`
		args = append(args, requestID)
	}
	if eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}
	if !from.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, to)
	}

	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var results []*Event
	for rows.Next() {
		var ev Event
		var channel, intent, toolName, payloadJSON sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.SessionID, &ev.Type,
			&channel, &intent, &toolName, &ev.Confirmed, &payloadJSON, &ev.CreatedAt); err != nil {
			continue
		}
		ev.Channel = channel.String
		ev.Intent = intent.String
		ev.ToolName = toolName.String
		if payloadJSON.Valid {
			_ = json.Unmarshal([]byte(payloadJSON.String), &ev.Payload)
		}
		results = append(results, &ev)
	}

	span.SetAttributes(attribute.Int("event_count", len(results)))
	return results, nil
}

// Cleanup deletes events older than the retention cutoff.
func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleaning audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
