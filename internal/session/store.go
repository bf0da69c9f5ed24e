// Package session persists per-conversation history and accumulated facts.
package session

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

var tracer = fdotel.Tracer("github.com/frontdesk-io/frontdesk/internal/session")

// Message is one turn of conversation history. Assistant messages carry
// the intent resolved for the turn.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
	Intent  string `json:"intent,omitempty"`
}

// State is the mutable conversation state the orchestrator reads and writes.
type State struct {
	History []Message              `json:"history"`
	Facts   map[string]interface{} `json:"facts"`
}

// NewState returns an empty state with initialized fields.
func NewState() *State {
	return &State{History: []Message{}, Facts: map[string]interface{}{}}
}

// Append records a user/assistant exchange with the turn's intent.
func (s *State) Append(userMsg, assistantMsg, intent string) {
	s.History = append(s.History,
		Message{Role: "user", Content: userMsg},
		Message{Role: "assistant", Content: assistantMsg, Intent: intent},
	)
}

// Recent returns the last n messages, oldest first.
func (s *State) Recent(n int) []Message {
	if n <= 0 || n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// Store persists session state in SQLite with a TTL.
type Store struct {
	db  *sql.DB
	ttl time.Duration
}

// NewStore creates the session store and its schema.
func NewStore(db *sql.DB, ttl time.Duration) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			history_json TEXT NOT NULL,
			facts_json TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating sessions table: %w", err)
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Load returns the state for sessionID. Unknown or expired sessions yield a
// fresh empty state, never an error.
func (s *Store) Load(ctx context.Context, sessionID string) (*State, error) {
	ctx, span := tracer.Start(ctx, "session.load",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	var historyJSON, factsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT history_json, facts_json FROM sessions
		WHERE session_id = ? AND expires_at > ?`,
		sessionID, time.Now().UTC(),
	).Scan(&historyJSON, &factsJSON)
	if err == sql.ErrNoRows {
		return NewState(), nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("loading session: %w", err)
	}

	state := NewState()
	if err := json.Unmarshal([]byte(historyJSON), &state.History); err != nil {
		return NewState(), nil
	}
	if err := json.Unmarshal([]byte(factsJSON), &state.Facts); err != nil {
		state.Facts = map[string]interface{}{}
	}
	return state, nil
}

// Save upserts the state and refreshes the expiry.
func (s *Store) Save(ctx context.Context, sessionID string, state *State) error {
	ctx, span := tracer.Start(ctx, "session.save",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.Int("history_len", len(state.History)),
		))
	defer span.End()

	historyJSON, err := json.Marshal(state.History)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	factsJSON, err := json.Marshal(state.Facts)
	if err != nil {
		return fmt.Errorf("marshaling facts: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, history_json, facts_json, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			history_json = excluded.history_json,
			facts_json = excluded.facts_json,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		sessionID, string(historyJSON), string(factsJSON), now, now.Add(s.ttl),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Cleanup deletes expired sessions and returns the number removed.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
