// Package confirm implements the two-step approval gate for write actions.
//
// A write tool call is parked as a pending confirmation carrying an
// unguessable token (and optionally a 6-digit short code for channels where
// typing a long token is painful). The user approves by sending the token
// back; consuming it flips the row pending → consumed in one guarded UPDATE,
// so concurrent confirmations of the same token succeed exactly once.
package confirm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/frontdesk-io/frontdesk/internal/cryptoutil"
	fdotel "github.com/frontdesk-io/frontdesk/internal/otel"
)

var tracer = fdotel.Tracer("github.com/frontdesk-io/frontdesk/internal/confirm")

var (
	// ErrNotFound means the token does not exist for this session. Session
	// mismatches map here on purpose: a token must never leak across sessions.
	ErrNotFound = errors.New("confirmation not found")
	// ErrExpired means the confirmation's TTL elapsed before consumption.
	ErrExpired = errors.New("confirmation expired")
	// ErrConsumed means the token was already used once.
	ErrConsumed = errors.New("confirmation already consumed")
)

// Pending is a parked write action awaiting approval.
type Pending struct {
	Token      string                 `json:"token"`
	ShortCode  string                 `json:"short_code,omitempty"`
	SessionID  string                 `json:"session_id"`
	ToolName   string                 `json:"tool_name"`
	Args       map[string]interface{} `json:"args"`
	Status     string                 `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
	ExpiresAt  time.Time              `json:"expires_at"`
	ConsumedAt *time.Time             `json:"consumed_at,omitempty"`
}

// shortCodeAttempts bounds the redraw loop when a fresh code collides with
// a still-pending one.
const shortCodeAttempts = 5

// Store persists pending confirmations in SQLite.
type Store struct {
	db         *sql.DB
	ttl        time.Duration
	shortCodes bool
	newCode    func() (string, error)
}

// NewStore creates the confirmation store. When shortCodes is true, each
// confirmation also gets a 6-digit code accepted in place of the token;
// codes are unique among pending rows so a code identifies one confirmation.
func NewStore(db *sql.DB, ttl time.Duration, shortCodes bool) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS pending_confirmations (
			token TEXT PRIMARY KEY,
			short_code TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			args_json TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			consumed_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_confirm_session ON pending_confirmations(session_id, status);
		CREATE INDEX IF NOT EXISTS idx_confirm_expires ON pending_confirmations(expires_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_confirm_shortcode_pending
			ON pending_confirmations(short_code)
			WHERE status = 'pending' AND short_code != '';
	`)
	if err != nil {
		return nil, fmt.Errorf("creating pending_confirmations table: %w", err)
	}
	return &Store{
		db:         db,
		ttl:        ttl,
		shortCodes: shortCodes,
		newCode:    func() (string, error) { return cryptoutil.NumericCode(6) },
	}, nil
}

// Create parks a write action and returns the pending confirmation.
func (s *Store) Create(ctx context.Context, sessionID, toolName string, args map[string]interface{}) (*Pending, error) {
	ctx, span := tracer.Start(ctx, "confirm.create",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("tool_name", toolName),
		))
	defer span.End()

	token, err := cryptoutil.Token()
	if err != nil {
		return nil, err
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshaling confirmation args: %w", err)
	}

	now := time.Now().UTC()
	p := &Pending{
		Token:     token,
		SessionID: sessionID,
		ToolName:  toolName,
		Args:      args,
		Status:    "pending",
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	if !s.shortCodes {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO pending_confirmations (token, short_code, session_id, tool_name, args_json, status, created_at, expires_at)
			VALUES (?, '', ?, ?, ?, 'pending', ?, ?)`,
			p.Token, p.SessionID, p.ToolName, string(argsJSON), p.CreatedAt, p.ExpiresAt,
		)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("storing confirmation: %w", err)
		}
	} else if err := s.insertWithShortCode(ctx, p, string(argsJSON)); err != nil {
		span.RecordError(err)
		return nil, err
	}

	log.Info().
		Str("session_id", sessionID).
		Str("tool_name", toolName).
		Msg("confirmation_created")
	return p, nil
}

// insertWithShortCode draws a code and inserts the row only when no pending
// row already carries that code, redrawing on collision. The partial unique
// index on pending short codes backstops concurrent inserts.
func (s *Store) insertWithShortCode(ctx context.Context, p *Pending, argsJSON string) error {
	for attempt := 0; attempt < shortCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO pending_confirmations (token, short_code, session_id, tool_name, args_json, status, created_at, expires_at)
			SELECT ?, ?, ?, ?, ?, 'pending', ?, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM pending_confirmations
				WHERE status = 'pending' AND short_code = ?
			)`,
			p.Token, code, p.SessionID, p.ToolName, argsJSON, p.CreatedAt, p.ExpiresAt, code,
		)
		if err != nil {
			// A concurrent insert can still trip the unique index between
			// our existence check and the write; redraw in that case too.
			if attempt < shortCodeAttempts-1 {
				continue
			}
			return fmt.Errorf("storing confirmation: %w", err)
		}
		if rows, _ := res.RowsAffected(); rows == 1 {
			p.ShortCode = code
			return nil
		}
	}
	return fmt.Errorf("storing confirmation: no free short code after %d attempts", shortCodeAttempts)
}

// Consume atomically flips the confirmation pending → consumed and returns
// it. tokenOrCode matches the token or, when short codes are enabled, the
// 6-digit code. Exactly one caller can win; the rest get ErrConsumed,
// ErrExpired, or ErrNotFound.
func (s *Store) Consume(ctx context.Context, sessionID, tokenOrCode string) (*Pending, error) {
	ctx, span := tracer.Start(ctx, "confirm.consume",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	if tokenOrCode == "" {
		return nil, ErrNotFound
	}

	// The subselect pins the update to one row even if the value matches
	// both a token and another row's short code.
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_confirmations
		SET status = 'consumed', consumed_at = ?
		WHERE token = (
			SELECT token FROM pending_confirmations
			WHERE session_id = ?
			  AND (token = ? OR (short_code != '' AND short_code = ?))
			  AND status = 'pending'
			  AND expires_at > ?
			LIMIT 1
		) AND status = 'pending'`,
		now, sessionID, tokenOrCode, tokenOrCode, now,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("consuming confirmation: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return nil, s.diagnoseConsumeFailure(ctx, sessionID, tokenOrCode, now)
	}

	p, err := s.get(ctx, sessionID, tokenOrCode)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", sessionID).
		Str("tool_name", p.ToolName).
		Msg("confirmation_consumed")
	return p, nil
}

// diagnoseConsumeFailure maps a lost CAS to a specific error. Expired rows
// are lazily marked so listings stay truthful.
func (s *Store) diagnoseConsumeFailure(ctx context.Context, sessionID, tokenOrCode string, now time.Time) error {
	p, err := s.get(ctx, sessionID, tokenOrCode)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	switch {
	case p.Status == "consumed":
		return ErrConsumed
	case p.Status == "expired" || !p.ExpiresAt.After(now):
		_, _ = s.db.ExecContext(ctx, `
			UPDATE pending_confirmations SET status = 'expired'
			WHERE token = ? AND status = 'pending'`, p.Token)
		return ErrExpired
	default:
		// Lost the race to a concurrent consume that has not committed
		// its status yet from our snapshot's point of view.
		return ErrConsumed
	}
}

// get loads a confirmation for the session by token or short code.
func (s *Store) get(ctx context.Context, sessionID, tokenOrCode string) (*Pending, error) {
	var p Pending
	var argsJSON string
	var consumedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT token, short_code, session_id, tool_name, args_json, status, created_at, expires_at, consumed_at
		FROM pending_confirmations
		WHERE session_id = ? AND (token = ? OR (short_code != '' AND short_code = ?))
		ORDER BY (status = 'consumed') DESC, created_at
		LIMIT 1`,
		sessionID, tokenOrCode, tokenOrCode,
	).Scan(&p.Token, &p.ShortCode, &p.SessionID, &p.ToolName, &argsJSON,
		&p.Status, &p.CreatedAt, &p.ExpiresAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying confirmation: %w", err)
	}

	if err := json.Unmarshal([]byte(argsJSON), &p.Args); err != nil {
		return nil, fmt.Errorf("unmarshaling confirmation args: %w", err)
	}
	if consumedAt.Valid {
		t := consumedAt.Time
		p.ConsumedAt = &t
	}
	return &p, nil
}

// Cleanup marks expired pending rows and deletes terminal rows older than
// the retention cutoff. Returns (expired, deleted).
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, int64, error) {
	ctx, span := tracer.Start(ctx, "confirm.cleanup")
	defer span.End()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_confirmations SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= ?`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("expiring confirmations: %w", err)
	}
	expired, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM pending_confirmations
		WHERE status IN ('consumed', 'expired') AND created_at < ?`,
		now.Add(-retention))
	if err != nil {
		return expired, 0, fmt.Errorf("deleting confirmations: %w", err)
	}
	deleted, _ := res.RowsAffected()

	span.SetAttributes(
		attribute.Int64("expired", expired),
		attribute.Int64("deleted", deleted),
	)
	return expired, deleted, nil
}
