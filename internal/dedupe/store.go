// Package dedupe suppresses duplicate inbound messages.
//
// A message is identified by (provider, message_id). The first arrival
// claims the pair; redeliveries inside the TTL are reported as duplicates.
// The durable store rides on SQLite's primary-key uniqueness so the claim
// is atomic across goroutines; the in-memory gate covers channels where
// per-process suppression is acceptable.
package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	fdotel "github.com/frontdesk-io/frontdesk/internal/otel"
)

var tracer = fdotel.Tracer("github.com/frontdesk-io/frontdesk/internal/dedupe")

// Gate is the dedupe check used by the orchestrator.
type Gate interface {
	// Mark records the message and reports whether this is its first arrival.
	Mark(ctx context.Context, provider, messageID, payloadHash string) (bool, error)
}

// Store persists dedupe claims in SQLite.
type Store struct {
	db  *sql.DB
	ttl time.Duration
}

// NewStore creates the dedupe store and its schema.
func NewStore(db *sql.DB, ttl time.Duration) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS dedupe_messages (
			provider TEXT NOT NULL,
			message_id TEXT NOT NULL,
			payload_hash TEXT,
			first_seen_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			PRIMARY KEY (provider, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_dedupe_expires ON dedupe_messages(expires_at);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating dedupe_messages table: %w", err)
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Mark claims (provider, message_id). Returns true when this process is the
// first to see the message, false when a live claim already exists. An
// expired claim is re-usable: the upsert takes it over in the same statement,
// so two concurrent arrivals can never both win.
func (s *Store) Mark(ctx context.Context, provider, messageID, payloadHash string) (bool, error) {
	ctx, span := tracer.Start(ctx, "dedupe.mark",
		trace.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("message_id", messageID),
		))
	defer span.End()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dedupe_messages (provider, message_id, payload_hash, first_seen_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, message_id) DO UPDATE SET
			payload_hash = excluded.payload_hash,
			first_seen_at = excluded.first_seen_at,
			expires_at = excluded.expires_at
		WHERE dedupe_messages.expires_at <= excluded.first_seen_at`,
		provider, messageID, payloadHash, now, now.Add(s.ttl),
	)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("marking message: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading mark result: %w", err)
	}
	return rows == 1, nil
}

// Cleanup deletes expired claims and returns the number removed.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "dedupe.cleanup")
	defer span.End()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dedupe_messages WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("cleaning dedupe claims: %w", err)
	}
	n, _ := res.RowsAffected()
	span.SetAttributes(attribute.Int64("removed", n))
	return n, nil
}
