// Package secrets provides a small encrypted vault for operator
// credentials (LLM API key, SMTP password). Values are encrypted at rest
// with AES-256-GCM and stored in SQLite next to the agent database. Every
// read, found or not, is logged to an access table so credential use can
// be reviewed.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/frontdesk-io/frontdesk/internal/cryptoutil"
	fdotel "github.com/frontdesk-io/frontdesk/internal/otel"
)

// Well-known secret names used by the serve command.
const (
	NameLLMAPIKey    = "llm_api_key"
	NameSMTPPassword = "smtp_password"
)

var (
	// ErrSecretNotFound is returned when a secret name does not exist in the vault.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrInvalidEncryptionKey is returned when the vault encryption key is
	// not exactly 32 bytes (required for AES-256).
	ErrInvalidEncryptionKey = errors.New("invalid encryption key")
)

var tracer = fdotel.Tracer("github.com/frontdesk-io/frontdesk/internal/secrets")

// Vault manages encrypted secrets with access logging.
type Vault struct {
	db  *sql.DB
	gcm cipher.AEAD
}

// Metadata is the public view of a secret (no plaintext value).
type Metadata struct {
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
	AccessCount int       `json:"access_count"`
}

// AccessRecord is a single vault access audit entry.
type AccessRecord struct {
	ID         string    `json:"id"`
	SecretName string    `json:"secret_name"`
	Caller     string    `json:"caller"`
	Timestamp  time.Time `json:"timestamp"`
	Found      bool      `json:"found"`
}

// Open creates or opens the vault at dbPath. The encryptionKey must be
// exactly 32 raw bytes or 64 hex characters (decoded to 32 bytes for AES-256).
func Open(dbPath, encryptionKey string) (*Vault, error) {
	keyBytes, err := resolveEncryptionKey(encryptionKey)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening secrets database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS secrets (
		name TEXT PRIMARY KEY,
		encrypted_value TEXT NOT NULL,
		nonce TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		accessed_at TIMESTAMP,
		access_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS secret_access_log (
		id TEXT PRIMARY KEY,
		secret_name TEXT NOT NULL,
		caller TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		found BOOLEAN NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_access_log_secret ON secret_access_log(secret_name);
	CREATE INDEX IF NOT EXISTS idx_access_log_timestamp ON secret_access_log(timestamp);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Vault{db: db, gcm: gcm}, nil
}

// resolveEncryptionKey interprets the key as 32 raw bytes or 64 hex characters (→ 32 bytes for AES-256).
func resolveEncryptionKey(key string) ([]byte, error) {
	if len(key) == 64 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("encryption key hex must decode to 32 bytes: %w", ErrInvalidEncryptionKey)
		}
		return decoded, nil
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("encryption key must be 32 bytes or 64 hex characters (got %d): %w", len(key), ErrInvalidEncryptionKey)
}

// Close releases the database connection.
func (v *Vault) Close() error {
	return v.db.Close()
}

// Set stores an encrypted secret with a fresh nonce. Upserts on conflict.
func (v *Vault) Set(ctx context.Context, name string, value []byte) error {
	ctx, span := tracer.Start(ctx, "secrets.set",
		trace.WithAttributes(attribute.String("secret.name", name)))
	defer span.End()

	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		span.RecordError(err)
		return fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := v.gcm.Seal(nil, nonce, value, nil)

	query := `
		INSERT INTO secrets (name, encrypted_value, nonce, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			nonce = excluded.nonce
	`
	_, err := v.db.ExecContext(ctx, query, name,
		base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(nonce),
		time.Now())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing secret: %w", err)
	}
	return nil
}

// Get retrieves and decrypts a secret. caller identifies who asked (a
// command or component name) and is written to the access log along with
// whether the lookup succeeded.
func (v *Vault) Get(ctx context.Context, name, caller string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "secrets.get",
		trace.WithAttributes(
			attribute.String("secret.name", name),
			attribute.String("secret.caller", caller),
		))
	defer span.End()

	var encryptedValue, nonceB64 string
	query := `SELECT encrypted_value, nonce FROM secrets WHERE name = ?`
	err := v.db.QueryRowContext(ctx, query, name).Scan(&encryptedValue, &nonceB64)
	if err == sql.ErrNoRows {
		v.logAccess(ctx, name, caller, false)
		return nil, ErrSecretNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying secret: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}

	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decrypting secret: %w", err)
	}

	_, _ = v.db.ExecContext(ctx,
		`UPDATE secrets SET accessed_at = ?, access_count = access_count + 1 WHERE name = ?`,
		time.Now(), name)
	v.logAccess(ctx, name, caller, true)

	return plaintext, nil
}

// GetString is Get for text credentials. A missing secret returns the
// fallback (typically an env var) without error.
func (v *Vault) GetString(ctx context.Context, name, caller, fallback string) (string, error) {
	value, err := v.Get(ctx, name, caller)
	if errors.Is(err, ErrSecretNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// Delete removes a secret. Deleting an absent name is not an error.
func (v *Vault) Delete(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "secrets.delete",
		trace.WithAttributes(attribute.String("secret.name", name)))
	defer span.End()

	if _, err := v.db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting secret: %w", err)
	}
	return nil
}

// List returns metadata for all stored secrets (values are NOT included).
func (v *Vault) List(ctx context.Context) ([]Metadata, error) {
	ctx, span := tracer.Start(ctx, "secrets.list")
	defer span.End()

	rows, err := v.db.QueryContext(ctx,
		`SELECT name, created_at, accessed_at, access_count FROM secrets ORDER BY name`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying secrets: %w", err)
	}
	defer rows.Close()

	var results []Metadata
	for rows.Next() {
		var m Metadata
		var createdAt, accessedAt sql.NullTime
		if err := rows.Scan(&m.Name, &createdAt, &accessedAt, &m.AccessCount); err != nil {
			continue
		}
		m.CreatedAt = createdAt.Time
		m.AccessedAt = accessedAt.Time
		results = append(results, m)
	}
	return results, rows.Err()
}

// Rotate re-encrypts an existing secret with a fresh nonce.
func (v *Vault) Rotate(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "secrets.rotate",
		trace.WithAttributes(attribute.String("secret.name", name)))
	defer span.End()

	var encryptedValue, nonceB64 string
	err := v.db.QueryRowContext(ctx,
		`SELECT encrypted_value, nonce FROM secrets WHERE name = ?`, name).
		Scan(&encryptedValue, &nonceB64)
	if err == sql.ErrNoRows {
		return ErrSecretNotFound
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("querying secret: %w", err)
	}

	ciphertext, _ := base64.StdEncoding.DecodeString(encryptedValue)
	nonce, _ := base64.StdEncoding.DecodeString(nonceB64)
	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("decrypting for rotation: %w", err)
	}

	return v.Set(ctx, name, plaintext)
}

// logAccess records vault lookups so credential use can be reviewed.
func (v *Vault) logAccess(ctx context.Context, secretName, caller string, found bool) {
	query := `INSERT INTO secret_access_log (id, secret_name, caller, timestamp, found)
	          VALUES (?, ?, ?, ?, ?)`
	_, _ = v.db.ExecContext(ctx, query, uuid.New().String(), secretName, caller, time.Now(), found)
}

// AccessLog returns access records, newest first. Pass empty secretName
// for all records. Limit <= 0 means no limit.
func (v *Vault) AccessLog(ctx context.Context, secretName string, limit int) ([]AccessRecord, error) {
	ctx, span := tracer.Start(ctx, "secrets.access_log",
		trace.WithAttributes(attribute.String("secret.name", secretName)))
	defer span.End()

	query := `SELECT id, secret_name, caller, timestamp, found FROM secret_access_log`
	args := []interface{}{}
	if secretName != "" {
		query += ` WHERE secret_name = ?`
		args = append(args, secretName)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying access log: %w", err)
	}
	defer rows.Close()

	var records []AccessRecord
	for rows.Next() {
		var r AccessRecord
		if err := rows.Scan(&r.ID, &r.SecretName, &r.Caller, &r.Timestamp, &r.Found); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
