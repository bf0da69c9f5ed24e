package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/frontdesk-io/frontdesk/internal/cryptoutil"
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const (
	verificationCodeTTL   = 15 * time.Minute
	verificationCodeTries = 5
)

// CustomerStore persists customers and their email verification codes.
// Codes are stored hashed (sha256 over pepper:code), never in clear.
type CustomerStore struct {
	db     *sql.DB
	pepper string
	now    func() time.Time
}

const customersSchema = `
CREATE TABLE IF NOT EXISTS customers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	display_name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	phone TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS email_verifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	customer_id INTEGER NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
	code_hash TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	used_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ev_customer_used ON email_verifications(customer_id, used_at);
`

// NewCustomerStore creates the tables if needed.
func NewCustomerStore(db *sql.DB, pepper string) (*CustomerStore, error) {
	if _, err := db.Exec(customersSchema); err != nil {
		return nil, fmt.Errorf("creating customer tables: %w", err)
	}
	return &CustomerStore{db: db, pepper: pepper, now: time.Now}, nil
}

func (s *CustomerStore) hashCode(code string) string {
	return cryptoutil.HashPeppered(s.pepper, code)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Upsert creates or resets a customer to pending and returns its id. A
// customer that is already verified is returned untouched.
func (s *CustomerStore) Upsert(ctx context.Context, displayName, email, phone string) (id int64, status string, err error) {
	now := s.now().UTC()

	err = s.db.QueryRowContext(ctx,
		`SELECT id, status FROM customers WHERE email = ? LIMIT 1`, email,
	).Scan(&id, &status)
	switch {
	case err == nil:
		if status == "verified" {
			return id, status, nil
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE customers SET display_name = ?, phone = ?, status = 'pending', updated_at = ? WHERE id = ?`,
			displayName, phone, now, id)
		if err != nil {
			return 0, "", fmt.Errorf("updating customer: %w", err)
		}
		return id, "pending", nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO customers (display_name, email, phone, status, created_at, updated_at)
			 VALUES (?, ?, ?, 'pending', ?, ?)`,
			displayName, email, phone, now, now)
		if err != nil {
			return 0, "", fmt.Errorf("inserting customer: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, "", err
		}
		return id, "pending", nil
	default:
		return 0, "", fmt.Errorf("looking up customer: %w", err)
	}
}

// IssueCode invalidates prior pending codes and stores a fresh hashed one.
func (s *CustomerStore) IssueCode(ctx context.Context, customerID int64, code string) error {
	now := s.now().UTC()

	_, err := s.db.ExecContext(ctx,
		`UPDATE email_verifications SET used_at = COALESCE(used_at, ?) WHERE customer_id = ? AND used_at IS NULL`,
		now, customerID)
	if err != nil {
		return fmt.Errorf("invalidating prior codes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO email_verifications (customer_id, code_hash, expires_at, attempts, created_at)
		 VALUES (?, ?, ?, 0, ?)`,
		customerID, s.hashCode(code), now.Add(verificationCodeTTL), now)
	if err != nil {
		return fmt.Errorf("storing verification code: %w", err)
	}
	return nil
}

// VerifyCode checks the latest open code for the customer. It returns an
// error code string ("", meaning verified, or one of invalid_code_or_expired
// and too_many_attempts) rather than a Go error for business outcomes.
func (s *CustomerStore) VerifyCode(ctx context.Context, customerID int64, code string) (string, error) {
	now := s.now().UTC()

	var (
		evID      int64
		codeHash  string
		expiresAt time.Time
		attempts  int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code_hash, expires_at, attempts FROM email_verifications
		 WHERE customer_id = ? AND used_at IS NULL
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		customerID,
	).Scan(&evID, &codeHash, &expiresAt, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return "invalid_code_or_expired", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading verification: %w", err)
	}

	if expiresAt.Before(now) {
		return "invalid_code_or_expired", nil
	}
	if attempts >= verificationCodeTries {
		return "too_many_attempts", nil
	}
	if s.hashCode(code) != codeHash {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE email_verifications SET attempts = attempts + 1 WHERE id = ?`, evID); err != nil {
			return "", fmt.Errorf("recording failed attempt: %w", err)
		}
		return "invalid_code_or_expired", nil
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE email_verifications SET used_at = ? WHERE id = ?`, now, evID); err != nil {
		return "", fmt.Errorf("marking code used: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE customers SET status = 'verified', updated_at = ? WHERE id = ?`, now, customerID); err != nil {
		return "", fmt.Errorf("marking customer verified: %w", err)
	}
	return "", nil
}

// Lookup returns id, status, display name and phone for an email.
func (s *CustomerStore) Lookup(ctx context.Context, email string) (id int64, status, displayName, phone string, err error) {
	var phoneNull sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT id, status, display_name, phone FROM customers WHERE email = ? LIMIT 1`, email,
	).Scan(&id, &status, &displayName, &phoneNull)
	if err != nil {
		return 0, "", "", "", err
	}
	return id, status, displayName, phoneNull.String, nil
}

// RegisterCustomerTool creates a pending customer and mails a six-digit
// verification code. Write scope: always runs behind a confirmation.
type RegisterCustomerTool struct {
	store *CustomerStore
}

func NewRegisterCustomerTool(store *CustomerStore) *RegisterCustomerTool {
	return &RegisterCustomerTool{store: store}
}

func (t *RegisterCustomerTool) Name() string     { return "register_customer" }
func (t *RegisterCustomerTool) Scopes() []string { return []string{ScopeWrite} }

func (t *RegisterCustomerTool) Description() string {
	return "Registra cliente (pending) y envía código de verificación por email. Requiere confirmación."
}

func (t *RegisterCustomerTool) Args() []ArgSpec {
	return []ArgSpec{
		{Name: "display_name", Type: ArgString, Required: true, Description: "Nombre del cliente"},
		{Name: "email", Type: ArgString, Required: true, Description: "Email del cliente"},
		{Name: "phone", Type: ArgString, Description: "Teléfono (opcional)"},
	}
}

func (t *RegisterCustomerTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	displayName := strings.TrimSpace(stringArg(args, "display_name"))
	email := normalizeEmail(stringArg(args, "email"))
	phone, _ := args["phone"].(string)

	if len(displayName) < 2 || !emailRe.MatchString(email) {
		return map[string]interface{}{"ok": false, "error": "invalid_email"}, nil
	}

	id, status, err := t.store.Upsert(ctx, displayName, email, phone)
	if err != nil {
		return nil, err
	}
	if status == "verified" {
		return map[string]interface{}{"ok": true, "customer_id": fmt.Sprint(id), "status": "verified"}, nil
	}

	code, err := cryptoutil.NumericCode(6)
	if err != nil {
		return nil, err
	}
	if err := t.store.IssueCode(ctx, id, code); err != nil {
		return nil, err
	}

	if tctx.Mailer == nil {
		return map[string]interface{}{"ok": false, "error": "mailer_not_configured"}, nil
	}
	body := fmt.Sprintf(
		"Hola %s,\n\nTu código de verificación es: %s\nVence en %d minutos.\n\nSi no fuiste vos, ignorá este email.\n",
		displayName, code, int(verificationCodeTTL.Minutes()))
	if err := tctx.Mailer.Send(email, "Tu código de verificación", body); err != nil {
		log.Error().Err(err).Str("tool", t.Name()).Msg("verification_mail_failed")
		return nil, err
	}

	return map[string]interface{}{
		"ok":                 true,
		"customer_id":        fmt.Sprint(id),
		"status":             "pending",
		"email_sent":         true,
		"expires_in_minutes": int(verificationCodeTTL.Minutes()),
	}, nil
}

// VerifyEmailCodeTool checks a six-digit code against the latest open
// verification for the email's customer.
type VerifyEmailCodeTool struct {
	store *CustomerStore
}

func NewVerifyEmailCodeTool(store *CustomerStore) *VerifyEmailCodeTool {
	return &VerifyEmailCodeTool{store: store}
}

func (t *VerifyEmailCodeTool) Name() string     { return "verify_email_code" }
func (t *VerifyEmailCodeTool) Scopes() []string { return []string{ScopeRead} }

func (t *VerifyEmailCodeTool) Description() string {
	return "Verifica email con código de 6 dígitos."
}

func (t *VerifyEmailCodeTool) Args() []ArgSpec {
	return []ArgSpec{
		{Name: "email", Type: ArgString, Required: true, Description: "Email del cliente"},
		{Name: "code", Type: ArgString, Required: true, Description: "Código de 6 dígitos"},
	}
}

func (t *VerifyEmailCodeTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	email := normalizeEmail(stringArg(args, "email"))
	code := strings.TrimSpace(stringArg(args, "code"))

	if !emailRe.MatchString(email) {
		return map[string]interface{}{"ok": false, "error": "invalid_email"}, nil
	}
	if len(code) != 6 || strings.Trim(code, "0123456789") != "" {
		return map[string]interface{}{"ok": false, "error": "invalid_code_format"}, nil
	}

	id, status, _, _, err := t.store.Lookup(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]interface{}{"ok": false, "error": "invalid_code_or_expired"}, nil
	}
	if err != nil {
		return nil, err
	}
	if status == "verified" {
		return map[string]interface{}{"ok": true, "customer_id": fmt.Sprint(id), "status": "verified"}, nil
	}

	errCode, err := t.store.VerifyCode(ctx, id, code)
	if err != nil {
		return nil, err
	}
	if errCode != "" {
		return map[string]interface{}{"ok": false, "error": errCode}, nil
	}
	return map[string]interface{}{"ok": true, "customer_id": fmt.Sprint(id), "status": "verified"}, nil
}

// ResendVerificationCodeTool issues a fresh code for a pending customer,
// invalidating the previous one. Read scope so it needs no confirmation.
type ResendVerificationCodeTool struct {
	store *CustomerStore
}

func NewResendVerificationCodeTool(store *CustomerStore) *ResendVerificationCodeTool {
	return &ResendVerificationCodeTool{store: store}
}

func (t *ResendVerificationCodeTool) Name() string     { return "resend_verification_code" }
func (t *ResendVerificationCodeTool) Scopes() []string { return []string{ScopeRead} }

func (t *ResendVerificationCodeTool) Description() string {
	return "Reenvía un nuevo código de verificación si el cliente está pendiente (invalida el anterior)."
}

func (t *ResendVerificationCodeTool) Args() []ArgSpec {
	return []ArgSpec{
		{Name: "email", Type: ArgString, Required: true, Description: "Email del cliente"},
	}
}

func (t *ResendVerificationCodeTool) Run(ctx context.Context, args map[string]interface{}, tctx *Context) (map[string]interface{}, error) {
	email := normalizeEmail(stringArg(args, "email"))
	if !emailRe.MatchString(email) {
		return map[string]interface{}{"ok": false, "error": "invalid_email"}, nil
	}

	id, status, displayName, _, err := t.store.Lookup(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]interface{}{"ok": false, "error": "not_found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if status == "verified" {
		return map[string]interface{}{
			"ok": true, "customer_id": fmt.Sprint(id), "status": "verified",
			"message": "Ya está verificado.",
		}, nil
	}

	code, err := cryptoutil.NumericCode(6)
	if err != nil {
		return nil, err
	}
	if err := t.store.IssueCode(ctx, id, code); err != nil {
		return nil, err
	}

	if tctx.Mailer == nil {
		return map[string]interface{}{"ok": false, "error": "mailer_not_configured"}, nil
	}
	if displayName == "" {
		displayName = "Cliente"
	}
	body := fmt.Sprintf(
		"Hola %s,\n\nTu nuevo código es: %s\nVence en %d minutos.\n\nSi no fuiste vos, ignorá este email.\n",
		displayName, code, int(verificationCodeTTL.Minutes()))
	if err := tctx.Mailer.Send(email, "Tu nuevo código de verificación", body); err != nil {
		log.Error().Err(err).Str("tool", t.Name()).Msg("verification_mail_failed")
		return nil, err
	}

	return map[string]interface{}{
		"ok":                 true,
		"customer_id":        fmt.Sprint(id),
		"status":             "pending",
		"email_sent":         true,
		"expires_in_minutes": int(verificationCodeTTL.Minutes()),
	}, nil
}
