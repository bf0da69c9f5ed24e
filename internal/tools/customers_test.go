package tools

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureMailer struct {
	to      string
	subject string
	body    string
	sent    int
}

func (m *captureMailer) Send(to, subject, body string) error {
	m.to, m.subject, m.body = to, subject, body
	m.sent++
	return nil
}

var codeRe = regexp.MustCompile(`\b(\d{6})\b`)

func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	match := codeRe.FindStringSubmatch(m.body)
	require.NotNil(t, match, "mail body should contain a 6-digit code")
	return match[1]
}

func newCustomerFixture(t *testing.T) (*CustomerStore, *captureMailer, *Context) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	store, err := NewCustomerStore(db, "test-pepper")
	require.NoError(t, err)

	mail := &captureMailer{}
	return store, mail, &Context{SessionID: "s1", Confirmed: true, Mailer: mail}
}

func TestRegisterCustomerSendsCode(t *testing.T) {
	store, mail, tctx := newCustomerFixture(t)
	tool := NewRegisterCustomerTool(store)

	res, err := tool.Run(context.Background(), map[string]interface{}{
		"display_name": "Ana García",
		"email":        "Ana@Example.COM",
	}, tctx)
	require.NoError(t, err)

	assert.Equal(t, true, res["ok"])
	assert.Equal(t, "pending", res["status"])
	assert.Equal(t, true, res["email_sent"])
	assert.Equal(t, 1, mail.sent)
	assert.Equal(t, "ana@example.com", mail.to)
	mail.lastCode(t)
}

func TestRegisterCustomerInvalidEmail(t *testing.T) {
	store, mail, tctx := newCustomerFixture(t)
	tool := NewRegisterCustomerTool(store)

	res, err := tool.Run(context.Background(), map[string]interface{}{
		"display_name": "Ana",
		"email":        "not-an-email",
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, false, res["ok"])
	assert.Equal(t, "invalid_email", res["error"])
	assert.Equal(t, 0, mail.sent)
}

func TestVerifyEmailCodeHappyPath(t *testing.T) {
	store, mail, tctx := newCustomerFixture(t)
	register := NewRegisterCustomerTool(store)
	verify := NewVerifyEmailCodeTool(store)
	ctx := context.Background()

	_, err := register.Run(ctx, map[string]interface{}{
		"display_name": "Ana", "email": "ana@example.com",
	}, tctx)
	require.NoError(t, err)
	code := mail.lastCode(t)

	res, err := verify.Run(ctx, map[string]interface{}{
		"email": "ana@example.com", "code": code,
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, "verified", res["status"])

	// Re-registering a verified customer is a no-op.
	res, err = register.Run(ctx, map[string]interface{}{
		"display_name": "Ana", "email": "ana@example.com",
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, "verified", res["status"])
	assert.Equal(t, 1, mail.sent)
}

func TestVerifyEmailCodeWrongCode(t *testing.T) {
	store, mail, tctx := newCustomerFixture(t)
	register := NewRegisterCustomerTool(store)
	verify := NewVerifyEmailCodeTool(store)
	ctx := context.Background()

	_, err := register.Run(ctx, map[string]interface{}{
		"display_name": "Ana", "email": "ana@example.com",
	}, tctx)
	require.NoError(t, err)
	code := mail.lastCode(t)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	res, err := verify.Run(ctx, map[string]interface{}{
		"email": "ana@example.com", "code": wrong,
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, false, res["ok"])
	assert.Equal(t, "invalid_code_or_expired", res["error"])

	// The right code still works after one failed attempt.
	res, err = verify.Run(ctx, map[string]interface{}{
		"email": "ana@example.com", "code": code,
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
}

func TestVerifyEmailCodeMaxAttempts(t *testing.T) {
	store, mail, tctx := newCustomerFixture(t)
	register := NewRegisterCustomerTool(store)
	verify := NewVerifyEmailCodeTool(store)
	ctx := context.Background()

	_, err := register.Run(ctx, map[string]interface{}{
		"display_name": "Ana", "email": "ana@example.com",
	}, tctx)
	require.NoError(t, err)
	code := mail.lastCode(t)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	for i := 0; i < verificationCodeTries; i++ {
		res, err := verify.Run(ctx, map[string]interface{}{
			"email": "ana@example.com", "code": wrong,
		}, tctx)
		require.NoError(t, err)
		assert.Equal(t, false, res["ok"])
	}

	// Even the right code is rejected once attempts are exhausted.
	res, err := verify.Run(ctx, map[string]interface{}{
		"email": "ana@example.com", "code": code,
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, false, res["ok"])
	assert.Equal(t, "too_many_attempts", res["error"])
}

func TestVerifyEmailCodeExpired(t *testing.T) {
	store, mail, tctx := newCustomerFixture(t)
	register := NewRegisterCustomerTool(store)
	verify := NewVerifyEmailCodeTool(store)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	_, err := register.Run(ctx, map[string]interface{}{
		"display_name": "Ana", "email": "ana@example.com",
	}, tctx)
	require.NoError(t, err)
	code := mail.lastCode(t)

	store.now = func() time.Time { return now.Add(verificationCodeTTL + time.Minute) }

	res, err := verify.Run(ctx, map[string]interface{}{
		"email": "ana@example.com", "code": code,
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, false, res["ok"])
	assert.Equal(t, "invalid_code_or_expired", res["error"])
}

func TestResendVerificationCodeInvalidatesOld(t *testing.T) {
	store, mail, tctx := newCustomerFixture(t)
	register := NewRegisterCustomerTool(store)
	resend := NewResendVerificationCodeTool(store)
	verify := NewVerifyEmailCodeTool(store)
	ctx := context.Background()

	_, err := register.Run(ctx, map[string]interface{}{
		"display_name": "Ana", "email": "ana@example.com",
	}, tctx)
	require.NoError(t, err)
	oldCode := mail.lastCode(t)

	res, err := resend.Run(ctx, map[string]interface{}{"email": "ana@example.com"}, tctx)
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
	newCode := mail.lastCode(t)

	if oldCode != newCode {
		res, err = verify.Run(ctx, map[string]interface{}{
			"email": "ana@example.com", "code": oldCode,
		}, tctx)
		require.NoError(t, err)
		assert.Equal(t, false, res["ok"], "old code must stop working after resend")
	}

	res, err = verify.Run(ctx, map[string]interface{}{
		"email": "ana@example.com", "code": newCode,
	}, tctx)
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
}

func TestResendVerificationCodeUnknownEmail(t *testing.T) {
	store, _, tctx := newCustomerFixture(t)
	resend := NewResendVerificationCodeTool(store)

	res, err := resend.Run(context.Background(), map[string]interface{}{"email": "nadie@example.com"}, tctx)
	require.NoError(t, err)
	assert.Equal(t, false, res["ok"])
	assert.Equal(t, "not_found", res["error"])
}
