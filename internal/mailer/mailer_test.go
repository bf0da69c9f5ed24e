package mailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSMTP_FromFallsBackToUser(t *testing.T) {
	s := NewSMTP("mail.example.com", 587, "desk@example.com", "pw", "")
	assert.Equal(t, "desk@example.com", s.from)

	s = NewSMTP("mail.example.com", 587, "desk@example.com", "pw", "noreply@example.com")
	assert.Equal(t, "noreply@example.com", s.from)
}

func TestSMTP_SendFailsWhenUnconfigured(t *testing.T) {
	s := NewSMTP("", 587, "", "", "")
	err := s.Send("user@example.com", "subject", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp not configured")
}

func TestDevLogger_SendNeverFails(t *testing.T) {
	var sender Sender = DevLogger{}
	assert.NoError(t, sender.Send("user@example.com", "Tu código", "123456"))
}
