// Package mailer sends transactional email for tools that need it, such
// as customer registration verification codes.
package mailer

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"
)

// Sender delivers a plain-text message to a single recipient.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTP sends mail through an authenticated SMTP relay with STARTTLS.
type SMTP struct {
	host string
	port int
	user string
	pass string
	from string
}

// NewSMTP builds an SMTP sender. from falls back to user when empty.
func NewSMTP(host string, port int, user, pass, from string) *SMTP {
	if from == "" {
		from = user
	}
	return &SMTP{host: host, port: port, user: user, pass: pass, from: from}
}

func (s *SMTP) Send(to, subject, body string) error {
	if s.host == "" || s.user == "" || s.pass == "" {
		return fmt.Errorf("smtp not configured: missing host, user or password")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(s.host, s.port, s.user, s.pass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}

	log.Debug().Str("to", to).Str("subject", subject).Msg("mail_sent")
	return nil
}

// DevLogger logs mail instead of sending it. Used in dev when SMTP is
// not configured so registration flows remain testable.
type DevLogger struct{}

func (DevLogger) Send(to, subject, body string) error {
	log.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("mail_dev_logged")
	return nil
}
