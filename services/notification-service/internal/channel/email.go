package channel

import (
	"context"
	"fmt"
	"net/mail"
	"net/smtp"
	"strings"
)

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible in
// development, a relay in production).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host, port, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@webschedulr.local"
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

func (s *SMTPSender) Provider() string {
	return "smtp"
}

func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	if !IsValidEmail(msg.Recipient) {
		return fmt.Errorf("invalid email recipient %q", msg.Recipient)
	}
	raw := buildMessage(s.from, msg.Recipient, msg.Subject, msg.Body)
	return smtp.SendMail(s.addr, nil, s.from, []string{msg.Recipient}, []byte(raw))
}

// IsValidEmail is the syntactic gate run before any network call.
func IsValidEmail(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

func buildMessage(from, to, subject, body string) string {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		body,
	)
}
