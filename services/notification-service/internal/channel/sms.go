package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// smsMaxLength is the provider-safe message budget; longer messages are
	// truncated with an ellipsis.
	smsMaxLength      = 248
	smsTruncateLength = 245
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// IsValidE164 checks the international phone format: + followed by 8-15
// digits, first digit nonzero.
func IsValidE164(phone string) bool {
	return e164Pattern.MatchString(strings.TrimSpace(phone))
}

// TruncateSMS shortens a message to the provider-safe budget, appending an
// ellipsis when anything was cut. The cut lands on a rune boundary so the
// gateway never receives a split multi-byte character.
func TruncateSMS(body string) string {
	if len(body) <= smsMaxLength {
		return body
	}
	cut := smsTruncateLength
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}

// SMSWebhookSender posts messages to an HTTP SMS gateway.
type SMSWebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewSMSWebhookSender(url, token string) *SMSWebhookSender {
	return &SMSWebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SMSWebhookSender) Provider() string {
	return "sms-webhook"
}

func (s *SMSWebhookSender) Send(ctx context.Context, msg Message) error {
	if s.url == "" {
		return errors.New("sms webhook url not configured")
	}
	if !IsValidE164(msg.Recipient) {
		return fmt.Errorf("invalid E.164 recipient %q", msg.Recipient)
	}

	payload := map[string]string{
		"to":   strings.TrimSpace(msg.Recipient),
		"body": TruncateSMS(msg.Body),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook returned status %d", resp.StatusCode)
	}
	return nil
}
