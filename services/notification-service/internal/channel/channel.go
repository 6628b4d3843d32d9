// Package channel implements the outbound senders for each supported
// notification channel.
package channel

import "context"

const (
	Email    = "email"
	SMS      = "sms"
	WhatsApp = "whatsapp"
)

// Supported reports whether the dispatcher knows how to send on a channel.
// An unsupported channel on a queue row is a terminal failure.
func Supported(name string) bool {
	switch name {
	case Email, SMS, WhatsApp:
		return true
	}
	return false
}

// Message is the rendered content handed to a sender. Subject is only used
// by email; EventType is only used by template-based channels.
type Message struct {
	BusinessID int64
	Recipient  string
	Subject    string
	Body       string
	EventType  string
}

// Sender performs one outbound delivery. Implementations validate the
// recipient before any network call and bound the call with the context.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Provider() string
}
