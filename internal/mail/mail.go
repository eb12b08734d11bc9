// Package mail delivers research reports. A configured SMTP relay sends
// real mail; without one, the Preview sender builds a preview and reports
// explicitly that nothing was sent.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// previewBodyLimit is how many characters of the body a preview shows.
const previewBodyLimit = 200

// Errors returned by senders.
var (
	ErrInvalidMessage = errors.New("mail: invalid message")
	ErrSendFailed     = errors.New("mail: send failed")
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Delivery reports what a sender did with a message.
type Delivery struct {
	// Sent is true only when a transport accepted the message.
	Sent bool

	// Preview is the human-readable summary of the message.
	Preview string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) (Delivery, error)
}

// Validate checks the recipient address and rejects header injection.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: empty recipient", ErrInvalidMessage)
	}
	if strings.ContainsAny(m.To, "\r\n") || strings.ContainsAny(m.Subject, "\r\n") {
		return fmt.Errorf("%w: header contains a line break", ErrInvalidMessage)
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: recipient %q: %w", ErrInvalidMessage, m.To, err)
	}
	return nil
}

// Preview renders the summary attached to every delivery.
func Preview(m Message) string {
	var b strings.Builder
	b.WriteString("\nEmail Preview:\n")
	fmt.Fprintf(&b, "To: %s\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	fmt.Fprintf(&b, "Body Length: %d characters\n\n", utf8.RuneCountInString(m.Body))
	fmt.Fprintf(&b, "%s...\n", truncateRunes(m.Body, previewBodyLimit))
	return b.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
