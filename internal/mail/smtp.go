package mail

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Configured reports whether enough is set to send real mail.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.From != ""
}

func (c SMTPConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 587
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP sends mail through an SMTP relay. STARTTLS is used when the server
// offers it.
type SMTP struct {
	cfg    SMTPConfig
	logger *slog.Logger
	now    func() time.Time

	// send is injectable for testing.
	send sendFunc
}

// NewSMTP creates an SMTP sender. Host and From are required.
func NewSMTP(cfg SMTPConfig, logger *slog.Logger) (*SMTP, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: smtp host and from are required", ErrInvalidMessage)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTP{cfg: cfg, logger: logger, now: time.Now, send: smtp.SendMail}, nil
}

// Send implements Sender.
func (s *SMTP) Send(ctx context.Context, msg Message) (Delivery, error) {
	if err := msg.Validate(); err != nil {
		return Delivery{}, err
	}
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := s.send(s.cfg.addr(), auth, s.cfg.From, []string{msg.To}, s.compose(msg)); err != nil {
		return Delivery{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	s.logger.Info("email sent", "to", msg.To, "subject", msg.Subject, "bytes", len(msg.Body))
	return Delivery{Sent: true, Preview: Preview(msg)}, nil
}

// compose renders msg as an RFC 5322 message with CRLF line endings.
func (s *SMTP) compose(msg Message) []byte {
	var b strings.Builder
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }
	header("From", s.cfg.From)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", s.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
