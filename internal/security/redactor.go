package security

import (
	"regexp"
	"strings"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// keyFormats match the credentials scout talks to by shape, so keys that
// were never configured (pasted into a prompt, echoed by an upstream error)
// are masked too.
var keyFormats = []*regexp.Regexp{
	// Anthropic before OpenAI: both start with sk-.
	regexp.MustCompile(`\bsk-ant-[a-zA-Z0-9_\-]{20,}`),
	regexp.MustCompile(`\bsk-(proj-)?[a-zA-Z0-9_\-]{20,}`),
	regexp.MustCompile(`\btvly-(dev-|prod-)?[a-zA-Z0-9]{16,}`),
	regexp.MustCompile(`(?i)\b(bearer|basic)\s+[a-zA-Z0-9._~+/\-]{16,}=*`),
}

// Redactor masks scout's configured secrets and anything shaped like a
// planner, search or HTTP credential. It is immutable and safe for
// concurrent use.
type Redactor struct {
	literals []string
}

// NewRedactor returns a redactor for secrets. A nil map masks key formats
// only.
func NewRedactor(secrets Secrets) *Redactor {
	return &Redactor{literals: secrets.Values()}
}

// Redact masks every configured secret in s, then every known key format.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	for _, lit := range r.literals {
		s = strings.ReplaceAll(s, lit, RedactPlaceholder)
	}
	for _, re := range keyFormats {
		s = re.ReplaceAllString(s, RedactPlaceholder)
	}
	return s
}
