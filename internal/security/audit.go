package security

import (
	"encoding/json"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// EventType categorizes audit events.
type EventType string

// Audit event types.
const (
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventApproval    EventType = "approval"
	EventAuthSuccess EventType = "auth_success"
	EventAuthFailure EventType = "auth_failure"
	EventTaskStart   EventType = "task_start"
	EventTaskEnd     EventType = "task_end"
	EventRateLimit   EventType = "rate_limit"
)

// AuditEvent is one line of the audit trail. For approval events Phase is
// requested, submitted (by a gateway reviewer), decided, cancelled or
// policy_violation, and Decision names the reviewer's answer once there is
// one.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	TaskID    string            `json:"task_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	ToolName  string            `json:"tool_name,omitempty"`
	Phase     string            `json:"phase,omitempty"`
	Decision  string            `json:"decision,omitempty"`
	IsError   bool              `json:"is_error,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditLoggerConfig configures the audit logger.
type AuditLoggerConfig struct {
	// Writer receives one JSON object per line. Nil writes nothing.
	Writer io.Writer

	// Redactor masks secrets in Detail and Metadata. Metadata values under
	// a credential key are masked whole regardless.
	Redactor *Redactor

	// OnEvent sees every event after redaction, in write order.
	OnEvent func(AuditEvent)

	// Now defaults to time.Now.
	Now func() time.Time
}

// AuditLogger appends the review trail of tool calls, approval decisions,
// task lifecycle and gateway auth as JSONL. A nil *AuditLogger discards
// events, so callers need no guard.
type AuditLogger struct {
	redactor *Redactor
	onEvent  func(AuditEvent)
	now      func() time.Time

	mu       sync.Mutex
	enc      *json.Encoder
	failures atomic.Int64
}

// NewAuditLogger creates an audit logger.
func NewAuditLogger(cfg AuditLoggerConfig) *AuditLogger {
	l := &AuditLogger{redactor: cfg.Redactor, onEvent: cfg.OnEvent, now: cfg.Now}
	if l.now == nil {
		l.now = time.Now
	}
	if cfg.Writer != nil {
		l.enc = json.NewEncoder(cfg.Writer)
	}
	return l
}

// Log stamps, redacts and writes event. The caller's Metadata map is
// left untouched.
func (l *AuditLogger) Log(event AuditEvent) {
	if l == nil {
		return
	}
	event.Timestamp = l.now()
	event.Detail = l.redact(event.Detail)
	if len(event.Metadata) > 0 {
		meta := maps.Clone(event.Metadata)
		for k, v := range meta {
			if IsCredentialKey(k) {
				meta[k] = RedactPlaceholder
			} else {
				meta[k] = l.redact(v)
			}
		}
		event.Metadata = meta
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.onEvent != nil {
		l.onEvent(event)
	}
	if l.enc != nil {
		if err := l.enc.Encode(event); err != nil {
			l.failures.Add(1)
		}
	}
}

func (l *AuditLogger) redact(s string) string {
	if l.redactor == nil {
		return s
	}
	return l.redactor.Redact(s)
}

// WriteErrors returns how many events could not be written.
func (l *AuditLogger) WriteErrors() int64 {
	if l == nil {
		return 0
	}
	return l.failures.Load()
}
