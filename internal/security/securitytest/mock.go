// Package securitytest provides test doubles for the security package.
package securitytest

import (
	"sync"

	"github.com/flemzord/scout/internal/security"
)

// AuditRecorder collects the events of an AuditLogger. It is safe for
// concurrent use, since tools and tasks log from their own goroutines.
type AuditRecorder struct {
	mu     sync.Mutex
	events []security.AuditEvent
}

// NewAuditLogger returns an AuditLogger that writes nothing and records
// every event in the returned recorder.
func NewAuditLogger() (*security.AuditLogger, *AuditRecorder) {
	rec := &AuditRecorder{}
	logger := security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(e security.AuditEvent) {
			rec.mu.Lock()
			rec.events = append(rec.events, e)
			rec.mu.Unlock()
		},
	})
	return logger, rec
}

// Events returns a copy of the recorded events, in order.
func (r *AuditRecorder) Events() []security.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]security.AuditEvent(nil), r.events...)
}

// Types returns the type of every recorded event, in order.
func (r *AuditRecorder) Types() []security.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]security.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *AuditRecorder) Count(t security.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
