package security

import (
	"context"
	"log/slog"
)

// RedactingHandler masks secrets in log records before they reach the
// wrapped handler. The message and every string or error value go through
// the Redactor; an attribute whose key names a credential (password,
// api_key, ...) is masked whole, whatever its value.
type RedactingHandler struct {
	next     slog.Handler
	redactor *Redactor
}

var _ slog.Handler = (*RedactingHandler)(nil)

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler, redactor *Redactor) *RedactingHandler {
	return &RedactingHandler{next: next, redactor: redactor}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, h.redactor.Redact(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.mask(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs masks attrs once, when the child logger is built.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = h.mask(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(masked), redactor: h.redactor}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}

func (h *RedactingHandler) mask(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	switch a.Value.Kind() {
	case slog.KindGroup:
		group := a.Value.Group()
		masked := make([]slog.Attr, len(group))
		for i, ga := range group {
			masked[i] = h.mask(ga)
		}
		a.Value = slog.GroupValue(masked...)
		return a
	case slog.KindString:
		if IsCredentialKey(a.Key) && a.Value.String() != "" {
			a.Value = slog.StringValue(RedactPlaceholder)
			return a
		}
		a.Value = slog.StringValue(h.redactor.Redact(a.Value.String()))
	case slog.KindAny:
		// Errors from the planner, Tavily or SMTP may quote a key.
		s := a.Value.String()
		if IsCredentialKey(a.Key) {
			a.Value = slog.StringValue(RedactPlaceholder)
		} else if red := h.redactor.Redact(s); red != s {
			a.Value = slog.StringValue(red)
		}
	}
	return a
}
