package mail

import (
	"context"
	"log/slog"

	"github.com/flemzord/scout/internal/metrics"
)

// PreviewSender is the Sender used when no transport is configured. It
// never delivers anything: every Delivery it returns has Sent=false, and
// each preview is logged and counted.
type PreviewSender struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPreviewSender creates a preview-only sender. m may be nil.
func NewPreviewSender(logger *slog.Logger, m *metrics.Metrics) *PreviewSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &PreviewSender{logger: logger, metrics: m}
}

// Send implements Sender.
func (p *PreviewSender) Send(_ context.Context, msg Message) (Delivery, error) {
	if err := msg.Validate(); err != nil {
		return Delivery{}, err
	}
	p.metrics.EmailPreview()
	p.logger.Warn("email not sent: no mail transport configured", "to", msg.To, "subject", msg.Subject)
	return Delivery{Sent: false, Preview: Preview(msg)}, nil
}
