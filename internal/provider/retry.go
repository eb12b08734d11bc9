package provider

import (
	"context"
	"log/slog"
	"time"
)

// RetryConfig controls how transient provider failures are retried.
type RetryConfig struct {
	// MaxAttempts is the total number of calls, including the first.
	// Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the wait after the first failure. Default: 1s.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the exponential backoff. Default: 30s.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

func (c *RetryConfig) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Retrying wraps a Provider and retries Complete on errors for which
// IsRetryable is true, doubling the wait after each failure.
type Retrying struct {
	inner  Provider
	cfg    RetryConfig
	logger *slog.Logger

	// sleep is injectable for testing.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps p. A nil logger discards retry logs.
func NewRetrying(p Provider, cfg RetryConfig, logger *slog.Logger) *Retrying {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Retrying{inner: p, cfg: cfg, logger: logger, sleep: sleepCtx}
}

// Complete implements Provider.
func (r *Retrying) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	backoff := r.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == r.cfg.MaxAttempts {
			break
		}

		r.logger.Warn("provider call failed, retrying",
			"model", r.inner.ModelName(),
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if err := r.sleep(ctx, backoff); err != nil {
			return CompletionResponse{}, err
		}
		backoff = min(backoff*2, r.cfg.MaxBackoff)
	}
	return CompletionResponse{}, lastErr
}

// ModelName implements Provider.
func (r *Retrying) ModelName() string { return r.inner.ModelName() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
