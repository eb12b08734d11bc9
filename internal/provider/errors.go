package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Sentinel errors for provider operations.
var (
	// ErrRateLimit indicates the provider returned a rate limit response.
	ErrRateLimit = errors.New("provider rate limited")

	// ErrContextLength indicates the request exceeded the model's context window.
	ErrContextLength = errors.New("context length exceeded")

	// ErrProviderDown indicates the provider is temporarily unavailable.
	ErrProviderDown = errors.New("provider unavailable")

	// ErrAuth indicates the planner rejected the configured API key. The
	// research task fails at once; retrying cannot help.
	ErrAuth = errors.New("planner credentials rejected")

	// ErrNoProvider indicates no provider is configured.
	ErrNoProvider = errors.New("no provider configured")
)

// IsRetryable reports whether the error is transient and the request
// can be retried after a delay.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown)
}

// A long research conversation (many search results fed back) is the usual
// way to overflow the window. Vendors word it differently.
var contextLengthMarkers = []string{
	"context length",
	"context_length",
	"context window",
	"prompt is too long",
	"too many tokens",
	"token limit",
	"maximum context",
}

func mentionsContextLength(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range contextLengthMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// StatusError classifies a failed planner API response. vendor prefixes
// the error and msg is the API's own error text.
func StatusError(vendor string, status int, msg string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: %s", ErrRateLimit, vendor, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", ErrAuth, vendor, msg)
	case (status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge) && mentionsContextLength(msg):
		return fmt.Errorf("%w: %s: %s", ErrContextLength, vendor, msg)
	// 529 is Anthropic's "overloaded".
	case status == http.StatusRequestTimeout || status == 529 || status >= 500:
		return fmt.Errorf("%w: %s: HTTP %d: %s", ErrProviderDown, vendor, status, msg)
	default:
		return fmt.Errorf("%s: HTTP %d: %s", vendor, status, msg)
	}
}

// TransportError classifies a failure to reach the planner at all. Context
// errors pass through unchanged so Retrying stops on them.
func TransportError(vendor string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %w", ErrProviderDown, vendor, err)
	}
	return fmt.Errorf("%s: %w", vendor, err)
}
