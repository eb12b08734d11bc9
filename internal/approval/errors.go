package approval

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedDecision matches every *UnsupportedDecisionError.
	ErrUnsupportedDecision = errors.New("unsupported review decision")

	// ErrMalformedDecision is returned when a decision payload has a known
	// type but an unusable args field.
	ErrMalformedDecision = errors.New("malformed review decision")

	// ErrUnknownRequest is returned when resolving an id that is not pending.
	ErrUnknownRequest = errors.New("unknown action request")

	// ErrAlreadyResolved is returned for a second decision on the same request.
	ErrAlreadyResolved = errors.New("action request already resolved")

	// ErrOutOfOrder is returned when a decision targets a request that is
	// not the oldest pending request of its task.
	ErrOutOfOrder = errors.New("action request resolved out of order")

	// ErrCancelled is returned by a suspended call whose context ended
	// before a decision arrived.
	ErrCancelled = errors.New("approval cancelled")

	// ErrDuplicateRequest is returned when submitting an id that is already pending.
	ErrDuplicateRequest = errors.New("action request already pending")

	// ErrShutdown is used as a cancellation cause when the process stops.
	// Requests cancelled with this cause stay in the store for recovery.
	ErrShutdown = errors.New("shutting down")
)

// UnsupportedDecisionError reports a decision tag outside the closed set.
// It is fatal to the agent cycle that receives it.
type UnsupportedDecisionError struct {
	Tag string
}

func (e *UnsupportedDecisionError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnsupportedDecision, e.Tag)
}

// Is reports whether target is ErrUnsupportedDecision.
func (e *UnsupportedDecisionError) Is(target error) bool { return target == ErrUnsupportedDecision }

// Abort marks the error as fatal to the agent cycle.
func (e *UnsupportedDecisionError) Abort() {}
