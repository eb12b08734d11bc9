package tool

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is returned when a tool is not found in the registry.
	ErrToolNotFound = errors.New("tool not found")

	// ErrEmptyToolName is returned when a tool name is empty.
	ErrEmptyToolName = errors.New("tool name must not be empty")

	// ErrNilFunc is returned when a definition has no implementation.
	ErrNilFunc = errors.New("tool implementation must not be nil")

	// ErrDuplicateTool is returned when registering a tool with a name that
	// already exists in the registry.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrInvalidArguments matches every *ArgumentError.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrToolFailed matches every *ExecutionError.
	ErrToolFailed = errors.New("tool execution failed")

	// ErrRateLimited is returned when the registry's call limiter rejects a call.
	ErrRateLimited = errors.New("tool call rate limit exceeded")
)

// ArgKind classifies why arguments were rejected.
type ArgKind string

// ArgKind values.
const (
	ArgMissing ArgKind = "missing"
	ArgUnknown ArgKind = "unknown"
	ArgType    ArgKind = "type"
	ArgEnum    ArgKind = "enum"
	ArgInvalid ArgKind = "invalid"
)

// ArgumentError reports arguments that do not match a tool's parameters.
// It is recoverable: the planner sees the message and may retry.
type ArgumentError struct {
	Tool   string
	Kind   ArgKind
	Param  string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("tool %s: invalid arguments (%s %q): %s", e.Tool, e.Kind, e.Param, e.Reason)
	}
	return fmt.Sprintf("tool %s: invalid arguments (%s): %s", e.Tool, e.Kind, e.Reason)
}

// Is reports whether target is ErrInvalidArguments.
func (e *ArgumentError) Is(target error) bool { return target == ErrInvalidArguments }

// ExecutionError wraps a failure raised by a tool implementation.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrToolFailed.
func (e *ExecutionError) Is(target error) bool { return target == ErrToolFailed }

// DuplicateToolError is returned by Registry.Register for a name that is
// already taken.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateTool, e.Name)
}

// Is reports whether target is ErrDuplicateTool.
func (e *DuplicateToolError) Is(target error) bool { return target == ErrDuplicateTool }

// AbortError is implemented by errors that end the calling agent cycle
// rather than being reported back as a tool failure. Definition.Call
// returns them unwrapped.
type AbortError interface {
	error
	Abort()
}

// IsAbort reports whether err, or an error it wraps, is an AbortError.
func IsAbort(err error) bool {
	var abort AbortError
	return errors.As(err, &abort)
}
