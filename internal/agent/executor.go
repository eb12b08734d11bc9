package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/provider"
	"github.com/flemzord/scout/internal/tool"
)

// StateFunc snapshots the loop while a call is in flight. done holds the
// records of the calls of the current turn that already ran and remaining
// starts with the call about to run.
type StateFunc func(done []ToolCallRecord, remaining []provider.ToolCall) (json.RawMessage, error)

// ToolExecutorConfig holds the dependencies for tool execution.
type ToolExecutorConfig struct {
	Registry *tool.Registry
	Logger   *slog.Logger
}

// ToolExecutor runs the calls proposed in one turn sequentially, in
// proposal order, with panic recovery.
type ToolExecutor struct {
	registry *tool.Registry
	logger   *slog.Logger
}

// NewToolExecutor creates a ToolExecutor from the given configuration.
func NewToolExecutor(cfg ToolExecutorConfig) *ToolExecutor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolExecutor{registry: cfg.Registry, logger: logger}
}

// Definitions returns the provider-facing descriptions of every registered tool.
func (e *ToolExecutor) Definitions() []provider.ToolDefinition {
	defs := e.registry.Definitions()
	out := make([]provider.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = provider.ToolDefinition{
			Name:        d.Name(),
			Description: d.Description(),
			Parameters:  d.Schema(),
		}
	}
	return out
}

// Execute runs calls one after another. Recoverable failures become error
// records the planner can read. A fatal error stops the turn: the records
// of the calls that completed are returned with it.
//
// When state is non-nil, each call runs with a resume-state hook so a
// gated tool can persist where the loop stood.
func (e *ToolExecutor) Execute(ctx context.Context, calls []provider.ToolCall, state StateFunc) ([]ToolCallRecord, error) {
	records := make([]ToolCallRecord, 0, len(calls))
	for i, call := range calls {
		callCtx := ctx
		if state != nil {
			done := append([]ToolCallRecord(nil), records...)
			remaining := calls[i:]
			callCtx = approval.WithResumeState(ctx, func() (json.RawMessage, error) {
				return state(done, remaining)
			})
		}

		rec, err := e.executeSingle(callCtx, call)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// RunResolved records the outcome of a call whose result was produced
// outside the registry, such as a review decision applied after a restart.
func (e *ToolExecutor) RunResolved(ctx context.Context, call provider.ToolCall, run func(ctx context.Context) (string, error)) (ToolCallRecord, error) {
	return e.record(ctx, call, run)
}

func (e *ToolExecutor) executeSingle(ctx context.Context, call provider.ToolCall) (ToolCallRecord, error) {
	return e.record(ctx, call, func(ctx context.Context) (string, error) {
		return e.registry.Invoke(ctx, call.Name, call.Arguments)
	})
}

func (e *ToolExecutor) record(ctx context.Context, call provider.ToolCall, run func(ctx context.Context) (string, error)) (rec ToolCallRecord, fatal error) {
	rec.ID = call.ID
	rec.Name = call.Name
	rec.Arguments = call.Arguments

	ctx, verdict := approval.WithVerdict(ctx)
	start := time.Now()
	defer func() {
		rec.Duration = time.Since(start)
		rec.Decision = verdict.Kind()
		if r := recover(); r != nil {
			rec.Panicked = true
			rec.IsError = true
			rec.Output = fmt.Sprintf("panic: %v", r)
			fatal = nil
			e.logger.Error("tool panicked", "tool", call.Name, "panic", r)
		}
	}()

	out, err := run(ctx)
	if err != nil {
		if isFatal(ctx, err) {
			return rec, err
		}
		rec.IsError = true
		rec.Output = err.Error()
		return rec, nil
	}
	rec.Output = out
	return rec, nil
}

// isFatal reports whether err must abort the loop instead of being handed
// back to the planner. Context errors are fatal only when ctx itself ended.
func isFatal(ctx context.Context, err error) bool {
	switch {
	case tool.IsAbort(err):
		return true
	case errors.Is(err, approval.ErrCancelled):
		return true
	case ctx.Err() != nil:
		return true
	default:
		return false
	}
}
