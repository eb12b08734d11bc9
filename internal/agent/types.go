// Package agent implements the ReAct (Reason + Act) loop that drives the
// planner: it asks the provider for the next step, runs the proposed tool
// calls in order, feeds the results back, and stops at a final answer.
package agent

import (
	"encoding/json"
	"time"

	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/provider"
)

// StopReason describes why the agent loop terminated.
type StopReason string

// StopReason constants for agent loop termination.
const (
	StopReasonComplete      StopReason = "complete"
	StopReasonMaxIterations StopReason = "max_iterations"
	StopReasonLoopDetected  StopReason = "loop_detected"
	StopReasonTokenBudget   StopReason = "token_budget"
	StopReasonTimeout       StopReason = "timeout"
	StopReasonCancelled     StopReason = "cancelled"
	StopReasonError         StopReason = "error"
)

// ToolCallRecord tracks one tool invocation during the agent loop.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Output    string          `json:"output"`
	IsError   bool            `json:"is_error,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Panicked  bool            `json:"panicked,omitempty"`

	// Decision is the reviewer's answer when the call was gated.
	Decision approval.DecisionKind `json:"decision,omitempty"`
}

// Declined reports whether the reviewer kept the tool from running.
func (r ToolCallRecord) Declined() bool {
	return r.Decision == approval.KindRespond || r.Decision == approval.KindIgnore
}

// Request is the input to the agent loop.
type Request struct {
	Messages     []provider.LLMMessage
	SystemPrompt string

	// Tools overrides the tool list sent to the provider. When nil the
	// executor's registry is used.
	Tools []provider.ToolDefinition
}

// Response is the output of the agent loop.
type Response struct {
	Content    string
	ToolCalls  []ToolCallRecord
	Messages   []provider.LLMMessage
	TotalUsage provider.TokenUsage
	Iterations int
	StopReason StopReason
}

// Checkpoint is the serializable state of a loop suspended inside a tool
// call. Pending[0] is the call that was suspended; the rest of Pending
// are the calls of the same turn that have not run yet. Records holds the
// results of the calls of that turn that already ran.
type Checkpoint struct {
	Messages  []provider.LLMMessage `json:"messages"`
	Pending   []provider.ToolCall   `json:"pending"`
	Records   []ToolCallRecord      `json:"records,omitempty"`
	History   []ToolCallRecord      `json:"history,omitempty"`
	Iteration int                   `json:"iteration"`
	Usage     provider.TokenUsage   `json:"usage"`
}

// DecodeCheckpoint parses a checkpoint persisted with a pending request.
func DecodeCheckpoint(raw json.RawMessage) (Checkpoint, error) {
	var cp Checkpoint
	err := json.Unmarshal(raw, &cp)
	return cp, err
}
