package research

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/scout/internal/agent"
	"github.com/flemzord/scout/internal/approval"
)

// State is the lifecycle state of a research task.
type State string

// Task states. AwaitingReview is reported while a gated call of the task
// is pending in the broker.
const (
	StateRunning        State = "running"
	StateAwaitingReview State = "awaiting_review"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// task is the mutable record of one background agent loop.
type task struct {
	mu         sync.Mutex
	id         string
	prompt     string
	state      State
	result     *agent.Response
	err        error
	recovered  bool
	createdAt  time.Time
	finishedAt time.Time
	cancel     context.CancelCauseFunc
	done       chan struct{}
}

// Task is a point-in-time copy of a research task, safe for concurrent reads.
type Task struct {
	ID         string                  `json:"id"`
	Prompt     string                  `json:"prompt"`
	State      State                   `json:"state"`
	Content    string                  `json:"content,omitempty"`
	StopReason agent.StopReason        `json:"stop_reason,omitempty"`
	Iterations int                     `json:"iterations,omitempty"`
	ToolCalls  []agent.ToolCallRecord  `json:"tool_calls,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Recovered  bool                    `json:"recovered,omitempty"`
	Review     *approval.ActionRequest `json:"review,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	FinishedAt time.Time               `json:"finished_at,omitzero"`
}

func (t *task) snapshot() Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Task{
		ID:         t.id,
		Prompt:     t.prompt,
		State:      t.state,
		Recovered:  t.recovered,
		CreatedAt:  t.createdAt,
		FinishedAt: t.finishedAt,
	}
	if t.result != nil {
		snap.Content = t.result.Content
		snap.StopReason = t.result.StopReason
		snap.Iterations = t.result.Iterations
		snap.ToolCalls = append([]agent.ToolCallRecord(nil), t.result.ToolCalls...)
	}
	if t.err != nil {
		snap.Error = t.err.Error()
	}
	return snap
}
