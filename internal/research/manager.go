package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/scout/internal/agent"
	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/metrics"
	"github.com/flemzord/scout/internal/provider"
	"github.com/flemzord/scout/internal/security"
)

// Sentinel errors for manager operations.
var (
	ErrEmptyPrompt   = errors.New("research: prompt is empty")
	ErrMaxConcurrent = errors.New("research: maximum concurrent tasks reached")
	ErrTaskNotFound  = errors.New("research: task not found")
	ErrTaskFinished  = errors.New("research: task already finished")
	ErrClosed        = errors.New("research: manager is shut down")
)

// ManagerConfig configures the task manager.
type ManagerConfig struct {
	Loop    *agent.Loop
	Toolset *Toolset
	Broker  *approval.Broker

	// MaxConcurrent bounds the tasks running at once, including those
	// waiting for review.
	MaxConcurrent int

	Logger  *slog.Logger
	Audit   *security.AuditLogger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Manager runs research tasks in the background. Each task is one agent
// loop; a gated tool call parks the task until a reviewer decides.
type Manager struct {
	cfg ManagerConfig

	mu     sync.Mutex
	tasks  map[string]*task
	active int
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a task manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	var errs []error
	if cfg.Loop == nil {
		errs = append(errs, errors.New("research: agent loop is required"))
	}
	if cfg.Toolset == nil {
		errs = append(errs, errors.New("research: toolset is required"))
	}
	if cfg.Broker == nil {
		errs = append(errs, errors.New("research: broker is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:   cfg.withDefaults(),
		tasks: make(map[string]*task),
	}, nil
}

// Start launches a research task for prompt. The task outlives ctx: only
// values are inherited from it, cancellation goes through Cancel and
// Shutdown.
func (m *Manager) Start(ctx context.Context, prompt string) (Task, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Task{}, ErrEmptyPrompt
	}

	t, taskCtx, err := m.admit(ctx, uuid.New().String(), prompt, false)
	if err != nil {
		return Task{}, err
	}

	req := agent.Request{
		SystemPrompt: SystemPrompt,
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleUser, Content: prompt},
		},
	}
	go m.runTask(taskCtx, t, func(ctx context.Context) (agent.Response, error) {
		return m.cfg.Loop.Run(ctx, req)
	})
	return m.describe(t), nil
}

// admit registers a new running task and derives its context.
func (m *Manager) admit(ctx context.Context, id, prompt string, recovered bool) (*task, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrClosed
	}
	if m.active >= m.cfg.MaxConcurrent {
		return nil, nil, ErrMaxConcurrent
	}

	taskCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	taskCtx = approval.WithTaskID(taskCtx, id)

	t := &task{
		id:        id,
		prompt:    prompt,
		state:     StateRunning,
		recovered: recovered,
		createdAt: m.cfg.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.tasks[id] = t
	m.active++
	m.wg.Add(1)

	m.cfg.Metrics.TaskState(string(StateRunning))
	m.audit(security.EventTaskStart, id, prompt, nil)
	m.cfg.Logger.Info("research task started", "task_id", id, "recovered", recovered)
	return t, taskCtx, nil
}

// runTask executes one loop run in the calling goroutine and records the
// outcome.
func (m *Manager) runTask(ctx context.Context, t *task, run func(context.Context) (agent.Response, error)) {
	defer m.wg.Done()
	defer close(t.done)
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	resp, err := run(ctx)
	cause := context.Cause(ctx)

	t.mu.Lock()
	t.result = &resp
	t.finishedAt = m.cfg.Now()
	switch {
	case err == nil:
		t.state = StateCompleted
	case resp.StopReason == agent.StopReasonCancelled || errors.Is(cause, approval.ErrShutdown):
		t.state = StateCancelled
		t.err = err
		if cause != nil && !errors.Is(err, cause) {
			t.err = fmt.Errorf("%w: %w", err, cause)
		}
	default:
		t.state = StateFailed
		t.err = err
	}
	state := t.state
	t.mu.Unlock()
	t.cancel(nil)

	m.cfg.Metrics.TaskState(string(state))
	m.audit(security.EventTaskEnd, t.id, string(resp.StopReason), map[string]string{"state": string(state)})

	logger := m.cfg.Logger.With("task_id", t.id, "state", string(state), "iterations", resp.Iterations)
	if err != nil && state == StateFailed {
		logger.Error("research task failed", "stop_reason", string(resp.StopReason), "error", err)
		return
	}
	logger.Info("research task finished", "stop_reason", string(resp.StopReason))
}

// Get returns a snapshot of task id.
func (m *Manager) Get(id string) (Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return m.describe(t), nil
}

// List returns snapshots of all tasks, oldest first.
func (m *Manager) List() []Task {
	m.mu.Lock()
	tasks := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	reviews := m.reviewsByTask()
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, withReview(t.snapshot(), reviews))
	}
	slices.SortFunc(out, func(a, b Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Cancel stops a running task. A pending review of the task is withdrawn.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state.Terminal() {
		return fmt.Errorf("%w: %s (state: %s)", ErrTaskFinished, id, state)
	}

	t.cancel(approval.ErrCancelled)
	m.cfg.Logger.Info("research task cancelled", "task_id", id)
	return nil
}

// Wait blocks until task id finishes or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	select {
	case <-t.done:
		return t.snapshot(), nil
	case <-ctx.Done():
		return m.describe(t), ctx.Err()
	}
}

// Recover resumes the tasks whose review was pending when the process
// last stopped. Each restored request is shown to reviewers again and
// its task continues once decided. Records that cannot be resumed are
// dropped from the store. It returns the number of resumed tasks.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	records, err := m.cfg.Broker.Restore(ctx)
	if err != nil {
		return 0, fmt.Errorf("research: restoring pending reviews: %w", err)
	}

	resumed := 0
	for _, rec := range records {
		logger := m.cfg.Logger.With("request_id", rec.Request.ID, "task_id", rec.Request.TaskID)

		cp, err := m.checkpoint(rec)
		if err != nil {
			logger.Warn("dropping unrecoverable review", "error", err)
			if ferr := m.cfg.Broker.Forget(ctx, rec.Request.ID); ferr != nil {
				logger.Error("forgetting review record", "error", ferr)
			}
			continue
		}

		m.mu.Lock()
		_, exists := m.tasks[rec.Request.TaskID]
		m.mu.Unlock()
		if exists {
			logger.Warn("task already running, skipping restored review")
			continue
		}

		t, taskCtx, err := m.admit(ctx, rec.Request.TaskID, firstUserMessage(cp.Messages), true)
		if err != nil {
			return resumed, fmt.Errorf("research: resuming task %s: %w", rec.Request.TaskID, err)
		}

		go m.runTask(taskCtx, t, func(ctx context.Context) (agent.Response, error) {
			return m.cfg.Loop.Resume(ctx, cp, func(ctx context.Context, _ provider.ToolCall) (string, error) {
				return m.cfg.Toolset.Resume(ctx, rec)
			})
		})
		resumed++
	}
	return resumed, nil
}

func (m *Manager) checkpoint(rec approval.Record) (agent.Checkpoint, error) {
	if rec.Request.TaskID == "" {
		return agent.Checkpoint{}, errors.New("record has no task id")
	}
	if len(rec.State) == 0 {
		return agent.Checkpoint{}, errors.New("record has no resume state")
	}
	cp, err := agent.DecodeCheckpoint(rec.State)
	if err != nil {
		return agent.Checkpoint{}, fmt.Errorf("decoding checkpoint: %w", err)
	}
	if len(cp.Pending) == 0 {
		return agent.Checkpoint{}, agent.ErrEmptyCheckpoint
	}
	if _, ok := m.cfg.Toolset.Base(rec.Request.Action.Action); !ok {
		return agent.Checkpoint{}, fmt.Errorf("unknown tool %q", rec.Request.Action.Action)
	}
	return cp, nil
}

// Shutdown stops every running task with approval.ErrShutdown as the
// cause, so pending reviews stay in the store for Recover, then waits for
// the loops to return or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, t := range m.tasks {
		t.cancel(approval.ErrShutdown)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) describe(t *task) Task {
	return withReview(t.snapshot(), m.reviewsByTask())
}

func (m *Manager) reviewsByTask() map[string]approval.ActionRequest {
	out := make(map[string]approval.ActionRequest)
	for _, req := range m.cfg.Broker.Pending() {
		if _, seen := out[req.TaskID]; !seen && req.TaskID != "" {
			out[req.TaskID] = req
		}
	}
	return out
}

func withReview(snap Task, reviews map[string]approval.ActionRequest) Task {
	if snap.State != StateRunning {
		return snap
	}
	if req, ok := reviews[snap.ID]; ok {
		snap.State = StateAwaitingReview
		snap.Review = &req
	}
	return snap
}

func (m *Manager) audit(typ security.EventType, taskID, detail string, meta map[string]string) {
	m.cfg.Audit.Log(security.AuditEvent{
		Type:     typ,
		TaskID:   taskID,
		Detail:   detail,
		Metadata: meta,
	})
}

func firstUserMessage(msgs []provider.LLMMessage) string {
	for _, msg := range msgs {
		if msg.Role == provider.MessageRoleUser {
			return msg.Content
		}
	}
	return ""
}
