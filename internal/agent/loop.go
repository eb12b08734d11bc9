package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/provider"
)

// Sentinel errors for agent loop termination.
var (
	ErrTokenBudgetExceeded  = errors.New("agent: token budget exceeded")
	ErrMaxIterationsReached = errors.New("agent: max iterations reached")
	ErrLoopDetected         = errors.New("agent: loop detected")
	ErrEmptyCheckpoint      = errors.New("agent: checkpoint has no pending call")
)

const tracerName = "github.com/flemzord/scout/internal/agent"

// LoopOption configures optional Loop behavior.
type LoopOption func(*Loop)

// WithLogger injects a structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) LoopOption { return func(lp *Loop) { lp.logger = l } }

// WithTracerProvider sets the provider for agent.iteration spans.
func WithTracerProvider(tp trace.TracerProvider) LoopOption {
	return func(lp *Loop) { lp.tracer = tp.Tracer(tracerName) }
}

// Loop implements the ReAct (Reason + Act) reasoning loop.
type Loop struct {
	provider provider.Provider
	executor *ToolExecutor
	config   LoopConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewLoop creates a Loop with the given provider, executor, and config.
func NewLoop(p provider.Provider, executor *ToolExecutor, cfg LoopConfig, opts ...LoopOption) *Loop {
	l := &Loop{
		provider: p,
		executor: executor,
		config:   cfg.withDefaults(),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ResumeFunc produces the result of the call a checkpoint was suspended
// on, typically by applying the reviewer's decision.
type ResumeFunc func(ctx context.Context, call provider.ToolCall) (string, error)

// run holds the mutable state of one loop execution.
type run struct {
	messages  []provider.LLMMessage
	history   []ToolCallRecord
	iteration int
	budget    *tokenBudget
	guard     *callGuard
	tools     []provider.ToolDefinition
}

// buildInitialMessages assembles the initial message history from the request.
func buildInitialMessages(req Request) []provider.LLMMessage {
	var messages []provider.LLMMessage
	if req.SystemPrompt != "" {
		messages = append(messages, provider.LLMMessage{
			Role:    provider.MessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	return append(messages, req.Messages...)
}

// appendToolResults adds tool execution results to the conversation history.
func appendToolResults(messages []provider.LLMMessage, records []ToolCallRecord) []provider.LLMMessage {
	for _, rec := range records {
		messages = append(messages, provider.LLMMessage{
			Role:    provider.MessageRoleTool,
			Content: rec.Output,
			Name:    rec.Name,
			ToolID:  rec.ID,
			IsError: rec.IsError,
		})
	}
	return messages
}

// Run executes the loop until the provider answers without tool calls or
// a guard stops it. Tool calls may suspend on review for as long as it takes;
// only provider calls are bounded by CallTimeout.
func (l *Loop) Run(ctx context.Context, req Request) (Response, error) {
	tools := req.Tools
	if tools == nil {
		tools = l.executor.Definitions()
	}
	r := &run{
		messages: buildInitialMessages(req),
		budget:   newTokenBudget(l.config.TokenBudget, provider.TokenUsage{}),
		guard:    newCallGuard(l.config),
		tools:    tools,
	}
	return l.loop(ctx, r)
}

// Resume continues a loop from a checkpoint. resolve supplies the result
// of cp.Pending[0]; the remaining pending calls then run normally and the
// loop proceeds with the next provider call.
func (l *Loop) Resume(ctx context.Context, cp Checkpoint, resolve ResumeFunc) (Response, error) {
	if len(cp.Pending) == 0 {
		return Response{StopReason: StopReasonError}, ErrEmptyCheckpoint
	}

	r := &run{
		messages:  cp.Messages,
		history:   cp.History,
		iteration: cp.Iteration,
		budget:    newTokenBudget(l.config.TokenBudget, cp.Usage),
		guard:     newCallGuard(l.config),
		tools:     l.executor.Definitions(),
	}
	r.guard.restore(append(append([]ToolCallRecord(nil), cp.History...), cp.Records...), cp.Pending)

	records := append([]ToolCallRecord(nil), cp.Records...)
	first, err := l.executor.RunResolved(ctx, cp.Pending[0], func(ctx context.Context) (string, error) {
		return resolve(ctx, cp.Pending[0])
	})
	if err != nil {
		r.history = append(r.history, records...)
		return l.stopped(r, err), err
	}
	records = append(records, first)

	rest, err := l.executor.Execute(ctx, cp.Pending[1:], l.stateFunc(r, records))
	records = append(records, rest...)
	r.history = append(r.history, records...)
	r.guard.settle(append([]ToolCallRecord{first}, rest...))
	if err != nil {
		return l.stopped(r, err), err
	}
	r.messages = appendToolResults(r.messages, records)
	r.iteration++

	return l.loop(ctx, r)
}

func (l *Loop) loop(ctx context.Context, r *run) (Response, error) {
	for ; r.iteration < l.config.MaxIterations; r.iteration++ {
		if err := ctx.Err(); err != nil {
			return l.stopped(r, err), err
		}
		if r.budget.exhausted() {
			return l.finish(r, "", StopReasonTokenBudget), ErrTokenBudgetExceeded
		}

		done, resp, err := l.iterate(ctx, r)
		if done || err != nil {
			return resp, err
		}
	}

	return l.finish(r, "", StopReasonMaxIterations), ErrMaxIterationsReached
}

// iterate runs one reason-act cycle. done is true when the loop must stop.
func (l *Loop) iterate(ctx context.Context, r *run) (done bool, resp Response, err error) {
	ctx, span := l.tracer.Start(ctx, "agent.iteration", trace.WithAttributes(
		attribute.Int("iteration", r.iteration),
		attribute.String("task_id", approval.TaskIDFromContext(ctx)),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, l.config.CallTimeout)
	completion, err := l.provider.Complete(callCtx, provider.CompletionRequest{
		Messages: r.messages,
		Tools:    r.tools,
	})
	cancel()
	if err != nil {
		span.RecordError(err)
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return true, l.finish(r, "", StopReasonTimeout), err
		}
		return true, l.stopped(r, err), err
	}

	r.budget.charge(completion.Usage)
	span.SetAttributes(attribute.Int("tool_calls", len(completion.ToolCalls)))
	if r.budget.exhausted() {
		r.iteration++
		return true, l.finish(r, "", StopReasonTokenBudget), ErrTokenBudgetExceeded
	}

	// No tool calls: the model is done reasoning.
	if len(completion.ToolCalls) == 0 {
		r.messages = append(r.messages, provider.LLMMessage{
			Role:    provider.MessageRoleAssistant,
			Content: completion.Content,
		})
		r.iteration++
		return true, l.finish(r, completion.Content, StopReasonComplete), nil
	}

	// Checked before the assistant message is appended so no tool call is
	// left without a result.
	if err := r.guard.propose(completion.ToolCalls); err != nil {
		r.iteration++
		l.logger.Warn("agent loop stopped", "reason", string(StopReasonLoopDetected), "iteration", r.iteration, "error", err)
		return true, l.finish(r, "", StopReasonLoopDetected), err
	}

	r.messages = append(r.messages, provider.LLMMessage{
		Role:      provider.MessageRoleAssistant,
		Content:   completion.Content,
		ToolCalls: completion.ToolCalls,
	})

	records, err := l.executor.Execute(ctx, completion.ToolCalls, l.stateFunc(r, nil))
	r.history = append(r.history, records...)
	r.guard.settle(records)
	if err != nil {
		span.RecordError(err)
		return true, l.stopped(r, err), err
	}
	r.messages = appendToolResults(r.messages, records)
	return false, Response{}, nil
}

// stateFunc builds the checkpoint hook for the calls of the current turn.
// prior holds records of that turn produced before the executor started.
func (l *Loop) stateFunc(r *run, prior []ToolCallRecord) StateFunc {
	messages := append([]provider.LLMMessage(nil), r.messages...)
	history := append([]ToolCallRecord(nil), r.history...)
	iteration := r.iteration
	usage := r.budget.spent
	return func(done []ToolCallRecord, remaining []provider.ToolCall) (json.RawMessage, error) {
		return json.Marshal(Checkpoint{
			Messages:  messages,
			Pending:   remaining,
			Records:   append(append([]ToolCallRecord(nil), prior...), done...),
			History:   history,
			Iteration: iteration,
			Usage:     usage,
		})
	}
}

// stopped maps a terminating error to its stop reason.
func (l *Loop) stopped(r *run, err error) Response {
	reason := StopReasonError
	switch {
	case errors.Is(err, approval.ErrCancelled), errors.Is(err, context.Canceled):
		reason = StopReasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		reason = StopReasonTimeout
	}
	l.logger.Info("agent loop stopped", "reason", string(reason), "iteration", r.iteration, "error", err)
	return l.finish(r, "", reason)
}

func (l *Loop) finish(r *run, content string, reason StopReason) Response {
	return Response{
		Content:    content,
		ToolCalls:  r.history,
		Messages:   r.messages,
		TotalUsage: r.budget.spent,
		Iterations: r.iteration,
		StopReason: reason,
	}
}
