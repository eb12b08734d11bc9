package research

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/scout/internal/agent"
	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/provider"
	"github.com/flemzord/scout/internal/provider/providertest"
	"github.com/flemzord/scout/internal/security"
	"github.com/flemzord/scout/internal/security/securitytest"
)

type managerEnv struct {
	*toolsetEnv
	manager *Manager
	audit   *securitytest.AuditRecorder
}

func newManagerEnv(t *testing.T, p provider.Provider, store approval.Store, maxConcurrent int) *managerEnv {
	t.Helper()

	audit, rec := securitytest.NewAuditLogger()
	env := &managerEnv{toolsetEnv: newToolsetEnv(t, store, nil), audit: rec}

	exec := agent.NewToolExecutor(agent.ToolExecutorConfig{Registry: env.toolset.Registry(), Logger: quietLogger()})
	m, err := NewManager(ManagerConfig{
		Loop:          agent.NewLoop(p, exec, agent.LoopConfig{}, agent.WithLogger(quietLogger())),
		Toolset:       env.toolset,
		Broker:        env.broker,
		MaxConcurrent: maxConcurrent,
		Logger:        quietLogger(),
		Audit:         audit,
	})
	require.NoError(t, err)
	env.manager = m
	return env
}

func wait(t *testing.T, m *Manager, id string) Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := m.Wait(ctx, id)
	require.NoError(t, err)
	return task
}

func awaitState(t *testing.T, m *Manager, id string, want State) Task {
	t.Helper()
	var got Task
	require.Eventually(t, func() bool {
		var err error
		got, err = m.Get(id)
		return err == nil && got.State == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func toolTurn(calls ...provider.ToolCall) provider.CompletionResponse {
	return provider.CompletionResponse{ToolCalls: calls, FinishReason: provider.FinishReasonToolUse}
}

func textTurn(content string) provider.CompletionResponse {
	return provider.CompletionResponse{Content: content, FinishReason: provider.FinishReasonStop}
}

func call(id, name, args string) provider.ToolCall {
	return provider.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

const emailArgs = `{"to":"a@b.com","subject":"Battery report","body":"findings"}`

func TestNewManager_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewManager(ManagerConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent loop is required")
	assert.Contains(t, err.Error(), "broker is required")
}

func TestManager_StartCompletes(t *testing.T) {
	t.Parallel()

	p := providertest.Scripted(textTurn("Here is what I found."))
	env := newManagerEnv(t, p, nil, 0)

	task, err := env.manager.Start(context.Background(), "  research batteries, email a@b.com  ")
	require.NoError(t, err)
	assert.Equal(t, "research batteries, email a@b.com", task.Prompt)

	final := wait(t, env.manager, task.ID)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, "Here is what I found.", final.Content)
	assert.Equal(t, agent.StopReasonComplete, final.StopReason)
	assert.False(t, final.FinishedAt.IsZero())

	req := p.Requests()[0]
	assert.Equal(t, SystemPrompt, req.Messages[0].Content)
	assert.Len(t, req.Tools, 4)

	assert.Equal(t, []security.EventType{security.EventTaskStart, security.EventTaskEnd}, env.audit.Types())
}

func TestManager_StartErrors(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, providertest.Scripted(), nil, 0)
	_, err := env.manager.Start(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = env.manager.Get("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, env.manager.Cancel("missing"), ErrTaskNotFound)
}

func TestManager_ProviderFailureMarksFailed(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, providertest.Scripted(), nil, 0)
	task, err := env.manager.Start(context.Background(), "topic")
	require.NoError(t, err)

	final := wait(t, env.manager, task.ID)
	assert.Equal(t, StateFailed, final.State)
	assert.NotEmpty(t, final.Error)
	assert.ErrorIs(t, env.manager.Cancel(task.ID), ErrTaskFinished)
}

func TestManager_FullResearchFlow(t *testing.T) {
	t.Parallel()

	p := providertest.Scripted(
		toolTurn(call("1", ToolCreatePlan, `{"email":"a@b.com","research_topic":"batteries","steps":["search","write"]}`)),
		toolTurn(call("2", ToolUpdateStatus, `{"step_number":1,"status":"in_progress"}`)),
		toolTurn(call("3", ToolSearch, `{"query":"solid-state batteries"}`)),
		toolTurn(call("4", ToolSendEmail, emailArgs)),
		textTurn("Report sent."),
	)
	env := newManagerEnv(t, p, nil, 0)

	task, err := env.manager.Start(context.Background(), "Research batteries and email a@b.com")
	require.NoError(t, err)

	plan := awaitState(t, env.manager, task.ID, StateAwaitingReview)
	require.NotNil(t, plan.Review)
	assert.Equal(t, ToolCreatePlan, plan.Review.Action.Action)
	require.NoError(t, env.broker.Resolve(plan.Review.ID, approval.Accept{}))

	email := awaitState(t, env.manager, task.ID, StateAwaitingReview)
	for email.Review.Action.Action != ToolSendEmail {
		email = awaitState(t, env.manager, task.ID, StateAwaitingReview)
	}
	assert.Equal(t, 0, env.sender.count())
	require.NoError(t, env.broker.Resolve(email.Review.ID, approval.Accept{}))

	final := wait(t, env.manager, task.ID)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, "Report sent.", final.Content)
	assert.Equal(t, 1, env.sender.count())
	require.Len(t, final.ToolCalls, 4)
	assert.Contains(t, final.ToolCalls[0].Output, "TODO plan created successfully")
	assert.Contains(t, final.ToolCalls[3].Output, "sent successfully to a@b.com")
	assert.Len(t, env.searcher.queries, 1)
}

func TestManager_CancelWhileAwaitingReview(t *testing.T) {
	t.Parallel()

	p := providertest.Scripted(toolTurn(call("1", ToolSendEmail, emailArgs)))
	env := newManagerEnv(t, p, nil, 0)

	task, err := env.manager.Start(context.Background(), "topic")
	require.NoError(t, err)
	awaitState(t, env.manager, task.ID, StateAwaitingReview)

	require.NoError(t, env.manager.Cancel(task.ID))
	final := wait(t, env.manager, task.ID)
	assert.Equal(t, StateCancelled, final.State)
	assert.Equal(t, agent.StopReasonCancelled, final.StopReason)
	assert.Empty(t, env.broker.Pending())
	assert.Equal(t, 0, env.sender.count())
}

func TestManager_MaxConcurrent(t *testing.T) {
	t.Parallel()

	p := providertest.Scripted(toolTurn(call("1", ToolSendEmail, emailArgs)))
	env := newManagerEnv(t, p, nil, 1)

	task, err := env.manager.Start(context.Background(), "first")
	require.NoError(t, err)
	_, err = env.manager.Start(context.Background(), "second")
	assert.ErrorIs(t, err, ErrMaxConcurrent)

	require.NoError(t, env.manager.Cancel(task.ID))
	wait(t, env.manager, task.ID)
}

func TestManager_ListOrdersByCreation(t *testing.T) {
	t.Parallel()

	p := providertest.Scripted(textTurn("a"), textTurn("b"))
	env := newManagerEnv(t, p, nil, 0)

	first, err := env.manager.Start(context.Background(), "first")
	require.NoError(t, err)
	wait(t, env.manager, first.ID)
	second, err := env.manager.Start(context.Background(), "second")
	require.NoError(t, err)
	wait(t, env.manager, second.ID)

	list := env.manager.List()
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Prompt)
	assert.Equal(t, "second", list[1].Prompt)
}

func TestManager_ShutdownAndRecover(t *testing.T) {
	t.Parallel()

	store := approval.NewMemoryStore()

	before := newManagerEnv(t, providertest.Scripted(toolTurn(call("1", ToolSendEmail, emailArgs))), store, 0)
	task, err := before.manager.Start(context.Background(), "Research batteries and email a@b.com")
	require.NoError(t, err)
	awaitState(t, before.manager, task.ID, StateAwaitingReview)

	require.NoError(t, before.manager.Shutdown(context.Background()))
	stopped, err := before.manager.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, stopped.State)
	_, err = before.manager.Start(context.Background(), "late")
	assert.ErrorIs(t, err, ErrClosed)

	recs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1, "the pending review must survive shutdown")

	p := providertest.Scripted(textTurn("Report sent after restart."))
	after := newManagerEnv(t, p, store, 0)
	n, err := after.manager.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	resumed := awaitState(t, after.manager, task.ID, StateAwaitingReview)
	assert.True(t, resumed.Recovered)
	assert.Equal(t, "Research batteries and email a@b.com", resumed.Prompt)
	require.NoError(t, after.broker.Resolve(resumed.Review.ID, approval.Accept{}))

	final := wait(t, after.manager, task.ID)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, "Report sent after restart.", final.Content)
	assert.Equal(t, 1, after.sender.count())

	// The resumed tool result reaches the provider.
	msgs := p.Requests()[0].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, provider.MessageRoleTool, last.Role)
	assert.Contains(t, last.Content, "sent successfully to a@b.com")
}

func TestManager_RecoverDropsUnusableRecords(t *testing.T) {
	t.Parallel()

	store := approval.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, approval.Record{
		Request: approval.ActionRequest{ID: "no-state", TaskID: "t1", Action: approval.ProposedAction{Action: ToolSendEmail}},
	}))
	require.NoError(t, store.Save(ctx, approval.Record{
		Request: approval.ActionRequest{ID: "bad-state", TaskID: "t2", Action: approval.ProposedAction{Action: ToolSendEmail}},
		State:   json.RawMessage(`"not a checkpoint"`),
	}))

	env := newManagerEnv(t, providertest.Scripted(), store, 0)
	n, err := env.manager.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	recs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
