package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/research"
	"github.com/flemzord/scout/internal/tool"
)

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// fakeTasks is an in-memory Tasks double.
type fakeTasks struct {
	mu       sync.Mutex
	tasks    map[string]research.Task
	order    []string
	startErr error
}

func newFakeTasks(seed ...research.Task) *fakeTasks {
	f := &fakeTasks{tasks: make(map[string]research.Task)}
	for _, t := range seed {
		f.tasks[t.ID] = t
		f.order = append(f.order, t.ID)
	}
	return f
}

func (f *fakeTasks) Start(_ context.Context, prompt string) (research.Task, error) {
	if f.startErr != nil {
		return research.Task{}, f.startErr
	}
	if prompt == "" {
		return research.Task{}, research.ErrEmptyPrompt
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := research.Task{ID: "task-new", Prompt: prompt, State: research.StateRunning}
	f.tasks[t.ID] = t
	f.order = append(f.order, t.ID)
	return t, nil
}

func (f *fakeTasks) Get(id string) (research.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return research.Task{}, research.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeTasks) List() []research.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []research.Task
	for _, id := range f.order {
		out = append(out, f.tasks[id])
	}
	return out
}

func (f *fakeTasks) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return research.ErrTaskNotFound
	}
	if t.State.Terminal() {
		return research.ErrTaskFinished
	}
	t.State = research.StateCancelled
	f.tasks[id] = t
	return nil
}

type testEnv struct {
	gw     *Gateway
	broker *approval.Broker
	tasks  *fakeTasks
}

func newTestEnv(t *testing.T, cfg Config, seed ...research.Task) *testEnv {
	t.Helper()
	broker := approval.NewBroker(approval.BrokerConfig{Logger: quietLogger()})
	tasks := newFakeTasks(seed...)
	gw, err := New(cfg, Deps{Tasks: tasks, Broker: broker, Logger: quietLogger(), Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{gw: gw, broker: broker, tasks: tasks}
}

// do serves one request from a loopback client.
func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	r.RemoteAddr = "127.0.0.1:40000"
	rr := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rr, r)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

type submitResult struct {
	decision approval.Decision
	err      error
}

// submit suspends a caller on a new request and waits until it is pending.
func submit(t *testing.T, b *approval.Broker, req approval.ActionRequest) <-chan submitResult {
	t.Helper()
	return submitCtx(t, t.Context(), b, req)
}

func submitCtx(t *testing.T, ctx context.Context, b *approval.Broker, req approval.ActionRequest) <-chan submitResult {
	t.Helper()
	if req.Action.Action == "" {
		req.Action = approval.ProposedAction{
			Action: "send_research_email",
			Args:   tool.Args{"to": "a@b.com", "subject": "Report", "body": "Findings"},
		}
	}
	out := make(chan submitResult, 1)
	go func() {
		d, err := b.Submit(ctx, req, nil)
		out <- submitResult{d, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if slices.ContainsFunc(b.Pending(), func(p approval.ActionRequest) bool { return p.ID == req.ID }) {
			return out
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("request %s never became pending", req.ID)
	return nil
}

func receive(t *testing.T, ch <-chan submitResult) submitResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decision")
		return submitResult{}
	}
}
