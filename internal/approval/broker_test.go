package approval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/flemzord/scout/internal/tool"
)

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newTestBroker(store Store) *Broker {
	return NewBroker(BrokerConfig{Store: store, Logger: quietLogger()})
}

func testRequest(taskID, action string) ActionRequest {
	return ActionRequest{
		TaskID: taskID,
		Action: ProposedAction{Action: action, Args: tool.Args{"to": "a@b.com"}},
		Config: DefaultCapabilities(),
	}
}

// nextEvent waits for the next event of type typ.
func nextEvent(t *testing.T, events <-chan Event, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed")
			}
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

type submitResult struct {
	decision Decision
	err      error
}

func submitAsync(ctx context.Context, b *Broker, req ActionRequest, state json.RawMessage) <-chan submitResult {
	out := make(chan submitResult, 1)
	go func() {
		d, err := b.Submit(ctx, req, state)
		out <- submitResult{d, err}
	}()
	return out
}

func awaitResult(t *testing.T, ch <-chan submitResult) submitResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return")
		return submitResult{}
	}
}

func TestBroker_SubmitResolve(t *testing.T) {
	t.Parallel()

	b := newTestBroker(nil)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	res := submitAsync(context.Background(), b, testRequest("t1", "send_research_email"), nil)
	ev := nextEvent(t, events, EventRequested)

	if ev.Request.ID == "" {
		t.Fatal("request id must be assigned")
	}
	if ev.Request.Description != ReviewDescription {
		t.Errorf("Description = %q, want %q", ev.Request.Description, ReviewDescription)
	}
	if ev.Request.CreatedAt.IsZero() {
		t.Error("CreatedAt must be set")
	}
	if _, ok := b.Get(ev.Request.ID); !ok {
		t.Error("request must be pending")
	}

	if err := b.Resolve(ev.Request.ID, Respond{Feedback: "shorter"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	r := awaitResult(t, res)
	if r.err != nil {
		t.Fatalf("Submit: %v", r.err)
	}
	if got, ok := r.decision.(Respond); !ok || got.Feedback != "shorter" {
		t.Errorf("decision = %#v, want Respond{shorter}", r.decision)
	}
	if len(b.Pending()) != 0 {
		t.Error("pending table must be empty after resolution")
	}

	resolved := nextEvent(t, events, EventResolved)
	if resolved.Decision != KindRespond {
		t.Errorf("resolved event decision = %q, want response", resolved.Decision)
	}
}

func TestBroker_ResolveErrors(t *testing.T) {
	t.Parallel()

	b := newTestBroker(nil)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	if err := b.Resolve("nope", Accept{}); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("unknown id: got %v, want ErrUnknownRequest", err)
	}

	res := submitAsync(context.Background(), b, testRequest("t1", "x"), nil)
	id := nextEvent(t, events, EventRequested).Request.ID

	if err := b.Resolve(id, nil); !errors.Is(err, ErrMalformedDecision) {
		t.Errorf("nil decision: got %v, want ErrMalformedDecision", err)
	}
	if err := b.Resolve(id, Accept{}); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if err := b.Resolve(id, Ignore{}); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second decision: got %v, want ErrAlreadyResolved", err)
	}

	awaitResult(t, res)
	if err := b.Resolve(id, Ignore{}); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("late decision: got %v, want ErrAlreadyResolved", err)
	}
}

func TestBroker_IssueOrderPerTask(t *testing.T) {
	t.Parallel()

	b := newTestBroker(nil)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	first := submitAsync(context.Background(), b, testRequest("t1", "create_todo_plan"), nil)
	firstID := nextEvent(t, events, EventRequested).Request.ID
	second := submitAsync(context.Background(), b, testRequest("t1", "send_research_email"), nil)
	secondID := nextEvent(t, events, EventRequested).Request.ID
	other := submitAsync(context.Background(), b, testRequest("t2", "send_research_email"), nil)
	otherID := nextEvent(t, events, EventRequested).Request.ID

	pending := b.Pending()
	if len(pending) != 3 || pending[0].ID != firstID || pending[1].ID != secondID || pending[2].ID != otherID {
		t.Fatalf("Pending() not in issue order: %+v", pending)
	}

	if err := b.Resolve(secondID, Accept{}); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("resolving behind the queue head: got %v, want ErrOutOfOrder", err)
	}
	// Another task's queue is independent.
	if err := b.Resolve(otherID, Accept{}); err != nil {
		t.Errorf("independent task: %v", err)
	}
	if err := b.Resolve(firstID, Accept{}); err != nil {
		t.Fatalf("head of queue: %v", err)
	}
	awaitResult(t, first)
	if err := b.Resolve(secondID, Ignore{}); err != nil {
		t.Errorf("after head resolved: %v", err)
	}
	awaitResult(t, second)
	awaitResult(t, other)
}

func TestBroker_DuplicateID(t *testing.T) {
	t.Parallel()

	b := newTestBroker(nil)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	req := testRequest("t1", "x")
	req.ID = "fixed"
	res := submitAsync(context.Background(), b, req, nil)
	nextEvent(t, events, EventRequested)

	if _, err := b.Submit(context.Background(), req, nil); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("got %v, want ErrDuplicateRequest", err)
	}
	_ = b.Resolve("fixed", Accept{})
	awaitResult(t, res)
}

func TestBroker_CancelRemovesEntryAndRecord(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	b := newTestBroker(store)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	res := submitAsync(ctx, b, testRequest("t1", "x"), json.RawMessage(`{"k":1}`))
	id := nextEvent(t, events, EventRequested).Request.ID

	recs, _ := store.List(context.Background())
	if len(recs) != 1 || string(recs[0].State) != `{"k":1}` {
		t.Fatalf("request must be persisted with its state, got %+v", recs)
	}

	cancel()
	r := awaitResult(t, res)
	if !errors.Is(r.err, ErrCancelled) || !errors.Is(r.err, context.Canceled) {
		t.Errorf("got %v, want ErrCancelled wrapping context.Canceled", r.err)
	}
	if _, ok := b.Get(id); ok {
		t.Error("cancelled request must leave the pending table")
	}
	recs, _ = store.List(context.Background())
	if len(recs) != 0 {
		t.Errorf("cancelled request must leave the store, got %d records", len(recs))
	}
	nextEvent(t, events, EventCancelled)
}

func TestBroker_ShutdownKeepsRecord(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	b := newTestBroker(store)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancelCause(context.Background())
	res := submitAsync(ctx, b, testRequest("t1", "x"), json.RawMessage(`{}`))
	id := nextEvent(t, events, EventRequested).Request.ID

	cancel(ErrShutdown)
	r := awaitResult(t, res)
	if !errors.Is(r.err, ErrShutdown) {
		t.Errorf("got %v, want ErrShutdown cause", r.err)
	}

	// A new broker over the same store sees the request.
	restored, err := newTestBroker(store).Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(restored) != 1 || restored[0].Request.ID != id {
		t.Fatalf("restored = %+v, want request %s", restored, id)
	}
	if err := b.Forget(context.Background(), id); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if recs, _ := store.List(context.Background()); len(recs) != 0 {
		t.Errorf("Forget must delete the record, %d left", len(recs))
	}
}

type failingStore struct{ MemoryStore }

func (*failingStore) Save(context.Context, Record) error { return errors.New("disk full") }

func TestBroker_SaveFailureLeavesNoEntry(t *testing.T) {
	t.Parallel()

	b := newTestBroker(&failingStore{})
	_, err := b.Submit(context.Background(), testRequest("t1", "x"), nil)
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if len(b.Pending()) != 0 {
		t.Error("failed submission must not leave a pending entry")
	}
}

func TestBroker_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := newTestBroker(nil)
	events, unsubscribe := b.Subscribe()
	unsubscribe()
	unsubscribe()

	if _, ok := <-events; ok {
		t.Error("channel must be closed after unsubscribe")
	}
}

func TestBroker_ResolveAfterCancel(t *testing.T) {
	t.Parallel()

	b := newTestBroker(nil)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	res := submitAsync(ctx, b, testRequest("t1", "send_research_email"), nil)
	id := nextEvent(t, events, EventRequested).Request.ID

	cancel()
	// Submit may not have observed the cancellation yet.
	if err := b.Resolve(id, Accept{}); !errors.Is(err, ErrCancelled) {
		t.Errorf("decision right after cancel: got %v, want ErrCancelled", err)
	}

	r := awaitResult(t, res)
	if !errors.Is(r.err, ErrCancelled) || r.decision != nil {
		t.Errorf("Submit = (%v, %v), want ErrCancelled and no decision", r.decision, r.err)
	}
	if err := b.Resolve(id, Accept{}); !errors.Is(err, ErrCancelled) {
		t.Errorf("decision after Submit returned: got %v, want ErrCancelled", err)
	}

	ev := nextEvent(t, events, EventCancelled)
	if ev.Request.ID != id {
		t.Errorf("cancelled event for %s, want %s", ev.Request.ID, id)
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected %s event after cancellation", ev.Type)
	default:
	}
}

func TestBroker_UntaggedRequestsAreIndependent(t *testing.T) {
	t.Parallel()

	b := newTestBroker(nil)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	first := submitAsync(context.Background(), b, testRequest("", "x"), nil)
	firstID := nextEvent(t, events, EventRequested).Request.ID
	second := submitAsync(context.Background(), b, testRequest("", "x"), nil)
	secondID := nextEvent(t, events, EventRequested).Request.ID

	if err := b.Resolve(secondID, Ignore{}); err != nil {
		t.Fatalf("requests without a task must not be ordered: %v", err)
	}
	if r := awaitResult(t, second); r.err != nil || r.decision.Kind() != KindIgnore {
		t.Errorf("second = (%v, %v), want ignore", r.decision, r.err)
	}
	if err := b.Resolve(firstID, Accept{}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if r := awaitResult(t, first); r.err != nil || r.decision.Kind() != KindAccept {
		t.Errorf("first = (%v, %v), want accept", r.decision, r.err)
	}
}

func TestBroker_LaggingSubscriberIsClosed(t *testing.T) {
	t.Parallel()

	b := newTestBroker(nil)
	lagging, unsubscribe := b.Subscribe()

	for i := 0; i <= subscriberBuffer; i++ {
		b.publish(Event{Type: EventRequested, Request: ActionRequest{ID: "r"}})
	}

	n := 0
	for range lagging {
		n++
	}
	if n != subscriberBuffer {
		t.Errorf("received %d buffered events before close, want %d", n, subscriberBuffer)
	}
	// Unsubscribing a dropped subscriber is a no-op.
	unsubscribe()

	events, unsubscribe := b.Subscribe()
	defer unsubscribe()
	b.publish(Event{Type: EventResolved, Request: ActionRequest{ID: "r"}})
	if ev := <-events; ev.Type != EventResolved {
		t.Errorf("resubscribed stream got %s", ev.Type)
	}
}

func TestBroker_EditMustNameReviewedTool(t *testing.T) {
	t.Parallel()

	b := newTestBroker(nil)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	res := submitAsync(context.Background(), b, testRequest("t1", "send_research_email"), nil)
	id := nextEvent(t, events, EventRequested).Request.ID

	redirect := Edit{Action: "create_todo_plan", Args: tool.Args{"email": "c@d.com"}}
	if err := b.Resolve(id, redirect); !errors.Is(err, ErrMalformedDecision) {
		t.Fatalf("edit naming another tool: got %v, want ErrMalformedDecision", err)
	}
	if _, ok := b.Get(id); !ok {
		t.Fatal("rejected edit must leave the request pending")
	}

	if err := b.Resolve(id, Edit{Action: "send_research_email", Args: tool.Args{"to": "c@d.com"}}); err != nil {
		t.Fatalf("edit naming the reviewed tool: %v", err)
	}
	if r := awaitResult(t, res); r.err != nil || r.decision.(Edit).Args.String("to") != "c@d.com" {
		t.Errorf("Submit = (%v, %v)", r.decision, r.err)
	}
}
