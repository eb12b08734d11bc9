// Package reviewer answers pending action requests from an interactive
// terminal. It follows the broker's event stream, prompts for one request
// at a time and resolves it with the reviewer's decision.
package reviewer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/flemzord/scout/internal/approval"
)

// Prompter asks a human for the decision on one request. It must return
// promptly once ctx ends.
type Prompter interface {
	Review(ctx context.Context, req approval.ActionRequest) (approval.Decision, error)
}

// Terminal drives a Prompter from broker events.
type Terminal struct {
	broker   *approval.Broker
	prompter Prompter
	logger   *slog.Logger

	mu           sync.Mutex
	queue        []approval.ActionRequest
	seen         map[string]struct{}
	active       string
	cancelActive context.CancelFunc
	wake         chan struct{}
}

// New creates a terminal reviewer.
func New(broker *approval.Broker, prompter Prompter, logger *slog.Logger) *Terminal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Terminal{
		broker:   broker,
		prompter: prompter,
		logger:   logger,
		seen:     make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Run reviews requests in issue order until ctx ends. Requests already
// pending when Run starts are reviewed first. A request settled elsewhere
// (another channel, a cancelled task) is withdrawn from the prompt.
func (t *Terminal) Run(ctx context.Context) error {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	events, unsubscribe := t.broker.Subscribe()
	t.sync(t.broker.Pending())
	go func() {
		defer func() { unsubscribe() }()
		for t.watch(watchCtx, events) {
			// Dropped for lagging: subscribe again and reconcile with the
			// pending table, which is authoritative.
			t.logger.Warn("review event stream lagged, resubscribing")
			unsubscribe()
			events, unsubscribe = t.broker.Subscribe()
			t.sync(t.broker.Pending())
		}
	}()

	for {
		req, ok := t.next(ctx)
		if !ok {
			return ctx.Err()
		}
		t.review(ctx, req)
	}
}

// watch applies events until ctx ends or the broker closes the stream. It
// reports whether the stream was closed.
func (t *Terminal) watch(ctx context.Context, events <-chan approval.Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return ctx.Err() == nil
			}
			switch ev.Type {
			case approval.EventRequested:
				t.enqueue(ev.Request)
			case approval.EventResolved, approval.EventCancelled:
				t.withdraw(ev.Request.ID)
			}
		}
	}
}

// sync enqueues pending requests and withdraws anything no longer pending.
func (t *Terminal) sync(pending []approval.ActionRequest) {
	open := make(map[string]struct{}, len(pending))
	for _, req := range pending {
		open[req.ID] = struct{}{}
		t.enqueue(req)
	}

	t.mu.Lock()
	var stale []string
	for id := range t.seen {
		if _, ok := open[id]; !ok {
			stale = append(stale, id)
		}
	}
	t.mu.Unlock()
	for _, id := range stale {
		t.withdraw(id)
	}
}

func (t *Terminal) enqueue(req approval.ActionRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.seen[req.ID]; dup {
		return
	}
	t.seen[req.ID] = struct{}{}
	t.queue = append(t.queue, req)

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// withdraw forgets a settled request, dropping it from the queue and
// interrupting its prompt if it is on screen.
func (t *Terminal) withdraw(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, id)
	for i, req := range t.queue {
		if req.ID == id {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			break
		}
	}
	if t.active == id && t.cancelActive != nil {
		t.cancelActive()
	}
}

func (t *Terminal) next(ctx context.Context) (approval.ActionRequest, bool) {
	for {
		t.mu.Lock()
		if len(t.queue) > 0 {
			req := t.queue[0]
			t.queue = t.queue[1:]
			t.mu.Unlock()
			return req, true
		}
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return approval.ActionRequest{}, false
		case <-t.wake:
		}
	}
}

func (t *Terminal) review(ctx context.Context, req approval.ActionRequest) {
	logger := t.logger.With("request_id", req.ID, "task_id", req.TaskID, "tool", req.Action.Action)

	// The broker may have settled the request while it sat in the queue.
	if _, ok := t.broker.Get(req.ID); !ok {
		t.withdraw(req.ID)
		return
	}

	reviewCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.active = req.ID
	t.cancelActive = cancel
	t.mu.Unlock()

	d, err := t.prompter.Review(reviewCtx, req)

	t.mu.Lock()
	t.active = ""
	t.cancelActive = nil
	t.mu.Unlock()
	withdrawn := reviewCtx.Err() != nil && ctx.Err() == nil
	cancel()

	switch {
	case withdrawn:
		logger.Info("request settled elsewhere")
		return
	case err != nil:
		if ctx.Err() == nil {
			logger.Error("terminal review failed", "error", err)
		}
		return
	}

	if err := t.broker.Resolve(req.ID, d); err != nil {
		if errors.Is(err, approval.ErrUnknownRequest) ||
			errors.Is(err, approval.ErrAlreadyResolved) ||
			errors.Is(err, approval.ErrCancelled) {
			logger.Info("request settled elsewhere", "error", err)
			return
		}
		logger.Warn("resolving request", "error", err)
	}
}
