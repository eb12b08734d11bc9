package approval

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/scout/internal/metrics"
)

// EventType identifies a broker notification.
type EventType string

// Broker event types.
const (
	EventRequested EventType = "requested"
	EventResolved  EventType = "resolved"
	EventCancelled EventType = "cancelled"
)

// Event is delivered to subscribers when the pending table changes.
type Event struct {
	Type     EventType     `json:"type"`
	Request  ActionRequest `json:"request"`
	Decision DecisionKind  `json:"decision,omitempty"`
}

// subscriberBuffer is the per-subscriber event backlog. A subscriber whose
// buffer is full is unsubscribed and its channel closed; it must subscribe
// again and replay Pending.
const subscriberBuffer = 64

// settledMemory bounds how many settled ids are remembered so a late
// decision reports ErrAlreadyResolved or ErrCancelled rather than
// ErrUnknownRequest.
const settledMemory = 1024

// BrokerConfig configures a Broker.
type BrokerConfig struct {
	// Store persists pending requests. Defaults to a MemoryStore.
	Store Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Now overrides time.Now for testing.
	Now func() time.Time
}

type pendingEntry struct {
	req      ActionRequest
	ctx      context.Context
	seq      uint64
	decision chan Decision
	resolved bool
}

// open reports whether the entry still awaits a decision.
func (e *pendingEntry) open() bool { return !e.resolved && e.ctx.Err() == nil }

// Broker owns the pending table. A suspended caller blocks in Submit until
// Resolve delivers the decision for its exact request id.
type Broker struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	seq     uint64
	pending map[string]*pendingEntry
	queues  map[string][]string
	settled map[string]error
	ring    []string
	subs    map[uint64]chan Event
	subSeq  uint64
}

// NewBroker creates a Broker.
func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Broker{
		store:   cfg.Store,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		pending: make(map[string]*pendingEntry),
		queues:  make(map[string][]string),
		settled: make(map[string]error),
		subs:    make(map[uint64]chan Event),
	}
}

// Submit inserts req into the pending table, persists it with state, and
// blocks until a decision arrives or ctx ends. Requests of the same task
// are resolved in issue order; requests without a task id are independent.
// The entry is always removed before Submit returns. The stored copy is removed too, unless ctx was
// cancelled with ErrShutdown as its cause.
func (b *Broker) Submit(ctx context.Context, req ActionRequest, state json.RawMessage) (Decision, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = b.now()
	}
	if req.Description == "" {
		req.Description = ReviewDescription
	}

	entry := &pendingEntry{req: req, ctx: ctx, decision: make(chan Decision, 1)}

	b.mu.Lock()
	if _, exists := b.pending[req.ID]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.ID)
	}
	b.seq++
	entry.seq = b.seq
	b.pending[req.ID] = entry
	if req.TaskID != "" {
		b.queues[req.TaskID] = append(b.queues[req.TaskID], req.ID)
	}
	delete(b.settled, req.ID)
	b.mu.Unlock()
	b.metrics.ApprovalRequested(req.Action.Action)

	keepStored := false
	defer func() {
		b.remove(req)
		if !keepStored {
			if err := b.store.Delete(context.WithoutCancel(ctx), req.ID); err != nil {
				b.logger.Error("approval store delete failed", "request_id", req.ID, "error", err)
			}
		}
	}()

	if err := b.store.Save(ctx, Record{Request: req, State: state}); err != nil {
		return nil, fmt.Errorf("persisting action request %s: %w", req.ID, err)
	}

	b.logger.Info("approval requested",
		"request_id", req.ID,
		"task_id", req.TaskID,
		"tool", req.Action.Action,
	)
	b.publish(Event{Type: EventRequested, Request: req})

	select {
	case d := <-entry.decision:
		return d, nil
	case <-ctx.Done():
		keepStored = errors.Is(context.Cause(ctx), ErrShutdown)

		// A decision accepted before the cancellation wins.
		b.mu.Lock()
		if entry.resolved {
			b.mu.Unlock()
			return <-entry.decision, nil
		}
		b.removeLocked(req)
		b.remember(req.ID, ErrCancelled)
		b.mu.Unlock()

		b.publish(Event{Type: EventCancelled, Request: req})
		b.logger.Info("approval cancelled",
			"request_id", req.ID,
			"task_id", req.TaskID,
			"tool", req.Action.Action,
			"kept_for_recovery", keepStored,
		)
		return nil, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
}

// Resolve delivers d to the caller suspended on request id. A request whose
// caller was cancelled cannot be resolved and reports ErrCancelled.
func (b *Broker) Resolve(id string, d Decision) error {
	if d == nil {
		return fmt.Errorf("%w: nil decision", ErrMalformedDecision)
	}

	b.mu.Lock()
	entry, ok := b.pending[id]
	if !ok {
		err, settled := b.settled[id]
		b.mu.Unlock()
		if settled {
			return fmt.Errorf("%w: %s", err, id)
		}
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if entry.resolved {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}
	if entry.ctx.Err() != nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCancelled, id)
	}
	if e, ok := d.(Edit); ok && e.Action != "" && e.Action != entry.req.Action.Action {
		b.mu.Unlock()
		return fmt.Errorf("%w: edit names %q but request %s is for %q",
			ErrMalformedDecision, e.Action, id, entry.req.Action.Action)
	}
	if tid := entry.req.TaskID; tid != "" {
		if q := b.queues[tid]; len(q) > 0 && q[0] != id {
			b.mu.Unlock()
			return fmt.Errorf("%w: %s is queued behind %s", ErrOutOfOrder, id, q[0])
		}
	}
	entry.resolved = true
	b.remember(id, ErrAlreadyResolved)
	entry.decision <- d
	req := entry.req
	b.mu.Unlock()

	b.logger.Info("approval resolved",
		"request_id", id,
		"task_id", req.TaskID,
		"tool", req.Action.Action,
		"decision", string(d.Kind()),
	)
	b.publish(Event{Type: EventResolved, Request: req, Decision: d.Kind()})
	return nil
}

// Get returns the pending request with the given id.
func (b *Broker) Get(id string) (ActionRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.pending[id]
	if !ok || !e.open() {
		return ActionRequest{}, false
	}
	return e.req, true
}

// Pending lists requests still awaiting a decision, in issue order.
func (b *Broker) Pending() []ActionRequest {
	b.mu.Lock()
	entries := make([]*pendingEntry, 0, len(b.pending))
	for _, e := range b.pending {
		if e.open() {
			entries = append(entries, e)
		}
	}
	b.mu.Unlock()

	slices.SortFunc(entries, func(a, b *pendingEntry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]ActionRequest, len(entries))
	for i, e := range entries {
		out[i] = e.req
	}
	return out
}

// Subscribe returns a channel of broker events and a function that
// unsubscribes and closes it.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subSeq++
	id := b.subSeq
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.dropSubscriber(id)
	}
}

// Restore returns the requests persisted by a previous process, oldest
// first. Callers resubmit them with Submit to wait for their decisions.
func (b *Broker) Restore(ctx context.Context) ([]Record, error) {
	recs, err := b.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading persisted action requests: %w", err)
	}
	SortRecords(recs)
	return recs, nil
}

// Forget drops a persisted request that will not be resumed.
func (b *Broker) Forget(ctx context.Context, id string) error {
	return b.store.Delete(ctx, id)
}

func (b *Broker) remove(req ActionRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(req)
}

// removeLocked must be called with b.mu held.
func (b *Broker) removeLocked(req ActionRequest) {
	if _, ok := b.pending[req.ID]; !ok {
		return
	}
	delete(b.pending, req.ID)
	b.metrics.ApprovalSettled()
	if req.TaskID == "" {
		return
	}
	q := b.queues[req.TaskID]
	if i := slices.Index(q, req.ID); i >= 0 {
		q = slices.Delete(q, i, i+1)
	}
	if len(q) == 0 {
		delete(b.queues, req.TaskID)
	} else {
		b.queues[req.TaskID] = q
	}
}

// remember records how id settled. It must be called with b.mu held.
func (b *Broker) remember(id string, outcome error) {
	b.settled[id] = outcome
	b.ring = append(b.ring, id)
	if len(b.ring) > settledMemory {
		delete(b.settled, b.ring[0])
		b.ring = b.ring[1:]
	}
}

// dropSubscriber must be called with b.mu held.
func (b *Broker) dropSubscriber(id uint64) {
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("closing lagging approval subscriber",
				"type", string(ev.Type),
				"request_id", ev.Request.ID,
			)
			b.dropSubscriber(id)
		}
	}
}
