package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/scout/internal/research"
)

// starting marks a schedule whose task has not been assigned an id yet.
const starting = "(starting)"

// Scheduler starts research tasks on their schedules. A schedule whose
// previous task has not settled, for instance because an email is still
// waiting for a reviewer, skips its tick.
type Scheduler struct {
	tasks  Tasks
	logger *slog.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	schedules []Schedule
	entries   map[string]cron.EntryID
	inflight  map[string]string
	skipped   map[string]int
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler that starts tasks through tasks.
func NewScheduler(tasks Tasks, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tasks:    tasks,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
		inflight: make(map[string]string),
		skipped:  make(map[string]int),
	}
}

// Add registers sched. It must be called before Start.
func (s *Scheduler) Add(sched Schedule) error {
	if err := ValidateSchedule(sched.Cron); err != nil {
		return fmt.Errorf("cron: schedule %q: %w", sched.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.schedules {
		if existing.Name == sched.Name {
			return fmt.Errorf("cron: duplicate schedule %q", sched.Name)
		}
	}
	s.schedules = append(s.schedules, sched)
	return nil
}

// Start begins firing schedules. Tasks inherit the values of ctx and their
// waits are cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithParser(parser))
	for _, sched := range s.schedules {
		id, err := c.AddFunc(sched.Cron, func() { _ = s.fire(runCtx, sched) })
		if err != nil {
			cancel()
			return fmt.Errorf("cron: schedule %q: %w", sched.Name, err)
		}
		s.entries[sched.Name] = id
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	s.logger.Info("cron: scheduler started", "schedules", len(s.schedules))
	return nil
}

// fire starts the schedule's task and waits for it to settle. It returns
// false when the tick was skipped.
func (s *Scheduler) fire(ctx context.Context, sched Schedule) bool {
	s.mu.Lock()
	if id, busy := s.inflight[sched.Name]; busy {
		s.skipped[sched.Name]++
		s.mu.Unlock()
		s.logger.Warn("cron: previous task has not settled, skipping tick", "schedule", sched.Name, "task", id)
		return false
	}
	s.inflight[sched.Name] = starting
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, sched.Name)
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := s.research(ctx, sched); err != nil {
		s.logger.Error("cron: scheduled research failed", "schedule", sched.Name, "duration", time.Since(start), "error", err)
		return true
	}
	s.logger.Info("cron: scheduled research completed", "schedule", sched.Name, "duration", time.Since(start))
	return true
}

func (s *Scheduler) research(ctx context.Context, sched Schedule) error {
	task, err := s.tasks.Start(ctx, sched.Prompt)
	if err != nil {
		return fmt.Errorf("starting task: %w", err)
	}
	s.mu.Lock()
	s.inflight[sched.Name] = task.ID
	s.mu.Unlock()
	s.logger.Info("cron: research task started", "schedule", sched.Name, "task", task.ID)

	final, err := s.tasks.Wait(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("waiting for task %s: %w", task.ID, err)
	}
	if final.State != research.StateCompleted {
		return fmt.Errorf("task %s ended %s: %s", final.ID, final.State, final.Error)
	}
	return nil
}

// Status lists the schedules in registration order. Next is zero until
// Start. A nil Scheduler has no schedules.
func (s *Scheduler) Status() []Status {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.schedules))
	for _, sched := range s.schedules {
		st := Status{Name: sched.Name, Cron: sched.Cron, Task: s.inflight[sched.Name], Skipped: s.skipped[sched.Name]}
		if id, ok := s.entries[sched.Name]; ok && s.cron != nil {
			st.Next = s.cron.Entry(id).Next
		}
		out = append(out, st)
	}
	return out
}

// Stop stops firing, cancels the waits of running schedules and waits for
// them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return nil
	}
	// Running schedules take s.mu as they finish, so it is not held here.
	select {
	case <-c.Stop().Done():
		s.logger.Info("cron: scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
