package cron

import "context"

// FireNow runs one tick of the named schedule synchronously.
func (s *Scheduler) FireNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	var sched Schedule
	for _, candidate := range s.schedules {
		if candidate.Name == name {
			sched = candidate
		}
	}
	s.mu.Unlock()
	return s.fire(ctx, sched)
}
