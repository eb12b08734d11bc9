// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"fmt"
	"sync"

	"github.com/flemzord/scout/internal/cron"
	"github.com/flemzord/scout/internal/research"
)

// MockTasks is a test double for cron.Tasks. Tasks settle in Final, or in
// StateCompleted when Final is nil. When Hold is non-nil, Wait blocks until
// it is closed, as if the task were waiting for a reviewer.
type MockTasks struct {
	StartErr error
	WaitErr  error
	Final    func(id string) research.Task
	Hold     chan struct{}

	mu      sync.Mutex
	prompts []string
	waiting chan string
}

var _ cron.Tasks = (*MockTasks)(nil)

// Start implements cron.Tasks.
func (m *MockTasks) Start(_ context.Context, prompt string) (research.Task, error) {
	if m.StartErr != nil {
		return research.Task{}, m.StartErr
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	id := fmt.Sprintf("task-%d", len(m.prompts))
	m.mu.Unlock()
	return research.Task{ID: id, Prompt: prompt, State: research.StateRunning}, nil
}

// Wait implements cron.Tasks.
func (m *MockTasks) Wait(ctx context.Context, id string) (research.Task, error) {
	if m.Hold != nil {
		m.Waiting() <- id
		select {
		case <-m.Hold:
		case <-ctx.Done():
			return research.Task{}, ctx.Err()
		}
	}
	if m.WaitErr != nil {
		return research.Task{}, m.WaitErr
	}
	if m.Final != nil {
		return m.Final(id), nil
	}
	return research.Task{ID: id, State: research.StateCompleted}, nil
}

// Waiting receives the id of each task that blocks on Hold.
func (m *MockTasks) Waiting() chan string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiting == nil {
		m.waiting = make(chan string, 16)
	}
	return m.waiting
}

// Prompts returns the prompts passed to Start, in call order.
func (m *MockTasks) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
