// Package providertest provides test helpers for the provider package.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/flemzord/scout/internal/provider"
)

// MockProvider is a configurable test double for provider.Provider.
// Set CompleteFunc to control behavior. All methods are safe for
// concurrent use.
type MockProvider struct {
	CompleteFunc  func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error)
	ModelNameFunc func() string

	mu       sync.Mutex
	requests []provider.CompletionRequest
}

// Complete delegates to CompleteFunc and records the request.
func (m *MockProvider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

// ModelName delegates to ModelNameFunc, defaulting to "mock-model".
func (m *MockProvider) ModelName() string {
	if m.ModelNameFunc == nil {
		return "mock-model"
	}
	return m.ModelNameFunc()
}

// CompleteCalls returns how many times Complete was called.
func (m *MockProvider) CompleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received, in order.
func (m *MockProvider) Requests() []provider.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.CompletionRequest(nil), m.requests...)
}

// Scripted returns a MockProvider that replays responses in order and
// fails once they run out.
func Scripted(responses ...provider.CompletionResponse) *MockProvider {
	var mu sync.Mutex
	idx := 0
	return &MockProvider{
		CompleteFunc: func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			if idx >= len(responses) {
				return provider.CompletionResponse{}, fmt.Errorf("no more mock responses")
			}
			resp := responses[idx]
			idx++
			return resp, nil
		},
	}
}

// Interface guard.
var _ provider.Provider = (*MockProvider)(nil)
