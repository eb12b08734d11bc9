// Package provider defines the Provider interface for the planner LLM, the
// conversation types exchanged with it, and a retrying wrapper for
// transient failures.
package provider

import "context"

// Provider is the interface for communicating with an LLM.
// Concrete implementations live in separate packages under modules/provider.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}
