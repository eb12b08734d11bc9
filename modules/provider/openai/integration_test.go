//go:build integration

package openai

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/flemzord/scout/internal/provider"
)

// Run with: go test -tags=integration ./modules/provider/openai/...

func TestIntegration_Complete(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration test")
	}

	p, err := New(Config{APIKey: apiKey, Model: "gpt-4o-mini"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := p.Complete(reqCtx, provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleUser, Content: "Say exactly: hello"},
		},
		MaxTokens: 10,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content == "" {
		t.Error("expected non-empty content")
	}
	t.Logf("Response: %q (tokens: %+v)", resp.Content, resp.Usage)
}
