package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flemzord/scout/internal/provider"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{APIKey: "sk-test", Model: "gpt-4o", BaseURL: srv.URL}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func readRequestBody(t *testing.T, r *http.Request) chatRequest {
	t.Helper()
	body, _ := io.ReadAll(r.Body)
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("invalid request body: %v", err)
	}
	return req
}

func finalReport(t *testing.T, w http.ResponseWriter) {
	t.Helper()
	writeJSON(t, w, chatResponse{Choices: []chatChoice{{
		Message:      chatMessage{Role: "assistant", Content: "Report sent."},
		FinishReason: "stop",
	}}})
}

var researchTask = []provider.LLMMessage{
	{Role: provider.MessageRoleSystem, Content: "You are a research assistant."},
	{Role: provider.MessageRoleUser, Content: "Research AI news and email alice@example.com"},
}

func TestComplete_PlannerProposesSearch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("headers = %v", r.Header)
		}
		req := readRequestBody(t, r)
		if req.Model != "gpt-4o" || len(req.Messages) != 2 || len(req.Tools) != 2 {
			t.Errorf("request = model %q, %d messages, %d tools", req.Model, len(req.Messages), len(req.Tools))
		}
		writeJSON(t, w, chatResponse{
			Choices: []chatChoice{{
				Message: chatMessage{Role: "assistant", ToolCalls: []chatToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: chatFunctionCall{Name: "internet_search", Arguments: `{"query":"AI news"}`},
				}}},
				FinishReason: "tool_calls",
			}},
			Usage: provider.TokenUsage{PromptTokens: 120, CompletionTokens: 18, TotalTokens: 138},
		})
	})

	p := newTestProvider(t, handler)
	resp, err := p.Complete(context.Background(), provider.CompletionRequest{
		Messages: researchTask,
		Tools: []provider.ToolDefinition{
			{Name: "internet_search", Description: "Search the web", Parameters: json.RawMessage(`{"type":"object"}`)},
			{Name: "send_research_email", Description: "Email the report", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.FinishReason != provider.FinishReasonToolUse || len(resp.ToolCalls) != 1 {
		t.Fatalf("response = %+v, want one proposed call", resp)
	}
	if call := resp.ToolCalls[0]; call.ID != "call_1" || call.Name != "internet_search" || string(call.Arguments) != `{"query":"AI news"}` {
		t.Errorf("call = %+v", call)
	}
	if resp.Usage.TotalTokens != 138 {
		t.Errorf("total_tokens = %d, want 138", resp.Usage.TotalTokens)
	}
}

func TestComplete_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    error
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"Rate limit exceeded"}}`, provider.ErrRateLimit},
		{"context length message", http.StatusBadRequest, `{"error":{"message":"This model's maximum context_length is 8192 tokens"}}`, provider.ErrContextLength},
		{"context length code", http.StatusBadRequest, `{"error":{"message":"Please reduce the length of the messages.","code":"context_length_exceeded"}}`, provider.ErrContextLength},
		{"overloaded", http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`, provider.ErrProviderDown},
		{"bad key", http.StatusUnauthorized, `{"error":{"message":"Invalid API key"}}`, provider.ErrAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
				if _, err := w.Write([]byte(tt.body)); err != nil {
					t.Errorf("failed to write error body: %v", err)
				}
			})

			p := newTestProvider(t, handler)
			_, err := p.Complete(context.Background(), provider.CompletionRequest{Messages: researchTask})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestComplete_Sampling(t *testing.T) {
	tests := []struct {
		name          string
		requestTokens int
		wantTokens    int
	}{
		{"configured limit", 0, 1000},
		{"turn override", 500, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got chatRequest
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = readRequestBody(t, r)
				finalReport(t, w)
			})

			temperature := 0.2
			p := newTestProvider(t, handler)
			p.config.Temperature = &temperature
			p.config.MaxTokens = 1000

			_, err := p.Complete(context.Background(), provider.CompletionRequest{Messages: researchTask, MaxTokens: tt.requestTokens})
			if err != nil {
				t.Fatalf("Complete() error: %v", err)
			}
			if got.MaxTokens != tt.wantTokens {
				t.Errorf("max_tokens = %d, want %d", got.MaxTokens, tt.wantTokens)
			}
			if got.Temperature == nil || *got.Temperature != temperature {
				t.Errorf("temperature = %v, want the configured %v", got.Temperature, temperature)
			}
		})
	}
}

func TestComplete_OmitsUnsetSampling(t *testing.T) {
	var raw map[string]any
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &raw); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		finalReport(t, w)
	})

	p := newTestProvider(t, handler)
	if _, err := p.Complete(context.Background(), provider.CompletionRequest{Messages: researchTask}); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	for _, key := range []string{"temperature", "max_tokens", "tools"} {
		if _, ok := raw[key]; ok {
			t.Errorf("%s sent without being configured: %v", key, raw[key])
		}
	}
}

func TestComplete_ContextCancellation(t *testing.T) {
	handler := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		time.Sleep(5 * time.Second)
	})

	p := newTestProvider(t, handler)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Complete(ctx, provider.CompletionRequest{Messages: researchTask})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, chatResponse{})
	})

	p := newTestProvider(t, handler)
	_, err := p.Complete(context.Background(), provider.CompletionRequest{Messages: researchTask})
	if !errors.Is(err, provider.ErrProviderDown) {
		t.Errorf("err = %v, want ErrProviderDown", err)
	}
}

func TestComplete_SendsToolResults(t *testing.T) {
	var receivedReq chatRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedReq = readRequestBody(t, r)
		finalReport(t, w)
	})

	p := newTestProvider(t, handler)
	_, err := p.Complete(context.Background(), provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleUser, Content: "AI news"},
			{Role: provider.MessageRoleAssistant, ToolCalls: []provider.ToolCall{
				{ID: "call_1", Name: "internet_search", Arguments: json.RawMessage(`{"query":"AI news"}`)},
			}},
			{Role: provider.MessageRoleTool, ToolID: "call_1", Content: "[]"},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if len(receivedReq.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(receivedReq.Messages))
	}
	if tc := receivedReq.Messages[1].ToolCalls; len(tc) != 1 || tc[0].Function.Arguments != `{"query":"AI news"}` {
		t.Errorf("assistant tool calls = %+v", tc)
	}
	if receivedReq.Messages[2].ToolCallID != "call_1" {
		t.Errorf("tool_call_id = %q", receivedReq.Messages[2].ToolCallID)
	}
}

func TestModelName(t *testing.T) {
	p := &Provider{config: Config{Model: "gpt-4o"}}
	if p.ModelName() != "gpt-4o" {
		t.Errorf("ModelName() = %q, want gpt-4o", p.ModelName())
	}
}
