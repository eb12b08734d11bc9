package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flemzord/scout/internal/provider"
)

// maxResponseSize is the maximum response body size (10 MB).
// Protects against OOM from malformed or huge responses.
const maxResponseSize = 10 * 1024 * 1024

// buildChatRequest maps one planner turn to a Chat Completions request.
// A request-level max tokens overrides the configured one.
func (p *Provider) buildChatRequest(req provider.CompletionRequest) chatRequest {
	cr := chatRequest{
		Model:    p.config.Model,
		Messages: chatMessages(req.Messages),
	}

	if len(req.Tools) > 0 {
		cr.Tools = chatTools(req.Tools)
	}

	cr.MaxTokens = p.config.MaxTokens
	if req.MaxTokens > 0 {
		cr.MaxTokens = req.MaxTokens
	}
	cr.Temperature = p.config.Temperature
	return cr
}

// doPost sends an authenticated POST and returns the response body and
// status code. The body is limited to maxResponseSize bytes.
func (p *Provider) doPost(ctx context.Context, path string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.config.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, 0, provider.TransportError("openai", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("openai: read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// Complete sends a completion request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	body, statusCode, err := p.doPost(ctx, "/chat/completions", p.buildChatRequest(req))
	if err != nil {
		return provider.CompletionResponse{}, err
	}

	if httpErr := responseError(statusCode, body); httpErr != nil {
		return provider.CompletionResponse{}, httpErr
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("openai: unmarshal response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return provider.CompletionResponse{}, fmt.Errorf("%w: response has no choices", provider.ErrProviderDown)
	}

	out := completion(&resp)
	p.logger.Debug("openai completion",
		"model", p.config.Model,
		"finish_reason", string(out.FinishReason),
		"tool_calls", len(out.ToolCalls),
		"total_tokens", out.Usage.TotalTokens,
	)
	return out, nil
}

// ModelName returns the configured model identifier.
func (p *Provider) ModelName() string {
	return p.config.Model
}
