// Package anthropic bridges scout's planner to the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/scout/internal/provider"
)

// Interface guard.
var _ provider.Provider = (*Anthropic)(nil)

// Anthropic implements provider.Provider using the Anthropic Messages API.
type Anthropic struct {
	config Config
	client *sdkanthropic.Client
	logger *slog.Logger
}

// Configure decodes the provider settings node and builds the client.
// A nil or empty node selects the defaults.
func Configure(node *yaml.Node, logger *slog.Logger) (*Anthropic, error) {
	var cfg Config
	if node != nil && node.Kind != 0 {
		if err := node.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("provider.anthropic: %w", err)
		}
	}
	return New(cfg, logger)
}

// New builds the provider from cfg.
func New(cfg Config, logger *slog.Logger) (*Anthropic, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.resolveAPIKey()
	if apiKey == "" {
		return nil, errors.New("provider.anthropic: no API key (set api_key, api_key_env or ANTHROPIC_API_KEY)")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(cfg.Timeout),
		// Disable SDK-level retries; provider.Retrying handles them.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := sdkanthropic.NewClient(opts...)
	return &Anthropic{config: cfg, client: &client, logger: logger}, nil
}

// resolveAPIKey applies the precedence api_key, then the variable named by
// api_key_env, then ANTHROPIC_API_KEY.
func (c *Config) resolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		if v, ok := os.LookupEnv(c.APIKeyEnv); ok {
			return v
		}
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// Complete runs one planner turn against the Messages API. SDK retries are
// off, so a failure surfaces once and provider.Retrying decides.
func (a *Anthropic) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	msg, err := a.client.Messages.New(ctx, messageParams(req, &a.config))
	if err != nil {
		return provider.CompletionResponse{}, mapError(err)
	}

	resp := completion(msg)
	a.logger.Debug("planner turn",
		"provider", "anthropic",
		"model", a.config.Model,
		"stop_reason", string(msg.StopReason),
		"proposed", len(resp.ToolCalls),
		"tokens", resp.Usage.TotalTokens,
	)
	return resp, nil
}

// ModelName implements provider.Provider.
func (a *Anthropic) ModelName() string {
	return a.config.Model
}
