// Package openai bridges scout's planner to the OpenAI Chat Completions
// API, or any endpoint that speaks it, with function calling.
package openai

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/scout/internal/provider"
)

// Compile-time interface guard.
var _ provider.Provider = (*Provider)(nil)

// Provider implements provider.Provider over the Chat Completions API.
type Provider struct {
	config Config
	apiKey string
	logger *slog.Logger
	client *http.Client
}

// Configure decodes the provider settings node and builds the client.
func Configure(node *yaml.Node, logger *slog.Logger) (*Provider, error) {
	var cfg Config
	if node != nil && node.Kind != 0 {
		if err := node.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("provider.openai: %w", err)
		}
	}
	return New(cfg, logger)
}

// New builds the provider from cfg.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.resolveAPIKey()
	var errs []error
	if apiKey == "" {
		errs = append(errs, errors.New("provider.openai: no API key (set api_key, api_key_env or OPENAI_API_KEY)"))
	}
	if cfg.Model == "" {
		errs = append(errs, errors.New("provider.openai: model is required"))
	}
	if cfg.Timeout < 0 {
		errs = append(errs, fmt.Errorf("provider.openai: invalid timeout %s", cfg.Timeout))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Provider{
		config: cfg,
		apiKey: apiKey,
		logger: logger,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// resolveAPIKey applies the precedence api_key, then the variable named by
// api_key_env, then OPENAI_API_KEY.
func (c *Config) resolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		if v, ok := os.LookupEnv(c.APIKeyEnv); ok {
			return v
		}
	}
	return os.Getenv("OPENAI_API_KEY")
}
