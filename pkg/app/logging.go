package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/flemzord/scout/internal/config"
	"github.com/flemzord/scout/internal/security"
)

// newLogger builds the process logger. Every handler is wrapped in a
// RedactingHandler so configured secrets never reach the output.
func newLogger(cfg config.LogConfig, params Params, redactor *security.Redactor) (*slog.Logger, error) {
	level := slog.LevelInfo
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("app: log.level: %w", err)
		}
	}
	if params.LogLevel != nil {
		level = *params.LogLevel
	}

	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	switch cfg.Format {
	case "", "text":
		inner = slog.NewTextHandler(out, opts)
	case "json":
		inner = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("app: log.format %q must be text or json", cfg.Format)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor)), nil
}

// newRedactor masks every secret of cfg on top of the known key formats.
func newRedactor(cfg *config.Config) *security.Redactor {
	return security.NewRedactor(secrets(cfg))
}

// secrets collects the credentials of cfg and of the provider environment
// variables so the redactor can mask them verbatim.
func secrets(cfg *config.Config) security.Secrets {
	s := security.Secrets{}

	var providerKey struct {
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	}
	if cfg.Provider.Settings.Kind != 0 {
		_ = cfg.Provider.Settings.Decode(&providerKey)
	}
	s.Set(security.SecretProviderKey, providerKey.APIKey)
	if providerKey.APIKeyEnv != "" {
		s.Set(security.SecretProviderKeyEnv, os.Getenv(providerKey.APIKeyEnv))
	}
	s.Set(security.SecretAnthropicEnv, os.Getenv(security.SecretAnthropicEnv))
	s.Set(security.SecretOpenAIEnv, os.Getenv(security.SecretOpenAIEnv))
	s.Set(security.SecretSearchKey, cfg.Search.APIKey)
	s.Set(security.SecretMailPassword, cfg.Mail.Password)
	s.Set(security.SecretGatewayToken, cfg.Gateway.Auth.BearerToken)
	s.Set(security.SecretGatewayBasic, cfg.Gateway.Auth.BasicPass)

	var storeSecret struct {
		Password string `yaml:"password"`
	}
	if cfg.Approval.Store.Settings.Kind != 0 {
		_ = cfg.Approval.Store.Settings.Decode(&storeSecret)
	}
	s.Set(security.SecretStorePassword, storeSecret.Password)
	return s
}
