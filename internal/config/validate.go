package config

import (
	"errors"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"slices"

	"github.com/flemzord/scout/internal/cron"
	"github.com/flemzord/scout/internal/research"
)

// Validate checks the structural validity of a Config. Every problem is
// reported, joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	errs = append(errs, validateProvider(cfg.Provider)...)
	errs = append(errs, validateSearch(cfg.Search)...)
	errs = append(errs, validateMail(cfg)...)
	errs = append(errs, validateApproval(cfg.Approval)...)
	errs = append(errs, validateLimits(cfg)...)
	errs = append(errs, validateGateway(cfg)...)
	errs = append(errs, validateSchedules(cfg.Schedules)...)

	if cfg.Log.Level != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			errs = append(errs, fmt.Errorf("config: log.level: %w", err))
		}
	}
	if f := cfg.Log.Format; f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("config: log.format %q must be text or json", f))
	}

	return errors.Join(errs...)
}

func validateProvider(p ProviderConfig) []error {
	switch p.Kind {
	case ProviderAnthropic, ProviderOpenAI:
		return nil
	case "":
		return []error{errors.New("config: provider.kind is required (anthropic or openai)")}
	default:
		return []error{fmt.Errorf("config: unknown provider.kind %q (supported: anthropic, openai)", p.Kind)}
	}
}

func validateSearch(s SearchConfig) []error {
	var errs []error
	if s.APIKey == "" {
		errs = append(errs, errors.New("config: search.api_key is required"))
	}
	if s.RatePerMinute < 0 {
		errs = append(errs, errors.New("config: search.rate_per_minute must not be negative"))
	}
	if s.Burst < 0 {
		errs = append(errs, errors.New("config: search.burst must not be negative"))
	}
	return errs
}

func validateMail(cfg *Config) []error {
	m := cfg.Mail
	if m.Host == "" && m.From == "" {
		// Preview mode.
		return nil
	}
	var errs []error
	if m.Host == "" {
		errs = append(errs, errors.New("config: mail.host is required when mail.from is set"))
	}
	if m.From == "" {
		errs = append(errs, errors.New("config: mail.from is required when mail.host is set"))
	} else if _, err := netmail.ParseAddress(m.From); err != nil {
		errs = append(errs, fmt.Errorf("config: mail.from: %w", err))
	}
	if m.Port < 0 || m.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: mail.port %d out of range", m.Port))
	}
	if m.Username != "" && m.Password == "" {
		errs = append(errs, errors.New("config: mail.password is required when mail.username is set"))
	}
	return errs
}

func validateApproval(a ApprovalConfig) []error {
	var errs []error
	switch a.Store.Kind {
	case "", StoreMemory, StoreSQLite, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("config: unknown approval.store.kind %q (supported: memory, sqlite, redis)", a.Store.Kind))
	}

	for name, caps := range a.Capabilities {
		if !slices.Contains(research.GatedTools, name) {
			errs = append(errs, fmt.Errorf("config: approval.capabilities: %q is not a gated tool (gated: %v)", name, research.GatedTools))
			continue
		}
		if len(caps.Allowed()) == 0 {
			errs = append(errs, fmt.Errorf("config: approval.capabilities.%s allows no decision", name))
		}
	}
	return errs
}

func validateLimits(cfg *Config) []error {
	var errs []error
	a := cfg.Agent
	if a.MaxIterations < 0 || a.TokenBudget < 0 || a.LoopThreshold < 0 || a.MaxDeclines < 0 || a.CallTimeout < 0 {
		errs = append(errs, errors.New("config: agent limits must not be negative"))
	}
	if cfg.Tools.RatePerSecond < 0 || cfg.Tools.Burst < 0 {
		errs = append(errs, errors.New("config: tools rate limit must not be negative"))
	}
	if cfg.Tasks.MaxConcurrent < 0 || cfg.Tasks.RunTimeout < 0 {
		errs = append(errs, errors.New("config: tasks limits must not be negative"))
	}
	if r := cfg.Telemetry.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry.sample_rate %v must be between 0 and 1", r))
	}
	return errs
}

func validateGateway(cfg *Config) []error {
	if err := cfg.Gateway.Validate(); err != nil {
		return []error{fmt.Errorf("config: gateway: %w", err)}
	}
	return nil
}

func validateSchedules(schedules []Schedule) []error {
	var errs []error
	seen := make(map[string]struct{}, len(schedules))
	for i, s := range schedules {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("config: schedules[%d]: name is required", i))
		} else if _, dup := seen[s.Name]; dup {
			errs = append(errs, fmt.Errorf("config: schedules[%d]: duplicate name %q", i, s.Name))
		} else {
			seen[s.Name] = struct{}{}
		}
		if err := cron.ValidateSchedule(s.Cron); err != nil {
			errs = append(errs, fmt.Errorf("config: schedules[%d]: %w", i, err))
		}
		if s.Prompt == "" {
			errs = append(errs, fmt.Errorf("config: schedules[%d]: prompt is required", i))
		}
	}
	return errs
}
