// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for scout.
package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/scout/internal/agent"
	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/gateway"
	"github.com/flemzord/scout/internal/mail"
	"github.com/flemzord/scout/internal/provider"
	"github.com/flemzord/scout/internal/search"
	"github.com/flemzord/scout/internal/security"
	"github.com/flemzord/scout/internal/telemetry"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Provider  ProviderConfig   `yaml:"provider"`
	Search    SearchConfig     `yaml:"search"`
	Mail      mail.SMTPConfig  `yaml:"mail"`
	Approval  ApprovalConfig   `yaml:"approval"`
	Agent     agent.LoopConfig `yaml:"agent"`
	Tools     ToolsConfig      `yaml:"tools"`
	Tasks     TasksConfig      `yaml:"tasks"`
	Gateway   gateway.Config   `yaml:"gateway"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Audit     AuditConfig      `yaml:"audit"`
	Log       LogConfig        `yaml:"log"`

	// Schedules start research tasks on a cron schedule.
	Schedules []Schedule `yaml:"schedules,omitempty"`
}

// Provider kinds.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ProviderConfig selects the planner LLM. Settings is decoded by the
// provider module named by Kind.
type ProviderConfig struct {
	Kind     string               `yaml:"kind"`
	Retry    provider.RetryConfig `yaml:"retry"`
	Settings yaml.Node            `yaml:"settings,omitempty"`
}

// SearchConfig configures the web search backend.
type SearchConfig struct {
	search.TavilyConfig      `yaml:",inline"`
	security.URLFilterConfig `yaml:",inline"`

	// RatePerMinute throttles outgoing searches. Zero means unlimited.
	RatePerMinute float64 `yaml:"rate_per_minute"`
	Burst         int     `yaml:"burst"`
}

// Store kinds for pending action requests.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// ApprovalConfig configures the review gate.
type ApprovalConfig struct {
	Store StoreConfig `yaml:"store"`

	// Capabilities overrides the reviewer capabilities per gated tool.
	Capabilities map[string]approval.Capabilities `yaml:"capabilities,omitempty"`
}

// StoreConfig selects where pending requests are persisted. Settings is
// decoded by the store module named by Kind.
type StoreConfig struct {
	Kind     string    `yaml:"kind"`
	Settings yaml.Node `yaml:"settings,omitempty"`
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	// RatePerSecond bounds tool invocations across all tasks. Zero means
	// unlimited.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// TasksConfig configures the research task manager.
type TasksConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`

	// RunTimeout bounds "scout run" end to end, review waits included.
	// Zero means no limit.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// AuditConfig configures the JSONL audit log.
type AuditConfig struct {
	// Path of the audit file. Empty disables the audit log.
	Path string `yaml:"path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Schedule is one scheduled research job.
type Schedule struct {
	Name   string `yaml:"name"`
	Cron   string `yaml:"cron"`
	Prompt string `yaml:"prompt"`
}
