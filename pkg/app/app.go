// Package app wires scout's components from a configuration and provides
// the entry points shared by the scout commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/flemzord/scout/internal/agent"
	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/config"
	"github.com/flemzord/scout/internal/cron"
	"github.com/flemzord/scout/internal/gateway"
	"github.com/flemzord/scout/internal/mail"
	"github.com/flemzord/scout/internal/metrics"
	"github.com/flemzord/scout/internal/provider"
	"github.com/flemzord/scout/internal/research"
	"github.com/flemzord/scout/internal/reviewer"
	"github.com/flemzord/scout/internal/search"
	"github.com/flemzord/scout/internal/security"
	"github.com/flemzord/scout/internal/telemetry"
	"github.com/flemzord/scout/internal/tool"
	"github.com/flemzord/scout/modules/provider/anthropic"
	"github.com/flemzord/scout/modules/provider/openai"
	redisstore "github.com/flemzord/scout/modules/store/redis"
	sqlitestore "github.com/flemzord/scout/modules/store/sqlite"
)

// Params configures Build.
type Params struct {
	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides config.DataDir for local state.
	DataDir string

	// LogLevel, when set, overrides log.level from the configuration.
	LogLevel *slog.Level

	// LogOutput receives process logs. Defaults to os.Stderr.
	LogOutput io.Writer

	// Provider replaces the configured planner, mostly for tests.
	Provider provider.Provider

	// Prompter answers reviews from the terminal. Serve starts a terminal
	// reviewer only when it is set; RunOnce defaults to a huh form.
	Prompter reviewer.Prompter
}

// Deps holds every wired component. Build creates them in dependency
// order; Close releases them in reverse.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Redactor  *security.Redactor
	Audit     *security.AuditLogger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Telemetry *telemetry.Provider

	Store     approval.Store
	Broker    *approval.Broker
	Tools     *tool.Registry
	Toolset   *research.Toolset
	Loop      *agent.Loop
	Manager   *research.Manager
	Gateway   *gateway.Gateway
	Scheduler *cron.Scheduler

	closers []func(context.Context) error
}

// Build wires the components described by cfg. On error everything built
// so far is released.
func Build(ctx context.Context, cfg *config.Config, params Params) (d *Deps, err error) {
	d = &Deps{Config: cfg}
	defer func() {
		if err != nil {
			_ = d.Close(context.WithoutCancel(ctx))
			d = nil
		}
	}()

	if params.DataDir == "" {
		params.DataDir = config.DataDir()
	}

	d.Redactor = newRedactor(cfg)
	d.Logger, err = newLogger(cfg.Log, params, d.Redactor)
	if err != nil {
		return d, err
	}

	if err := d.buildObservability(ctx, params); err != nil {
		return d, err
	}
	if err := d.buildApproval(ctx, params.DataDir); err != nil {
		return d, err
	}
	if err := d.buildResearch(params); err != nil {
		return d, err
	}

	d.Scheduler = cron.NewScheduler(d.Manager, d.Logger.With("component", "cron"))
	for _, s := range cfg.Schedules {
		if err := d.Scheduler.Add(cron.Schedule{Name: s.Name, Cron: s.Cron, Prompt: s.Prompt}); err != nil {
			return d, err
		}
	}

	if cfg.Gateway.Enabled() {
		d.Gateway, err = gateway.New(cfg.Gateway, gateway.Deps{
			Tasks:     d.Manager,
			Broker:    d.Broker,
			Gatherer:  d.Registry,
			Metrics:   d.Metrics,
			Audit:     d.Audit,
			Schedules: d.Scheduler,
			Logger:    d.Logger.With("component", "gateway"),
			Version:   params.Version,
		})
		if err != nil {
			return d, err
		}
	}

	return d, nil
}

func (d *Deps) buildObservability(ctx context.Context, params Params) error {
	cfg := d.Config

	var auditOut io.Writer
	if cfg.Audit.Path != "" {
		if dir := filepath.Dir(cfg.Audit.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("audit: create directory %s: %w", dir, err)
			}
		}
		f, err := os.OpenFile(cfg.Audit.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("audit: open %s: %w", cfg.Audit.Path, err)
		}
		auditOut = f
		d.onClose(func(context.Context) error { return f.Close() })
	}
	d.Audit = security.NewAuditLogger(security.AuditLoggerConfig{
		Writer:   auditOut,
		Redactor: d.Redactor,
	})

	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = metrics.New(d.Registry)

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, params.Version, telemetry.WithLogger(d.Logger))
	if err != nil {
		return err
	}
	d.Telemetry = tel
	d.onClose(tel.Shutdown)
	return nil
}

func (d *Deps) buildApproval(ctx context.Context, dataDir string) error {
	cfg := d.Config.Approval
	logger := d.Logger.With("component", "store")

	switch cfg.Store.Kind {
	case "", config.StoreMemory:
		d.Store = approval.NewMemoryStore()
	case config.StoreSQLite:
		s, err := sqlitestore.Configure(ctx, &cfg.Store.Settings, dataDir, logger)
		if err != nil {
			return err
		}
		d.Store = s
		d.onClose(func(context.Context) error { return s.Close() })
	case config.StoreRedis:
		s, err := redisstore.Configure(ctx, &cfg.Store.Settings, logger)
		if err != nil {
			return err
		}
		d.Store = s
		d.onClose(func(context.Context) error { return s.Close() })
	default:
		return fmt.Errorf("app: unknown approval.store.kind %q", cfg.Store.Kind)
	}

	d.Broker = approval.NewBroker(approval.BrokerConfig{
		Store:   d.Store,
		Logger:  d.Logger.With("component", "approval"),
		Metrics: d.Metrics,
	})
	return nil
}

func (d *Deps) buildResearch(params Params) error {
	cfg := d.Config
	tp := d.Telemetry.TracerProvider()

	planner := params.Provider
	if planner == nil {
		p, err := newProvider(cfg.Provider, d.Logger.With("component", "provider"))
		if err != nil {
			return err
		}
		planner = p
	}
	planner = provider.NewRetrying(planner, cfg.Provider.Retry, d.Logger.With("component", "provider"))

	searcher, err := newSearcher(cfg.Search, d.Logger.With("component", "search"))
	if err != nil {
		return err
	}

	var sender mail.Sender
	if cfg.Mail.Configured() {
		s, err := mail.NewSMTP(cfg.Mail, d.Logger.With("component", "mail"))
		if err != nil {
			return err
		}
		sender = s
	} else {
		d.Logger.Info("no mail transport configured, emails are previewed only")
		sender = mail.NewPreviewSender(d.Logger.With("component", "mail"), d.Metrics)
	}

	d.Tools = tool.NewRegistry()
	d.Tools.SetAuditLogger(d.Audit)
	d.Tools.SetMetrics(d.Metrics)
	if rps := cfg.Tools.RatePerSecond; rps > 0 {
		d.Tools.SetLimiter(rate.NewLimiter(rate.Limit(rps), max(cfg.Tools.Burst, 1)))
	}

	gatekeeper := approval.NewGatekeeper(d.Broker,
		approval.WithLogger(d.Logger.With("component", "approval")),
		approval.WithAuditLogger(d.Audit),
		approval.WithMetrics(d.Metrics),
		approval.WithTracerProvider(tp),
	)
	d.Toolset, err = research.NewToolset(research.ToolsetConfig{
		Searcher:     searcher,
		Sender:       sender,
		Gatekeeper:   gatekeeper,
		Capabilities: cfg.Approval.Capabilities,
	}, d.Tools)
	if err != nil {
		return err
	}

	executor := agent.NewToolExecutor(agent.ToolExecutorConfig{
		Registry: d.Tools,
		Logger:   d.Logger.With("component", "agent"),
	})
	d.Loop = agent.NewLoop(planner, executor, cfg.Agent,
		agent.WithLogger(d.Logger.With("component", "agent")),
		agent.WithTracerProvider(tp),
	)

	d.Manager, err = research.NewManager(research.ManagerConfig{
		Loop:          d.Loop,
		Toolset:       d.Toolset,
		Broker:        d.Broker,
		MaxConcurrent: cfg.Tasks.MaxConcurrent,
		Logger:        d.Logger.With("component", "research"),
		Audit:         d.Audit,
		Metrics:       d.Metrics,
	})
	return err
}

// newProvider builds the planner named by cfg.Kind.
func newProvider(cfg config.ProviderConfig, logger *slog.Logger) (provider.Provider, error) {
	switch cfg.Kind {
	case config.ProviderAnthropic:
		p, err := anthropic.Configure(&cfg.Settings, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderOpenAI:
		p, err := openai.Configure(&cfg.Settings, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", provider.ErrNoProvider, cfg.Kind)
	}
}

// newSearcher builds the Tavily client with its rate limit and URL filter.
func newSearcher(cfg config.SearchConfig, logger *slog.Logger) (*search.Tavily, error) {
	tc := cfg.TavilyConfig
	tc.Logger = logger
	if cfg.RatePerMinute > 0 {
		tc.Limiter = rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60), max(cfg.Burst, 1))
	}
	if filter := security.NewURLFilter(cfg.URLFilterConfig); filter.IsConfigured() {
		tc.Filter = filter
	}
	return search.NewTavily(tc)
}

func (d *Deps) onClose(fn func(context.Context) error) {
	d.closers = append(d.closers, fn)
}

// Close releases what Build acquired, in reverse order.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
