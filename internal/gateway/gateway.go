// Package gateway serves the reviewer HTTP API: research tasks are
// started and inspected under /api/tasks, pending action requests are
// listed and answered under /api/reviews, and /ws/reviews streams review
// events over a WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/cron"
	"github.com/flemzord/scout/internal/metrics"
	"github.com/flemzord/scout/internal/research"
	"github.com/flemzord/scout/internal/security"
)

// Tasks is the subset of research.Manager served by the API.
type Tasks interface {
	Start(ctx context.Context, prompt string) (research.Task, error)
	Get(id string) (research.Task, error)
	List() []research.Task
	Cancel(id string) error
}

// Deps are the collaborators the gateway serves.
type Deps struct {
	Tasks  Tasks
	Broker *approval.Broker

	// Gatherer backs /metrics. Nil leaves the route unmounted.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Audit    *security.AuditLogger
	Logger   *slog.Logger
	Version  string

	// Schedules reports scheduled research on /status. Nil omits it.
	Schedules Schedules
}

// Schedules is the view of the research scheduler shown on /status.
type Schedules interface {
	Status() []cron.Status
}

// Gateway is the reviewer HTTP server.
type Gateway struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	authLimit *rate.Limiter
	startedAt time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New validates deps and returns an unstarted gateway.
func New(cfg Config, deps Deps) (*Gateway, error) {
	var errs []error
	if deps.Tasks == nil {
		errs = append(errs, errors.New("gateway: task manager is required"))
	}
	if deps.Broker == nil {
		errs = append(errs, errors.New("gateway: approval broker is required"))
	}
	if err := cfg.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cfg.defaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		config:    cfg,
		deps:      deps,
		logger:    logger.With("component", "gateway"),
		authLimit: rate.NewLimiter(rate.Every(100*time.Millisecond), 20),
		startedAt: time.Now(),
	}, nil
}

// Handler returns the routed API handler.
func (g *Gateway) Handler() http.Handler {
	return g.buildRouter()
}

// Start listens on the configured address and serves in the background.
// Streams opened on /ws/reviews end when Stop is called.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server != nil {
		return errors.New("gateway: already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.cancel = cancel
	g.listener = ln
	g.startedAt = time.Now()
	g.server = &http.Server{
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	if !g.config.Auth.IsConfigured() {
		g.logger.Warn("gateway has no auth configured, API is only served to loopback clients")
	}

	srv := g.server
	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Stop closes review streams and shuts the server down within the
// configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv, cancel := g.server, g.cancel
	g.mu.Unlock()

	if srv == nil {
		return nil
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer done()

	g.logger.Info("gateway shutting down")
	return srv.Shutdown(shutdownCtx)
}
