// Package telemetry sets up OpenTelemetry tracing. The approval gate and
// the agent loop take a trace.TracerProvider; this package builds one that
// exports over OTLP/HTTP when enabled and a no-op one otherwise.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures tracing.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP/HTTP collector, host:port.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// SampleRate is the fraction of traces kept, 0 to 1. Zero keeps all.
	SampleRate float64 `yaml:"sample_rate"`

	ServiceName string `yaml:"service_name"`
}

// Provider owns the tracer provider and its exporter.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// Option customizes Setup.
type Option func(*setup)

type setup struct {
	exporter sdktrace.SpanExporter
	logger   *slog.Logger
}

// WithExporter replaces the OTLP exporter, mostly for tests.
func WithExporter(e sdktrace.SpanExporter) Option { return func(s *setup) { s.exporter = e } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *setup) { s.logger = l } }

// Setup builds the tracer provider described by cfg and installs it as the
// global provider. A disabled config yields a no-op provider.
func Setup(ctx context.Context, cfg Config, version string, opts ...Option) (*Provider, error) {
	s := setup{logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}

	if !cfg.Enabled {
		return &Provider{
			tp:       noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "scout"
	}

	exporter := s.exporter
	if exporter == nil {
		httpOpts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			httpOpts = append(httpOpts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		var err error
		exporter, err = otlptracehttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: creating OTLP exporter: %w", err)
		}
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	s.logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "sample_rate", cfg.SampleRate)
	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0 || rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// TracerProvider returns the provider to hand to instrumented components.
func (p *Provider) TracerProvider() trace.TracerProvider { return p.tp }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
