package approval

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/scout/internal/metrics"
	"github.com/flemzord/scout/internal/security"
	"github.com/flemzord/scout/internal/tool"
)

const tracerName = "github.com/flemzord/scout/internal/approval"

// Option configures a Gatekeeper.
type Option func(*Gatekeeper)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(g *Gatekeeper) { g.logger = l } }

// WithAuditLogger records every request and decision in the audit log.
func WithAuditLogger(a *security.AuditLogger) Option { return func(g *Gatekeeper) { g.audit = a } }

// WithMetrics sets the collectors for decisions and policy violations.
func WithMetrics(m *metrics.Metrics) Option { return func(g *Gatekeeper) { g.metrics = m } }

// WithTracerProvider sets the provider for approval.suspend spans.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gatekeeper) { g.tracer = tp.Tracer(tracerName) }
}

// Gatekeeper wraps tool definitions so that each invocation is suspended
// on a Broker until a reviewer decides.
type Gatekeeper struct {
	broker  *Broker
	logger  *slog.Logger
	audit   *security.AuditLogger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewGatekeeper creates a Gatekeeper that submits requests to broker.
func NewGatekeeper(broker *Broker, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		broker: broker,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Gate is shorthand for NewGatekeeper(broker, opts...).Wrap(def, caps).
func Gate(def *tool.Definition, caps Capabilities, broker *Broker, opts ...Option) *tool.Definition {
	return NewGatekeeper(broker, opts...).Wrap(def, caps)
}

// Wrap returns a definition with the same name, description and
// parameters as def whose implementation suspends for review before
// deciding whether to run def.
func (g *Gatekeeper) Wrap(def *tool.Definition, caps Capabilities) *tool.Definition {
	return def.WithFunc(func(ctx context.Context, args tool.Args) (string, error) {
		req := ActionRequest{
			ID:          uuid.New().String(),
			TaskID:      TaskIDFromContext(ctx),
			Action:      ProposedAction{Action: def.Name(), Args: args.Clone()},
			Config:      caps,
			Description: ReviewDescription,
		}
		return g.suspend(ctx, def, req)
	})
}

func (g *Gatekeeper) suspend(ctx context.Context, def *tool.Definition, req ActionRequest) (string, error) {
	ctx, span := g.tracer.Start(ctx, "approval.suspend", trace.WithAttributes(
		attribute.String("tool", req.Action.Action),
		attribute.String("request_id", req.ID),
	))
	defer span.End()

	state, err := resumeStateFrom(ctx)
	if err != nil {
		g.logger.Warn("resume state unavailable, request will not survive a restart",
			"request_id", req.ID,
			"error", err,
		)
		state = nil
	}

	g.auditEvent(req, "requested", nil)

	d, err := g.broker.Submit(ctx, req, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.auditEvent(req, "cancelled", nil)
		return "", err
	}
	span.SetAttributes(attribute.String("decision", string(d.Kind())))

	out, err := g.Apply(ctx, def, req, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// Resume suspends again on a request restored from the store, under its
// original id and resume state, then applies the decision to the ungated
// definition def.
func (g *Gatekeeper) Resume(ctx context.Context, def *tool.Definition, rec Record) (string, error) {
	state := rec.State
	ctx = WithResumeState(ctx, func() (json.RawMessage, error) { return state, nil })
	return g.suspend(ctx, def, rec.Request)
}

// Apply carries out decision d for req using the ungated definition def.
// It is used both by the suspend function and when resuming a request
// restored after a restart.
func (g *Gatekeeper) Apply(ctx context.Context, def *tool.Definition, req ActionRequest, d Decision) (string, error) {
	kind := DecisionKind("")
	if d != nil {
		kind = d.Kind()
	}

	if !req.Config.Allows(kind) {
		g.logger.Warn("decision not allowed by request capabilities",
			"request_id", req.ID,
			"tool", req.Action.Action,
			"decision", string(kind),
		)
		g.metrics.PolicyViolation(req.Action.Action, string(kind))
		g.auditEvent(req, "policy_violation", d)
	}
	g.metrics.ApprovalDecided(req.Action.Action, string(kind))
	g.auditEvent(req, "decided", d)
	noteVerdict(ctx, kind)

	return Apply(ctx, def, d, req.Action.Args)
}

// Apply maps a decision onto the ungated definition: Accept runs def with
// the proposed args, Edit runs it with the edited args, Respond returns
// the feedback, Ignore returns IgnoredMessage. Any other decision yields
// *UnsupportedDecisionError and def does not run.
func Apply(ctx context.Context, def *tool.Definition, d Decision, proposed tool.Args) (string, error) {
	switch d := d.(type) {
	case Accept:
		return def.Call(ctx, proposed)
	case Edit:
		return def.Call(ctx, d.Args)
	case Respond:
		return d.Feedback, nil
	case Ignore:
		return IgnoredMessage, nil
	default:
		tag := ""
		if d != nil {
			tag = string(d.Kind())
		}
		return "", &UnsupportedDecisionError{Tag: tag}
	}
}

func (g *Gatekeeper) auditEvent(req ActionRequest, phase string, d Decision) {
	ev := security.AuditEvent{
		Type:      security.EventApproval,
		TaskID:    req.TaskID,
		RequestID: req.ID,
		ToolName:  req.Action.Action,
		Phase:     phase,
	}
	if d != nil {
		ev.Decision = string(d.Kind())
		if raw, err := EncodeDecision(d); err == nil {
			ev.Detail = string(raw)
		}
	} else if raw, err := json.Marshal(req.Action.Args); err == nil {
		ev.Detail = string(raw)
	}
	g.audit.Log(ev)
}
