// Package metrics holds the Prometheus collectors shared by the registry,
// the approval gate and the task manager. All methods are safe to call on
// a nil *Metrics, which records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tool call outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeInvalid     = "invalid_arguments"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
)

// Metrics groups the collectors exported on /metrics.
type Metrics struct {
	approvalRequests  *prometheus.CounterVec
	approvalDecisions *prometheus.CounterVec
	policyViolations  *prometheus.CounterVec
	approvalPending   prometheus.Gauge
	toolCalls         *prometheus.CounterVec
	tasks             *prometheus.CounterVec
	emailPreviews     prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		approvalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scout",
			Subsystem: "approval",
			Name:      "requests_total",
			Help:      "Gated tool invocations submitted for review.",
		}, []string{"tool"}),
		approvalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scout",
			Subsystem: "approval",
			Name:      "decisions_total",
			Help:      "Review decisions applied, by kind.",
		}, []string{"tool", "kind"}),
		policyViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scout",
			Subsystem: "approval",
			Name:      "policy_violations_total",
			Help:      "Decisions applied although the request's capability flags disallowed them.",
		}, []string{"tool", "kind"}),
		approvalPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scout",
			Subsystem: "approval",
			Name:      "pending",
			Help:      "Action requests awaiting a decision.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scout",
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Tool invocations, by outcome.",
		}, []string{"tool", "outcome"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scout",
			Name:      "tasks_total",
			Help:      "Research tasks reaching a state.",
		}, []string{"state"}),
		emailPreviews: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scout",
			Name:      "email_previews_total",
			Help:      "Report emails rendered as a preview because no transport is configured.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scout",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Reviewer API requests, by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scout",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Reviewer API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.approvalRequests,
			m.approvalDecisions,
			m.policyViolations,
			m.approvalPending,
			m.toolCalls,
			m.tasks,
			m.emailPreviews,
			m.httpRequests,
			m.httpDuration,
		)
	}
	return m
}

// ApprovalRequested counts a new action request and bumps the pending gauge.
func (m *Metrics) ApprovalRequested(tool string) {
	if m == nil {
		return
	}
	m.approvalRequests.WithLabelValues(tool).Inc()
	m.approvalPending.Inc()
}

// ApprovalSettled lowers the pending gauge once a request leaves the table.
func (m *Metrics) ApprovalSettled() {
	if m == nil {
		return
	}
	m.approvalPending.Dec()
}

// ApprovalDecided counts an applied decision.
func (m *Metrics) ApprovalDecided(tool, kind string) {
	if m == nil {
		return
	}
	m.approvalDecisions.WithLabelValues(tool, kind).Inc()
}

// PolicyViolation counts a decision outside the request's capabilities.
func (m *Metrics) PolicyViolation(tool, kind string) {
	if m == nil {
		return
	}
	m.policyViolations.WithLabelValues(tool, kind).Inc()
}

// ToolCall counts one registry invocation.
func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// TaskState counts a task transition into state.
func (m *Metrics) TaskState(state string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(state).Inc()
}

// EmailPreview counts an email rendered in preview mode.
func (m *Metrics) EmailPreview() {
	if m == nil {
		return
	}
	m.emailPreviews.Inc()
}

// HTTPRequest records one served API request. route is the matched route
// pattern, not the raw path.
func (m *Metrics) HTTPRequest(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
