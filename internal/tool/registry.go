package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/flemzord/scout/internal/metrics"
	"github.com/flemzord/scout/internal/security"
)

// Registry holds registered tools and validates and invokes them.
// It is instance-based (not global) for better testability.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]*Definition
	auditLogger *security.AuditLogger
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Definition),
	}
}

// SetAuditLogger configures audit logging for tool invocations.
func (r *Registry) SetAuditLogger(logger *security.AuditLogger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditLogger = logger
}

// SetLimiter configures a token-bucket limiter shared by all invocations.
func (r *Registry) SetLimiter(limiter *rate.Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter = limiter
}

// SetMetrics configures the collectors updated on every invocation.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Register adds a definition to the registry. A name that is already
// taken yields *DuplicateToolError.
func (r *Registry) Register(def *Definition) error {
	if def == nil || strings.TrimSpace(def.Name()) == "" {
		return ErrEmptyToolName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name()]; exists {
		return &DuplicateToolError{Name: def.Name()}
	}
	r.tools[def.Name()] = def
	return nil
}

// MustRegister registers every definition and panics on the first error.
func (r *Registry) MustRegister(defs ...*Definition) {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Get returns the definition with the given name, or ErrToolNotFound.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return d, nil
}

// Names returns all registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Definitions returns all registered definitions sorted by name.
func (r *Registry) Definitions() []*Definition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name])
	}
	return defs
}

// Invoke decodes raw JSON arguments and calls the named tool.
// Malformed JSON yields *ArgumentError like any other validation failure.
func (r *Registry) Invoke(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	def, err := r.Get(name)
	if err != nil {
		return "", err
	}
	args, err := ParseArgs(raw)
	if err != nil {
		return "", &ArgumentError{Tool: name, Kind: ArgInvalid, Reason: "arguments are not a JSON object: " + err.Error()}
	}
	return r.call(ctx, def, args, string(raw))
}

// InvokeArgs calls the named tool with already decoded arguments.
func (r *Registry) InvokeArgs(ctx context.Context, name string, args Args) (string, error) {
	def, err := r.Get(name)
	if err != nil {
		return "", err
	}
	raw, _ := json.Marshal(args)
	return r.call(ctx, def, args, string(raw))
}

func (r *Registry) call(ctx context.Context, def *Definition, args Args, rawArgs string) (string, error) {
	r.mu.RLock()
	al := r.auditLogger
	lim := r.limiter
	m := r.metrics
	r.mu.RUnlock()

	name := def.Name()

	if lim != nil && !lim.Allow() {
		if al != nil {
			al.Log(security.AuditEvent{
				Type:     security.EventRateLimit,
				ToolName: name,
				Detail:   "tool_call rate limit exceeded",
			})
		}
		m.ToolCall(name, metrics.OutcomeRateLimited)
		return "", fmt.Errorf("tool %s: %w", name, ErrRateLimited)
	}

	// Truncate args to prevent audit log bloat from large payloads.
	if al != nil {
		al.Log(security.AuditEvent{
			Type:     security.EventToolCall,
			ToolName: name,
			Detail:   truncateForAudit(rawArgs),
		})
	}

	out, err := def.Call(ctx, args)

	m.ToolCall(name, outcomeOf(err))
	if al != nil {
		detail := truncateForAudit(out)
		if err != nil {
			detail = "error: " + err.Error()
		}
		al.Log(security.AuditEvent{
			Type:     security.EventToolResult,
			ToolName: name,
			IsError:  err != nil,
			Detail:   detail,
		})
	}
	return out, err
}

func outcomeOf(err error) string {
	switch err.(type) {
	case nil:
		return metrics.OutcomeOK
	case *ArgumentError:
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}

// maxAuditDetailLen is the maximum length of audit detail strings.
const maxAuditDetailLen = 4096

// truncateForAudit truncates a string to maxAuditDetailLen, appending
// a truncation indicator if the string was shortened.
// It walks back to a valid UTF-8 rune boundary to avoid splitting multi-byte
// characters when the cut falls mid-rune.
func truncateForAudit(s string) string {
	if len(s) <= maxAuditDetailLen {
		return s
	}
	i := maxAuditDetailLen
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i] + "...(truncated)"
}
