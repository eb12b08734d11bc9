package approval

import (
	"context"
	"encoding/json"
)

type taskIDKey struct{}

type resumeStateKey struct{}

type verdictKey struct{}

// ResumeStateFunc serializes whatever the caller needs to continue after
// the pending request is answered, possibly in another process.
type ResumeStateFunc func() (json.RawMessage, error)

// WithTaskID tags ctx with the task that owns any request submitted under it.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskIDFromContext returns the task id set by WithTaskID, or "".
func TaskIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}

// WithResumeState attaches fn to ctx. The gate calls it when it suspends
// and the broker stores the result alongside the request.
func WithResumeState(ctx context.Context, fn ResumeStateFunc) context.Context {
	return context.WithValue(ctx, resumeStateKey{}, fn)
}

func resumeStateFrom(ctx context.Context) (json.RawMessage, error) {
	fn, _ := ctx.Value(resumeStateKey{}).(ResumeStateFunc)
	if fn == nil {
		return nil, nil
	}
	return fn()
}

// Verdict receives the kind of decision applied to a gated call made
// under the context returned by WithVerdict. A nil Verdict reports "".
type Verdict struct {
	kind DecisionKind
}

// Kind returns the decision applied, or "" when the call was not gated or
// never got an answer.
func (v *Verdict) Kind() DecisionKind {
	if v == nil {
		return ""
	}
	return v.kind
}

// Declined reports whether the reviewer answered without letting the tool
// run, with feedback or by ignoring the call.
func (v *Verdict) Declined() bool {
	k := v.Kind()
	return k == KindRespond || k == KindIgnore
}

// WithVerdict returns a context whose gated call reports its decision kind
// into the returned Verdict.
func WithVerdict(ctx context.Context) (context.Context, *Verdict) {
	v := &Verdict{}
	return context.WithValue(ctx, verdictKey{}, v), v
}

func noteVerdict(ctx context.Context, kind DecisionKind) {
	if v, _ := ctx.Value(verdictKey{}).(*Verdict); v != nil {
		v.kind = kind
	}
}
