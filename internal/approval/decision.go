// Package approval implements the human-in-the-loop gate: a gated tool
// suspends its caller, publishes an ActionRequest to reviewers, and resumes
// according to the single Decision that answers it.
package approval

import (
	"time"

	"github.com/flemzord/scout/internal/tool"
)

// ReviewDescription is the description attached to every action request.
const ReviewDescription = "Please review the tool call"

// IgnoredMessage is handed back to the planner when a reviewer ignores a call.
const IgnoredMessage = "Tool call ignored by user."

// DecisionKind is the wire tag of a decision.
type DecisionKind string

// Decision kinds, spelled as on the reviewer wire.
const (
	KindAccept  DecisionKind = "accept"
	KindEdit    DecisionKind = "edit"
	KindRespond DecisionKind = "response"
	KindIgnore  DecisionKind = "ignore"
)

// Decision is the reviewer's answer to one ActionRequest. The set of
// implementations is closed: Accept, Edit, Respond and Ignore.
type Decision interface {
	Kind() DecisionKind
	decision()
}

// Accept runs the tool with the proposed arguments.
type Accept struct{}

// Edit runs the tool with Args in place of the proposed arguments.
// The proposal is replaced, never merged. Action, when set, must name the
// reviewed tool; an edit cannot redirect the call to another tool.
type Edit struct {
	Action string
	Args   tool.Args
}

// Respond skips the tool and returns Feedback to the planner.
type Respond struct {
	Feedback string
}

// Ignore skips the tool and returns IgnoredMessage.
type Ignore struct{}

func (Accept) Kind() DecisionKind  { return KindAccept }
func (Edit) Kind() DecisionKind    { return KindEdit }
func (Respond) Kind() DecisionKind { return KindRespond }
func (Ignore) Kind() DecisionKind  { return KindIgnore }

func (Accept) decision()  {}
func (Edit) decision()    {}
func (Respond) decision() {}
func (Ignore) decision()  {}

// Capabilities advertises which decision kinds a reviewer may choose.
type Capabilities struct {
	AllowAccept  bool `json:"allow_accept" yaml:"allow_accept"`
	AllowEdit    bool `json:"allow_edit" yaml:"allow_edit"`
	AllowRespond bool `json:"allow_respond" yaml:"allow_respond"`
	AllowIgnore  bool `json:"allow_ignore" yaml:"allow_ignore"`
}

// DefaultCapabilities enables every decision kind.
func DefaultCapabilities() Capabilities {
	return Capabilities{AllowAccept: true, AllowEdit: true, AllowRespond: true, AllowIgnore: true}
}

// Allows reports whether kind is enabled.
func (c Capabilities) Allows(kind DecisionKind) bool {
	switch kind {
	case KindAccept:
		return c.AllowAccept
	case KindEdit:
		return c.AllowEdit
	case KindRespond:
		return c.AllowRespond
	case KindIgnore:
		return c.AllowIgnore
	default:
		return false
	}
}

// Allowed returns the enabled kinds in display order.
func (c Capabilities) Allowed() []DecisionKind {
	var out []DecisionKind
	for _, k := range []DecisionKind{KindAccept, KindEdit, KindRespond, KindIgnore} {
		if c.Allows(k) {
			out = append(out, k)
		}
	}
	return out
}

// ProposedAction is the tool call awaiting review.
type ProposedAction struct {
	Action string    `json:"action"`
	Args   tool.Args `json:"args"`
}

// ActionRequest is published to reviewers for every gated invocation and
// is answered by exactly one Decision.
type ActionRequest struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id,omitempty"`
	Action      ProposedAction `json:"action_request"`
	Config      Capabilities   `json:"config"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
}
