package approval

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/flemzord/scout/internal/tool"
)

// wireDecision is the agent-inbox response shape:
//
//	{"type":"accept"}
//	{"type":"edit","args":{"action":"send_research_email","args":{...}}}
//	{"type":"response","args":"feedback text"}
//	{"type":"ignore"}
type wireDecision struct {
	Type string          `json:"type"`
	Args json.RawMessage `json:"args,omitempty"`
}

type wireEdit struct {
	Action string          `json:"action,omitempty"`
	Args   json.RawMessage `json:"args"`
}

// DecodeDecision parses a reviewer response. An unknown type yields
// *UnsupportedDecisionError.
func DecodeDecision(data []byte) (Decision, error) {
	var w wireDecision
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDecision, err)
	}

	switch DecisionKind(w.Type) {
	case KindAccept:
		return Accept{}, nil
	case KindIgnore:
		return Ignore{}, nil
	case KindRespond:
		var feedback string
		if err := json.Unmarshal(w.Args, &feedback); err != nil {
			return nil, fmt.Errorf("%w: response args must be a string", ErrMalformedDecision)
		}
		return Respond{Feedback: feedback}, nil
	case KindEdit:
		var edit wireEdit
		if err := json.Unmarshal(w.Args, &edit); err != nil || isNull(edit.Args) {
			return nil, fmt.Errorf("%w: edit args must be {\"action\":...,\"args\":{...}}", ErrMalformedDecision)
		}
		args, err := tool.ParseArgs(edit.Args)
		if err != nil {
			return nil, fmt.Errorf("%w: edit args: %w", ErrMalformedDecision, err)
		}
		return Edit{Action: edit.Action, Args: args}, nil
	default:
		return nil, &UnsupportedDecisionError{Tag: w.Type}
	}
}

// EncodeDecision renders d in the agent-inbox response shape.
func EncodeDecision(d Decision) ([]byte, error) {
	w := wireDecision{}
	switch d := d.(type) {
	case Accept:
		w.Type = string(KindAccept)
	case Ignore:
		w.Type = string(KindIgnore)
	case Respond:
		w.Type = string(KindRespond)
		raw, err := json.Marshal(d.Feedback)
		if err != nil {
			return nil, err
		}
		w.Args = raw
	case Edit:
		w.Type = string(KindEdit)
		inner, err := json.Marshal(d.Args)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(wireEdit{Action: d.Action, Args: inner})
		if err != nil {
			return nil, err
		}
		w.Args = raw
	default:
		tag := ""
		if d != nil {
			tag = string(d.Kind())
		}
		return nil, &UnsupportedDecisionError{Tag: tag}
	}
	return json.Marshal(w)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
