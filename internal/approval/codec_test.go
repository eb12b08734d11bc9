package approval

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/flemzord/scout/internal/tool"
)

func TestDecodeDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    DecisionKind
		wantErr error
	}{
		{"accept", `{"type":"accept"}`, KindAccept, nil},
		{"ignore", `{"type":"ignore","args":null}`, KindIgnore, nil},
		{"response", `{"type":"response","args":"Please shorten the report first"}`, KindRespond, nil},
		{"edit", `{"type":"edit","args":{"action":"send_research_email","args":{"to":"c@d.com"}}}`, KindEdit, nil},
		{"unknown type", `{"type":"approve"}`, "", ErrUnsupportedDecision},
		{"missing type", `{}`, "", ErrUnsupportedDecision},
		{"not json", `accept`, "", ErrMalformedDecision},
		{"response without text", `{"type":"response","args":{"x":1}}`, "", ErrMalformedDecision},
		{"edit without args", `{"type":"edit","args":{"action":"x"}}`, "", ErrMalformedDecision},
		{"edit with scalar args", `{"type":"edit","args":{"args":[1,2]}}`, "", ErrMalformedDecision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := DecodeDecision([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Kind() != tt.want {
				t.Errorf("Kind() = %q, want %q", d.Kind(), tt.want)
			}
		})
	}
}

func TestDecodeDecision_Payloads(t *testing.T) {
	t.Parallel()

	d, err := DecodeDecision([]byte(`{"type":"edit","args":{"action":"send_research_email","args":{"to":"c@d.com","subject":"Report"}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	edit, ok := d.(Edit)
	if !ok {
		t.Fatalf("decision = %T, want Edit", d)
	}
	if edit.Args.String("to") != "c@d.com" || edit.Args.String("subject") != "Report" {
		t.Errorf("edit args = %v", edit.Args)
	}
	if edit.Action != "send_research_email" {
		t.Errorf("edit action = %q, want the named tool", edit.Action)
	}

	d, err = DecodeDecision([]byte(`{"type":"response","args":"too long"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r, ok := d.(Respond); !ok || r.Feedback != "too long" {
		t.Errorf("decision = %#v, want Respond{too long}", d)
	}
}

func TestDecodeDecision_UnsupportedTag(t *testing.T) {
	t.Parallel()

	_, err := DecodeDecision([]byte(`{"type":"approve"}`))
	var unsupported *UnsupportedDecisionError
	if !errors.As(err, &unsupported) || unsupported.Tag != "approve" {
		t.Fatalf("got %v, want UnsupportedDecisionError{approve}", err)
	}
}

func TestEncodeDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		decision Decision
		want     string
	}{
		{"accept", Accept{}, `{"type":"accept"}`},
		{"ignore", Ignore{}, `{"type":"ignore"}`},
		{"response", Respond{Feedback: "no"}, `{"type":"response","args":"no"}`},
		{"edit", Edit{Args: tool.Args{"to": "c@d.com"}}, `{"type":"edit","args":{"args":{"to":"c@d.com"}}}`},
		{"edit with action", Edit{Action: "send_research_email", Args: tool.Args{"to": "c@d.com"}}, `{"type":"edit","args":{"action":"send_research_email","args":{"to":"c@d.com"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			raw, err := EncodeDecision(tt.decision)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(raw) != tt.want {
				t.Errorf("EncodeDecision = %s, want %s", raw, tt.want)
			}
			back, err := DecodeDecision(raw)
			if err != nil || back.Kind() != tt.decision.Kind() {
				t.Errorf("decoded %v (%v), want kind %s", back, err, tt.decision.Kind())
			}
		})
	}
}

func TestEncodeDecision_Unsupported(t *testing.T) {
	t.Parallel()

	if _, err := EncodeDecision(bogus{}); !errors.Is(err, ErrUnsupportedDecision) {
		t.Errorf("got %v, want ErrUnsupportedDecision", err)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	caps := Capabilities{AllowAccept: true, AllowRespond: true}
	got := caps.Allowed()
	if len(got) != 2 || got[0] != KindAccept || got[1] != KindRespond {
		t.Errorf("Allowed() = %v", got)
	}
	if caps.Allows(KindEdit) || caps.Allows("approve") {
		t.Error("disabled and unknown kinds must not be allowed")
	}
	if len(DefaultCapabilities().Allowed()) != 4 {
		t.Error("defaults must enable every kind")
	}
}

func TestActionRequest_WireShape(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(ActionRequest{
		ID:          "r1",
		Action:      ProposedAction{Action: "send_research_email", Args: tool.Args{"to": "a@b.com"}},
		Config:      DefaultCapabilities(),
		Description: ReviewDescription,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var shape struct {
		ActionRequest struct {
			Action string         `json:"action"`
			Args   map[string]any `json:"args"`
		} `json:"action_request"`
		Config      map[string]bool `json:"config"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if shape.ActionRequest.Action != "send_research_email" || shape.ActionRequest.Args["to"] != "a@b.com" {
		t.Errorf("action_request = %+v", shape.ActionRequest)
	}
	for _, k := range []string{"allow_accept", "allow_edit", "allow_respond", "allow_ignore"} {
		if !shape.Config[k] {
			t.Errorf("config[%s] = false, want true", k)
		}
	}
	if shape.Description != "Please review the tool call" {
		t.Errorf("description = %q", shape.Description)
	}
}
