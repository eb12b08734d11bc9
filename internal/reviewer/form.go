package reviewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/tool"
)

// ErrNoActions is returned for a request whose capabilities allow nothing.
var ErrNoActions = errors.New("reviewer: request allows no decision")

var kindLabels = map[approval.DecisionKind]string{
	approval.KindAccept:  "Accept: run the tool as proposed",
	approval.KindEdit:    "Edit: change the arguments, then run",
	approval.KindRespond: "Respond: skip the tool and send feedback",
	approval.KindIgnore:  "Ignore: skip the tool",
}

// FormPrompter asks for decisions with huh forms.
type FormPrompter struct {
	input      io.Reader
	output     io.Writer
	accessible bool
}

// FormOption configures a FormPrompter.
type FormOption func(*FormPrompter)

// WithIO sets the form input and output. Defaults to the process terminal.
func WithIO(in io.Reader, out io.Writer) FormOption {
	return func(p *FormPrompter) {
		p.input = in
		p.output = out
	}
}

// WithAccessible switches huh to its line-oriented accessible mode, which
// also works when stdin is not a terminal.
func WithAccessible(on bool) FormOption {
	return func(p *FormPrompter) { p.accessible = on }
}

// NewFormPrompter creates a FormPrompter.
func NewFormPrompter(opts ...FormOption) *FormPrompter {
	p := &FormPrompter{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Review implements Prompter. Only the kinds allowed by the request's
// capabilities are offered. Edit starts from the proposed arguments.
func (p *FormPrompter) Review(ctx context.Context, req approval.ActionRequest) (approval.Decision, error) {
	options := decisionOptions(req.Config)
	if len(options) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoActions, req.ID)
	}

	proposed, err := json.MarshalIndent(req.Action.Args, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("reviewer: rendering arguments: %w", err)
	}

	var kind approval.DecisionKind
	choose := huh.NewForm(huh.NewGroup(
		huh.NewNote().
			Title(fmt.Sprintf("%s: %s", req.Description, req.Action.Action)).
			Description(describe(req, string(proposed))),
		huh.NewSelect[approval.DecisionKind]().
			Title("Decision").
			Options(options...).
			Value(&kind),
	))
	if err := p.run(ctx, choose); err != nil {
		return nil, err
	}

	var text string
	switch kind {
	case approval.KindEdit:
		text = string(proposed)
		form := huh.NewForm(huh.NewGroup(
			huh.NewText().
				Title("Arguments (JSON object)").
				Lines(12).
				Value(&text).
				Validate(func(s string) error {
					_, err := parseEditedArgs(s)
					return err
				}),
		))
		if err := p.run(ctx, form); err != nil {
			return nil, err
		}
	case approval.KindRespond:
		form := huh.NewForm(huh.NewGroup(
			huh.NewText().
				Title("Feedback for the agent").
				Value(&text).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("feedback cannot be empty")
					}
					return nil
				}),
		))
		if err := p.run(ctx, form); err != nil {
			return nil, err
		}
	}
	return decisionFrom(kind, text)
}

func (p *FormPrompter) run(ctx context.Context, form *huh.Form) error {
	form = form.WithAccessible(p.accessible)
	if p.input != nil {
		form = form.WithInput(p.input)
	}
	if p.output != nil {
		form = form.WithOutput(p.output)
	}
	return form.RunWithContext(ctx)
}

func decisionOptions(caps approval.Capabilities) []huh.Option[approval.DecisionKind] {
	allowed := caps.Allowed()
	out := make([]huh.Option[approval.DecisionKind], 0, len(allowed))
	for _, kind := range allowed {
		out = append(out, huh.NewOption(kindLabels[kind], kind))
	}
	return out
}

func describe(req approval.ActionRequest, args string) string {
	var b strings.Builder
	if req.TaskID != "" {
		fmt.Fprintf(&b, "Task: %s\n", req.TaskID)
	}
	fmt.Fprintf(&b, "Request: %s\n\n%s", req.ID, args)
	return b.String()
}

// decisionFrom builds the decision for kind from the text entered for it.
func decisionFrom(kind approval.DecisionKind, text string) (approval.Decision, error) {
	switch kind {
	case approval.KindAccept:
		return approval.Accept{}, nil
	case approval.KindIgnore:
		return approval.Ignore{}, nil
	case approval.KindRespond:
		return approval.Respond{Feedback: strings.TrimSpace(text)}, nil
	case approval.KindEdit:
		args, err := parseEditedArgs(text)
		if err != nil {
			return nil, err
		}
		return approval.Edit{Args: args}, nil
	default:
		return nil, &approval.UnsupportedDecisionError{Tag: string(kind)}
	}
}

func parseEditedArgs(s string) (tool.Args, error) {
	args, err := tool.ParseArgs(json.RawMessage(s))
	if err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}
