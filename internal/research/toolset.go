// Package research assembles the research agent: its four tools, the
// review gate in front of plan creation and email dispatch, and the task
// manager that runs agent loops in the background.
package research

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/mail"
	"github.com/flemzord/scout/internal/search"
	"github.com/flemzord/scout/internal/tool"
)

// GatedTools are the tools that wait for a review decision before running.
var GatedTools = []string{ToolCreatePlan, ToolSendEmail}

// ToolsetConfig holds the toolset dependencies.
type ToolsetConfig struct {
	Searcher   search.Searcher
	Sender     mail.Sender
	Gatekeeper *approval.Gatekeeper

	// Capabilities overrides the reviewer capabilities of a gated tool.
	// Tools without an entry use approval.DefaultCapabilities.
	Capabilities map[string]approval.Capabilities
}

// Toolset is the registered research toolset. It keeps the ungated
// definitions so requests restored after a restart can be applied.
type Toolset struct {
	registry   *tool.Registry
	base       map[string]*tool.Definition
	gatekeeper *approval.Gatekeeper
}

// NewToolset registers the research tools into registry, gating
// create_todo_plan and send_research_email.
func NewToolset(cfg ToolsetConfig, registry *tool.Registry) (*Toolset, error) {
	var errs []error
	if cfg.Searcher == nil {
		errs = append(errs, errors.New("research: searcher is required"))
	}
	if cfg.Sender == nil {
		errs = append(errs, errors.New("research: mail sender is required"))
	}
	if cfg.Gatekeeper == nil {
		errs = append(errs, errors.New("research: gatekeeper is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	ts := &Toolset{
		registry:   registry,
		base:       make(map[string]*tool.Definition),
		gatekeeper: cfg.Gatekeeper,
	}

	defs := []*tool.Definition{
		PlanTool(),
		UpdateStatusTool(),
		SearchTool(cfg.Searcher),
		EmailTool(cfg.Sender),
	}
	for _, def := range defs {
		ts.base[def.Name()] = def
		exposed := def
		if slices.Contains(GatedTools, def.Name()) {
			caps, ok := cfg.Capabilities[def.Name()]
			if !ok {
				caps = approval.DefaultCapabilities()
			}
			exposed = cfg.Gatekeeper.Wrap(def, caps)
		}
		if err := registry.Register(exposed); err != nil {
			return nil, fmt.Errorf("research: registering %s: %w", def.Name(), err)
		}
	}
	return ts, nil
}

// Registry returns the registry holding the exposed (gated) tools.
func (ts *Toolset) Registry() *tool.Registry { return ts.registry }

// Base returns the ungated definition of a research tool.
func (ts *Toolset) Base(name string) (*tool.Definition, bool) {
	def, ok := ts.base[name]
	return def, ok
}

// Resume waits again for the decision on a restored request and applies it.
func (ts *Toolset) Resume(ctx context.Context, rec approval.Record) (string, error) {
	def, ok := ts.Base(rec.Request.Action.Action)
	if !ok {
		return "", fmt.Errorf("%w: %s", tool.ErrToolNotFound, rec.Request.Action.Action)
	}
	return ts.gatekeeper.Resume(ctx, def, rec)
}
