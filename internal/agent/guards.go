package agent

import (
	"encoding/json"
	"fmt"

	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/provider"
	"github.com/flemzord/scout/internal/tool"
)

// callGuard stops a planner that keeps proposing the same call. A call is
// identified by its tool name and canonical arguments, so a repeated
// search for the same query or a second email to the same recipient with
// the same body count as one signature.
//
// A gated call the reviewer declined must not come back unchanged: once a
// signature was answered with feedback or ignored, proposing it again
// trips the guard whatever the threshold. Past maxDeclines declined calls
// the planner may still answer but may not propose anything new.
type callGuard struct {
	threshold   int
	maxDeclines int
	declines    int
	proposed    map[string]int
	declined    map[string]approval.DecisionKind
}

func newCallGuard(cfg LoopConfig) *callGuard {
	return &callGuard{
		threshold:   cfg.LoopThreshold,
		maxDeclines: cfg.MaxDeclines,
		proposed:    make(map[string]int),
		declined:    make(map[string]approval.DecisionKind),
	}
}

// signature canonicalizes the arguments through tool.Args, whose encoding
// sorts keys. Arguments that do not decode are compared byte for byte.
func signature(name string, raw json.RawMessage) string {
	args, err := tool.ParseArgs(raw)
	if err != nil {
		return name + ":" + string(raw)
	}
	canon, err := json.Marshal(args)
	if err != nil {
		return name + ":" + string(raw)
	}
	return name + ":" + string(canon)
}

// propose registers calls about to run. It returns an error wrapping
// ErrLoopDetected for the first call that repeats a declined call or
// reaches the threshold, or for any call once the decline limit is spent.
func (g *callGuard) propose(calls []provider.ToolCall) error {
	if len(calls) > 0 && g.maxDeclines > 0 && g.declines >= g.maxDeclines {
		return fmt.Errorf("%w: reviewer declined %d proposals", ErrLoopDetected, g.declines)
	}
	for _, call := range calls {
		sig := signature(call.Name, call.Arguments)
		if kind, ok := g.declined[sig]; ok {
			return fmt.Errorf("%w: %s proposed again after reviewer %s", ErrLoopDetected, call.Name, kind)
		}
		g.proposed[sig]++
		if g.threshold > 0 && g.proposed[sig] >= g.threshold {
			return fmt.Errorf("%w: %s repeated %d times", ErrLoopDetected, call.Name, g.proposed[sig])
		}
	}
	return nil
}

// settle notes the reviewer's answer to calls that ran.
func (g *callGuard) settle(records []ToolCallRecord) {
	for _, rec := range records {
		if rec.Declined() {
			g.declined[signature(rec.Name, rec.Arguments)] = rec.Decision
			g.declines++
		}
	}
}

// restore replays a checkpointed run so a loop resumed after a restart
// keeps counting where it stopped. ran holds the calls that completed and
// pending the calls of the suspended turn that have not.
func (g *callGuard) restore(ran []ToolCallRecord, pending []provider.ToolCall) {
	for _, rec := range ran {
		g.proposed[signature(rec.Name, rec.Arguments)]++
	}
	for _, call := range pending {
		g.proposed[signature(call.Name, call.Arguments)]++
	}
	g.settle(ran)
}

// tokenBudget accumulates planner usage across the turns of one task,
// including the turns that ran before a checkpoint. A zero limit never
// runs out.
type tokenBudget struct {
	limit int
	spent provider.TokenUsage
}

func newTokenBudget(limit int, spent provider.TokenUsage) *tokenBudget {
	return &tokenBudget{limit: limit, spent: spent}
}

func (b *tokenBudget) charge(usage provider.TokenUsage) {
	b.spent = b.spent.Add(usage)
}

func (b *tokenBudget) exhausted() bool {
	return b.limit > 0 && b.spent.TotalTokens >= b.limit
}
