package agent

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/provider"
)

func emailCall(id, to string) provider.ToolCall {
	return callWith(id, "send_research_email", `{"to":"`+to+`","subject":"AI news","body":"report"}`)
}

func TestCallGuard_RepeatedSearch(t *testing.T) {
	t.Parallel()
	g := newCallGuard(LoopConfig{LoopThreshold: 3})

	search := callWith("1", "search_web", `{"query":"AI news","max_results":5}`)
	for i := range 2 {
		if err := g.propose([]provider.ToolCall{search}); err != nil {
			t.Fatalf("proposal %d: unexpected %v", i+1, err)
		}
	}
	if err := g.propose([]provider.ToolCall{search}); !errors.Is(err, ErrLoopDetected) {
		t.Fatalf("third identical search: got %v, want ErrLoopDetected", err)
	}
}

func TestCallGuard_KeyOrderDoesNotMatter(t *testing.T) {
	t.Parallel()
	g := newCallGuard(LoopConfig{LoopThreshold: 2})

	_ = g.propose([]provider.ToolCall{callWith("1", "search_web", `{"query":"AI news","max_results":5}`)})
	err := g.propose([]provider.ToolCall{callWith("2", "search_web", `{"max_results":5, "query":"AI news"}`)})
	if !errors.Is(err, ErrLoopDetected) {
		t.Fatalf("reordered arguments must share a signature, got %v", err)
	}
}

func TestCallGuard_DifferentQueries(t *testing.T) {
	t.Parallel()
	g := newCallGuard(LoopConfig{LoopThreshold: 2})

	_ = g.propose([]provider.ToolCall{callWith("1", "search_web", `{"query":"AI news"}`)})
	if err := g.propose([]provider.ToolCall{callWith("2", "search_web", `{"query":"AI policy"}`)}); err != nil {
		t.Errorf("different queries must not trip the guard: %v", err)
	}
}

func TestCallGuard_DeclinedEmailProposedAgain(t *testing.T) {
	t.Parallel()

	for _, kind := range []approval.DecisionKind{approval.KindRespond, approval.KindIgnore} {
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()
			g := newCallGuard(LoopConfig{LoopThreshold: 10})

			first := emailCall("1", "alice@example.com")
			if err := g.propose([]provider.ToolCall{first}); err != nil {
				t.Fatalf("first proposal: %v", err)
			}
			g.settle([]ToolCallRecord{{ID: "1", Name: first.Name, Arguments: first.Arguments, Decision: kind}})

			if err := g.propose([]provider.ToolCall{emailCall("2", "bob@example.com")}); err != nil {
				t.Errorf("a changed recipient is a new call: %v", err)
			}
			if err := g.propose([]provider.ToolCall{emailCall("3", "alice@example.com")}); !errors.Is(err, ErrLoopDetected) {
				t.Errorf("re-proposing the declined email: got %v, want ErrLoopDetected", err)
			}
		})
	}
}

func TestCallGuard_AcceptedEmailCountsNormally(t *testing.T) {
	t.Parallel()
	g := newCallGuard(LoopConfig{LoopThreshold: 3})

	call := emailCall("1", "alice@example.com")
	_ = g.propose([]provider.ToolCall{call})
	g.settle([]ToolCallRecord{
		{Name: call.Name, Arguments: call.Arguments, Decision: approval.KindAccept},
		{Name: "search_web", Arguments: json.RawMessage(`{"query":"x"}`)},
	})

	if err := g.propose([]provider.ToolCall{call}); err != nil {
		t.Errorf("an accepted email may be sent again below the threshold: %v", err)
	}
}

func TestCallGuard_RestoreFromCheckpoint(t *testing.T) {
	t.Parallel()
	g := newCallGuard(LoopConfig{LoopThreshold: 3})

	declined := emailCall("1", "alice@example.com")
	search := callWith("2", "search_web", `{"query":"AI news"}`)
	g.restore(
		[]ToolCallRecord{
			{ID: "1", Name: declined.Name, Arguments: declined.Arguments, Decision: approval.KindRespond},
			{ID: "2", Name: search.Name, Arguments: search.Arguments},
		},
		[]provider.ToolCall{search},
	)

	if err := g.propose([]provider.ToolCall{emailCall("3", "alice@example.com")}); !errors.Is(err, ErrLoopDetected) {
		t.Errorf("a decline recorded before the restart must still count, got %v", err)
	}
	if err := g.propose([]provider.ToolCall{search}); !errors.Is(err, ErrLoopDetected) {
		t.Errorf("searches counted before the restart must still count, got %v", err)
	}
}

func TestCallGuard_ZeroThresholdOnlyBlocksDeclined(t *testing.T) {
	t.Parallel()
	g := newCallGuard(LoopConfig{LoopThreshold: 0})

	search := callWith("1", "search_web", `{"query":"AI news"}`)
	for range 5 {
		if err := g.propose([]provider.ToolCall{search}); err != nil {
			t.Fatalf("unexpected %v", err)
		}
	}
}

func TestCallGuard_DeclineLimit(t *testing.T) {
	t.Parallel()
	g := newCallGuard(LoopConfig{LoopThreshold: 10, MaxDeclines: 2})

	for i, to := range []string{"alice@example.com", "bob@example.com"} {
		call := emailCall(string(rune('1'+i)), to)
		if err := g.propose([]provider.ToolCall{call}); err != nil {
			t.Fatalf("proposal %d: %v", i+1, err)
		}
		g.settle([]ToolCallRecord{{Name: call.Name, Arguments: call.Arguments, Decision: approval.KindIgnore}})
	}

	if err := g.propose(nil); err != nil {
		t.Errorf("a final answer is still allowed: %v", err)
	}
	err := g.propose([]provider.ToolCall{callWith("3", "search_web", `{"query":"AI news"}`)})
	if !errors.Is(err, ErrLoopDetected) {
		t.Errorf("after two declines: got %v, want ErrLoopDetected", err)
	}
}

func TestTokenBudget(t *testing.T) {
	t.Parallel()

	b := newTokenBudget(500, provider.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150})
	b.charge(provider.TokenUsage{PromptTokens: 200, CompletionTokens: 100, TotalTokens: 300})

	if b.spent.PromptTokens != 300 || b.spent.CompletionTokens != 150 || b.spent.TotalTokens != 450 {
		t.Errorf("spent = %+v, want checkpoint usage plus the new turn", b.spent)
	}
	if b.exhausted() {
		t.Error("450 of 500 tokens must not exhaust the budget")
	}
	b.charge(provider.TokenUsage{TotalTokens: 50})
	if !b.exhausted() {
		t.Error("expected the budget exhausted at its limit")
	}
}

func TestTokenBudget_Unlimited(t *testing.T) {
	t.Parallel()

	b := newTokenBudget(0, provider.TokenUsage{})
	b.charge(provider.TokenUsage{TotalTokens: 999999})
	if b.exhausted() {
		t.Error("a zero limit never runs out")
	}
}
