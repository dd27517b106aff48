package adaptive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Entropy Tests
// ============================================================================

func TestResponseEntropy_Unanimous(t *testing.T) {
	responses := map[string]string{
		"alpha": "use a write-ahead log for durability",
		"beta":  "use a write-ahead log for durability",
		"gamma": "for durability use a write-ahead log",
	}
	assert.Equal(t, 0.0, ResponseEntropy(responses))
}

func TestResponseEntropy_AllDistinct(t *testing.T) {
	responses := map[string]string{
		"alpha": "shard the database horizontally across regions",
		"beta":  "cache everything aggressively at the edge nodes",
		"gamma": "rewrite the service in a compiled language",
	}
	assert.InDelta(t, 1.0, ResponseEntropy(responses), 1e-9)
}

func TestResponseEntropy_TwoCamps(t *testing.T) {
	responses := map[string]string{
		"alpha": "adopt event sourcing with immutable append only logs",
		"beta":  "adopt event sourcing with immutable append only logs",
		"gamma": "stay with plain crud endpoints and a relational schema",
		"delta": "stay with plain crud endpoints and a relational schema",
	}
	// Two equal clusters of four responses: H = 1 bit, normalized by log2(4).
	assert.InDelta(t, 0.5, ResponseEntropy(responses), 1e-9)
}

func TestResponseEntropy_SingleResponse(t *testing.T) {
	assert.Equal(t, 0.0, ResponseEntropy(map[string]string{"alpha": "anything"}))
}

// ============================================================================
// Convergence Tests
// ============================================================================

func TestConvergence(t *testing.T) {
	same := map[string]string{
		"alpha": "ship the fix behind a feature flag",
		"beta":  "ship the fix behind a feature flag",
	}
	assert.InDelta(t, 1.0, Convergence(same), 1e-9)

	different := map[string]string{
		"alpha": "completely disjoint sentence tokens here",
		"beta":  "nothing shared between these responses whatsoever",
	}
	assert.InDelta(t, 0.0, Convergence(different), 0.01)
}

// ============================================================================
// Decision Tests
// ============================================================================

func convergedResponses() map[string]string {
	return map[string]string{
		"alpha": "the answer is to use optimistic locking",
		"beta":  "the answer is to use optimistic locking",
		"gamma": "the answer is to use optimistic locking",
	}
}

func divergentResponses() map[string]string {
	return map[string]string{
		"alpha": "pessimistic locks guarantee serializable isolation always",
		"beta":  "optimistic concurrency scales reads without any blocking",
		"gamma": "queue every write through a single ordered broker",
	}
}

func TestEvaluate_ConvergedSkipsPhases(t *testing.T) {
	c := NewController("balanced")

	d := c.Evaluate("ADJUST", convergedResponses(), []string{"REBUTTAL", "VOTE", "SYNTHESIZE"})
	assert.Equal(t, ActionSkipPhases, d.Action)
	assert.Equal(t, []string{"REBUTTAL"}, d.SkipPhases)
	assert.Contains(t, d.Reason, "converged")
}

func TestEvaluate_ConvergedNoVoteSkipsToSynthesize(t *testing.T) {
	c := NewController("balanced")

	d := c.Evaluate("ADJUST", convergedResponses(), []string{"REBUTTAL", "SYNTHESIZE"})
	assert.Equal(t, ActionSkipToSynthesize, d.Action)
}

func TestEvaluate_DivergentDebateAddsRound(t *testing.T) {
	c := NewController("balanced")

	d := c.Evaluate("DEBATE", divergentResponses(), []string{"ADJUST", "VOTE", "SYNTHESIZE"})
	assert.Equal(t, ActionAddRound, d.Action)
	assert.Greater(t, d.Entropy, 0.75)
}

func TestEvaluate_DivergentNonDebateContinues(t *testing.T) {
	c := NewController("balanced")

	d := c.Evaluate("GATHER", divergentResponses(), []string{"PLAN", "VOTE", "SYNTHESIZE"})
	assert.Equal(t, ActionContinue, d.Action)
}

func TestEvaluate_OnlyTerminalPhasesLeft(t *testing.T) {
	c := NewController("balanced")

	d := c.Evaluate("REBUTTAL", convergedResponses(), []string{"VOTE", "SYNTHESIZE"})
	assert.Equal(t, ActionContinue, d.Action)
}

// Identical inputs must always yield identical decisions.
func TestEvaluate_Deterministic(t *testing.T) {
	c := NewController("critical")
	remaining := []string{"ADJUST", "REBUTTAL", "VOTE", "SYNTHESIZE"}

	first := c.Evaluate("DEBATE", divergentResponses(), remaining)
	for i := 0; i < 10; i++ {
		again := c.Evaluate("DEBATE", divergentResponses(), remaining)
		require.Equal(t, first, again)
	}
}

func TestPresetByName_Fallback(t *testing.T) {
	assert.Equal(t, "balanced", PresetByName("unknown").Name)
	assert.Equal(t, "fast", PresetByName("fast").Name)
}
