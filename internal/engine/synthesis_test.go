package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.quorum.engine/internal/models"
	"dev.quorum.engine/internal/topology"
)

// ============================================================================
// Synthesis Parsing Tests
// ============================================================================

func TestParseSynthesis_FullSections(t *testing.T) {
	s := ParseSynthesis(`## Synthesis
Use a write-ahead log.

## Minority Report
One model preferred shadow tables.

## Scores
Consensus: 0.85
Confidence: 0.6`)

	assert.Equal(t, "Use a write-ahead log.", s.Content)
	assert.Equal(t, "One model preferred shadow tables.", s.MinorityReport)
	assert.InDelta(t, 0.85, s.ConsensusScore, 1e-9)
	assert.InDelta(t, 0.6, s.ConfidenceScore, 1e-9)
}

func TestParseSynthesis_MissingScoresDefault(t *testing.T) {
	s := ParseSynthesis("just a flat answer with no structure")
	assert.Equal(t, "just a flat answer with no structure", s.Content)
	assert.Equal(t, 0.5, s.ConsensusScore)
	assert.Equal(t, 0.5, s.ConfidenceScore)
}

func TestParseSynthesis_TolerantScoreFormats(t *testing.T) {
	s := ParseSynthesis(`## Synthesis
Answer.

## Scores
consensus = .9
CONFIDENCE: 75`)
	assert.InDelta(t, 0.9, s.ConsensusScore, 1e-9)
	// Percentage-style scores normalize into the unit interval.
	assert.InDelta(t, 0.75, s.ConfidenceScore, 1e-9)
}

func TestParseSynthesis_MinorityNoneElided(t *testing.T) {
	s := ParseSynthesis(`## Synthesis
Answer.

## Minority Report
None

## Scores
Consensus: 1.0
Confidence: 1.0`)
	assert.Empty(t, s.MinorityReport)
	assert.Equal(t, 1.0, s.ConsensusScore)
}

// ============================================================================
// Winner Override Tests
// ============================================================================

func TestOverrideWinner_PreservesRelativeOrder(t *testing.T) {
	votes := &models.VoteResult{
		Winner: "alpha",
		Rankings: []models.ScoredProvider{
			{Provider: "alpha", Score: 5},
			{Provider: "beta", Score: 3},
			{Provider: "gamma", Score: 1},
		},
	}
	out := overrideWinner(votes, "gamma")
	assert.Equal(t, "gamma", out.Winner)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, providerOrder(out))
	// The original is untouched.
	assert.Equal(t, "alpha", votes.Winner)
	assert.Equal(t, "alpha", votes.Rankings[0].Provider)
}

func providerOrder(v *models.VoteResult) []string {
	out := make([]string, len(v.Rankings))
	for i, sp := range v.Rankings {
		out[i] = sp.Provider
	}
	return out
}

// ============================================================================
// Phase Bookkeeping Tests
// ============================================================================

func TestPhaseKey_RepeatRoundsKeepFirstNumber(t *testing.T) {
	r := &run{debateRepeat: map[string]int{}}
	assert.Equal(t, "01-gather", r.phaseKey("GATHER"))
	assert.Equal(t, "02-debate", r.phaseKey("DEBATE"))
	assert.Equal(t, "02-debate-r2", r.phaseKey("DEBATE"))
	assert.Equal(t, "02-debate-r3", r.phaseKey("DEBATE"))
	assert.Equal(t, "03-vote", r.phaseKey("VOTE"))
}

func TestFilterPhases(t *testing.T) {
	phases := []topology.PhaseSpec{
		{Name: "GATHER"}, {Name: "PLAN"}, {Name: "DEBATE"}, {Name: "VOTE"},
	}

	out := filterPhases(phases, []string{"GATHER", "VOTE"})
	require.Len(t, out, 2)
	assert.Equal(t, "GATHER", out[0].Name)
	assert.Equal(t, "VOTE", out[1].Name)

	// Empty whitelist keeps everything.
	assert.Len(t, filterPhases(phases, nil), 4)
	// A whitelist matching nothing falls back to the full plan.
	assert.Len(t, filterPhases(phases, []string{"NOPE"}), 4)
}

func TestFallbackText(t *testing.T) {
	r := &run{latest: map[string]string{"alpha": "prior answer"}}
	assert.Equal(t, "prior answer", fallbackText(r, "alpha"))
	assert.Equal(t, "[beta failed to respond]", fallbackText(r, "beta"))
}
