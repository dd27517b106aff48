package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Claim Extraction Tests
// ============================================================================

func TestScore_ExtractsClaimsAndCitations(t *testing.T) {
	text := "The protocol requires two confirmations (RFC 6455 specification).\n" +
		"Latency grows linearly with participant count.\n" +
		"Source: peer-reviewed journal study\n" +
		"Is this always true?\n"

	report := Score("alpha", text)
	require.Equal(t, 2, report.TotalClaims)

	assert.Equal(t, TierA, report.Claims[0].Tier)
	assert.Contains(t, report.Claims[0].Source, "RFC")

	assert.Equal(t, TierB, report.Claims[1].Tier)
	assert.Equal(t, 2, report.SupportedClaims)
	assert.Equal(t, 1.0, report.EvidenceScore)
	assert.InDelta(t, 0.9, report.WeightedScore, 1e-9)
}

func TestScore_UnsourcedClaimsAreTierF(t *testing.T) {
	report := Score("beta", "Everything will definitely work out fine in production.")
	require.Equal(t, 1, report.TotalClaims)
	assert.Equal(t, TierF, report.Claims[0].Tier)
	assert.Equal(t, 0.0, report.EvidenceScore)
	assert.Equal(t, 0.0, report.WeightedScore)
}

func TestScore_EmptyText(t *testing.T) {
	report := Score("gamma", "")
	assert.Equal(t, 0, report.TotalClaims)
	assert.Equal(t, 0.0, report.EvidenceScore)
}

func TestScore_FiltersQuestionsAndImperatives(t *testing.T) {
	text := "What about the edge cases?\nConsider the alternative design.\n" +
		"The cache invalidates after sixty seconds.\n"
	report := Score("alpha", text)
	require.Equal(t, 1, report.TotalClaims)
	assert.Contains(t, report.Claims[0].Text, "cache")
}

func TestStrictFactor(t *testing.T) {
	r := Report{WeightedScore: 1.0}
	assert.Equal(t, 1.0, r.StrictFactor())
	r.WeightedScore = 0
	assert.Equal(t, 0.5, r.StrictFactor())
}

// ============================================================================
// Cross-Validation Tests
// ============================================================================

func TestCrossValidate_Corroboration(t *testing.T) {
	a := Score("alpha", "The consensus layer finalizes blocks within two epochs.")
	b := Score("beta", "Blocks reach finality in the consensus layer within two epochs.")

	cv := CrossValidate([]Report{a, b}, 0)
	require.NotEmpty(t, cv.Groups)

	found := false
	for _, g := range cv.Groups {
		if len(g.Claims) == 2 {
			assert.True(t, g.Corroborated)
			assert.False(t, g.Contradicted)
			found = true
		}
	}
	assert.True(t, found, "expected a corroborated group of two claims")
}

func TestCrossValidate_Contradiction(t *testing.T) {
	a := Score("alpha", "The migration preserves existing user sessions safely.")
	b := Score("beta", "The migration does not preserve existing user sessions.")

	cv := CrossValidate([]Report{a, b}, 0)

	contradicted := false
	for _, g := range cv.Groups {
		if g.Contradicted {
			contradicted = true
		}
	}
	assert.True(t, contradicted)
}

func TestCrossValidate_BestTierPropagates(t *testing.T) {
	a := Score("alpha", "Timeouts default to thirty seconds in the gateway.")
	b := Score("beta", "The gateway timeouts default to thirty seconds (official standard document).")

	cv := CrossValidate([]Report{a, b}, 0)

	for _, g := range cv.Groups {
		if len(g.Claims) == 2 {
			assert.Equal(t, TierA, g.BestSourceTier)
		}
	}
}

func TestSummarize_SkipsSingletons(t *testing.T) {
	a := Score("alpha", "Completely unrelated statement about databases here.")
	b := Score("beta", "An entirely different claim about network topology instead.")

	cv := CrossValidate([]Report{a, b}, 0)
	assert.Empty(t, Summarize(cv))
}
