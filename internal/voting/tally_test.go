package voting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.quorum.engine/internal/models"
)

func ballot(voter string, order ...string) models.Ballot {
	b := models.Ballot{Voter: voter}
	for i, p := range order {
		b.Rankings = append(b.Rankings, models.Ranking{Provider: p, Rank: i + 1})
	}
	return b
}

var abc = []string{"alpha", "beta", "gamma"}

// ============================================================================
// Borda Tests
// ============================================================================

func TestBorda_Basic(t *testing.T) {
	ballots := []models.Ballot{
		ballot("x", "alpha", "beta", "gamma"),
		ballot("y", "alpha", "gamma", "beta"),
		ballot("z", "beta", "alpha", "gamma"),
	}

	result, err := Tally(MethodBorda, ballots, abc, Options{SelfDiscount: 1})
	require.NoError(t, err)
	assert.Equal(t, "alpha", result.Winner)
	// alpha: 2+2+1=5, beta: 1+0+2=3, gamma: 0+1+0=1
	assert.Equal(t, 5.0, result.Rankings[0].Score)
	assert.Equal(t, 3.0, result.Rankings[1].Score)
	assert.False(t, result.Controversial)
}

// Three providers all ranking themselves first with the default self
// discount must produce a three-way tie.
func TestBorda_SelfVoteTie(t *testing.T) {
	ballots := []models.Ballot{
		ballot("alpha", "alpha", "beta", "gamma"),
		ballot("beta", "beta", "gamma", "alpha"),
		ballot("gamma", "gamma", "alpha", "beta"),
	}

	result, err := Tally(MethodBorda, ballots, abc, Options{})
	require.NoError(t, err)

	require.Len(t, result.Rankings, 3)
	assert.Equal(t, result.Rankings[0].Score, result.Rankings[1].Score)
	assert.Equal(t, result.Rankings[1].Score, result.Rankings[2].Score)
	assert.True(t, result.Controversial)
}

// Raising a candidate on one ballot never lowers its position.
func TestBorda_Monotonicity(t *testing.T) {
	base := []models.Ballot{
		ballot("x", "beta", "alpha", "gamma"),
		ballot("y", "gamma", "beta", "alpha"),
	}
	raised := []models.Ballot{
		ballot("x", "alpha", "beta", "gamma"), // alpha raised 2nd -> 1st
		ballot("y", "gamma", "beta", "alpha"),
	}

	before, err := Tally(MethodBorda, base, abc, Options{SelfDiscount: 1})
	require.NoError(t, err)
	after, err := Tally(MethodBorda, raised, abc, Options{SelfDiscount: 1})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, positionOf(after, "alpha"), positionOf(before, "alpha"))
}

// Removing a voter's self-ranking cannot reduce an opponent's score.
func TestBorda_SelfDiscountOpponent(t *testing.T) {
	withSelf := []models.Ballot{
		ballot("alpha", "alpha", "beta", "gamma"),
		ballot("beta", "beta", "alpha", "gamma"),
	}
	withoutSelf := []models.Ballot{
		{Voter: "alpha", Rankings: []models.Ranking{
			{Provider: "beta", Rank: 1}, {Provider: "gamma", Rank: 2},
		}},
		ballot("beta", "beta", "alpha", "gamma"),
	}

	a, err := Tally(MethodBorda, withSelf, abc, Options{})
	require.NoError(t, err)
	b, err := Tally(MethodBorda, withoutSelf, abc, Options{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, scoreOf(b, "beta"), scoreOf(a, "beta"))
}

func TestBorda_ProfileWeights(t *testing.T) {
	ballots := []models.Ballot{
		ballot("x", "alpha", "beta", "gamma"),
		ballot("y", "beta", "alpha", "gamma"),
	}

	result, err := Tally(MethodBorda, ballots, abc, Options{
		SelfDiscount: 1,
		Weights:      map[string]float64{"beta": 2.0},
	})
	require.NoError(t, err)
	assert.Equal(t, "beta", result.Winner)
}

// ============================================================================
// Instant Runoff Tests
// ============================================================================

func TestRunoff_MajorityWinner(t *testing.T) {
	ballots := []models.Ballot{
		ballot("v1", "alpha", "beta", "gamma"),
		ballot("v2", "alpha", "gamma", "beta"),
		ballot("v3", "beta", "alpha", "gamma"),
	}

	result, err := Tally(MethodRunoff, ballots, abc, Options{})
	require.NoError(t, err)
	assert.Equal(t, "alpha", result.Winner)
}

func TestRunoff_EliminationTransfersVotes(t *testing.T) {
	// gamma is eliminated first; its vote transfers to beta.
	ballots := []models.Ballot{
		ballot("v1", "alpha", "beta", "gamma"),
		ballot("v2", "alpha", "beta", "gamma"),
		ballot("v3", "beta", "gamma", "alpha"),
		ballot("v4", "beta", "gamma", "alpha"),
		ballot("v5", "gamma", "beta", "alpha"),
	}

	result, err := Tally(MethodRunoff, ballots, abc, Options{})
	require.NoError(t, err)
	assert.Equal(t, "beta", result.Winner)
	// Eliminated candidates rank after survivors.
	assert.Equal(t, "gamma", result.Rankings[2].Provider)
}

// ============================================================================
// Approval Tests
// ============================================================================

func TestApproval_TopHalf(t *testing.T) {
	// |C|=3 so each voter approves their top 2.
	ballots := []models.Ballot{
		ballot("v1", "alpha", "beta", "gamma"),
		ballot("v2", "beta", "alpha", "gamma"),
		ballot("v3", "gamma", "beta", "alpha"),
	}

	result, err := Tally(MethodApproval, ballots, abc, Options{SelfDiscount: 1})
	require.NoError(t, err)
	// beta approved by all three.
	assert.Equal(t, "beta", result.Winner)
	assert.Equal(t, 3.0, scoreOf(result, "beta"))
}

// ============================================================================
// Condorcet Tests
// ============================================================================

func TestCondorcet_ClearWinner(t *testing.T) {
	ballots := []models.Ballot{
		ballot("v1", "alpha", "beta", "gamma"),
		ballot("v2", "alpha", "gamma", "beta"),
		ballot("v3", "beta", "alpha", "gamma"),
	}

	result, err := Tally(MethodCondorcet, ballots, abc, Options{})
	require.NoError(t, err)
	assert.Equal(t, "alpha", result.Winner)
	assert.Contains(t, result.VotingDetails, "Condorcet winner")
}

// A rock/paper/scissors cycle falls back to Borda with an annotation, and
// the winner matches Borda on the same ballots.
func TestCondorcet_CycleFallsBackToBorda(t *testing.T) {
	cycle := []models.Ballot{
		ballot("v1", "alpha", "beta", "gamma"),
		ballot("v2", "beta", "gamma", "alpha"),
		ballot("v3", "gamma", "alpha", "beta"),
	}

	result, err := Tally(MethodCondorcet, cycle, abc, Options{SelfDiscount: 1})
	require.NoError(t, err)
	assert.Equal(t, MethodCondorcet, result.Method)
	assert.Contains(t, result.VotingDetails, "no Condorcet winner")

	borda, err := Tally(MethodBorda, cycle, abc, Options{SelfDiscount: 1})
	require.NoError(t, err)
	assert.Equal(t, borda.Winner, result.Winner)
}

// ============================================================================
// Dispatch Tests
// ============================================================================

func TestTally_UnknownMethod(t *testing.T) {
	_, err := Tally("plurality", []models.Ballot{ballot("v", "alpha", "beta")}, abc, Options{})
	assert.Error(t, err)
}

func TestTally_NoBallots(t *testing.T) {
	_, err := Tally(MethodBorda, nil, abc, Options{})
	assert.Error(t, err)
}

func TestTally_DetailsCollectRanks(t *testing.T) {
	ballots := []models.Ballot{
		ballot("v1", "alpha", "beta", "gamma"),
		ballot("v2", "beta", "alpha", "gamma"),
	}
	result, err := Tally(MethodBorda, ballots, abc, Options{SelfDiscount: 1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, result.Details["alpha"].Ranks)
	assert.ElementsMatch(t, []int{3, 3}, result.Details["gamma"].Ranks)
}

func positionOf(r *models.VoteResult, provider string) int {
	for i, s := range r.Rankings {
		if s.Provider == provider {
			return len(r.Rankings) - i
		}
	}
	return 0
}

func scoreOf(r *models.VoteResult, provider string) float64 {
	for _, s := range r.Rankings {
		if s.Provider == provider {
			return s.Score
		}
	}
	return -1
}
