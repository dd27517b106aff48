// Package voting tallies ranked ballots over the provider candidate set.
// Four methods are supported: Borda count, instant-runoff, approval, and
// Condorcet with Borda fallback. Weighting stacks profile weights,
// reputation weights, evidence factors, and a self-vote discount.
package voting

import (
	"fmt"
	"math"
	"sort"

	"dev.quorum.engine/internal/models"
)

// Method names accepted by Tally.
const (
	MethodBorda     = "borda"
	MethodRunoff    = "runoff"
	MethodApproval  = "approval"
	MethodCondorcet = "condorcet"
)

// DefaultSelfDiscount halves the weight of a voter's vote for itself.
const DefaultSelfDiscount = 0.5

// Options carries the weighting inputs for a tally. All maps are keyed by
// candidate name; missing entries default to 1.
type Options struct {
	// Weights are the per-provider profile weights.
	Weights map[string]float64
	// ReputationWeights are arena-supplied factors, stacked multiplicatively.
	ReputationWeights map[string]float64
	// EvidenceFactors scale contributions in strict evidence mode.
	EvidenceFactors map[string]float64
	// SelfDiscount multiplies a voter's award to itself. Zero means the
	// default of 0.5.
	SelfDiscount float64
}

func (o Options) selfDiscount() float64 {
	if o.SelfDiscount == 0 {
		return DefaultSelfDiscount
	}
	return o.SelfDiscount
}

// candidateWeight is the stacked per-candidate factor excluding the
// self-vote discount.
func (o Options) candidateWeight(candidate string) float64 {
	w := 1.0
	if v, ok := o.Weights[candidate]; ok && v > 0 {
		w *= v
	}
	if v, ok := o.ReputationWeights[candidate]; ok && v > 0 {
		w *= v
	}
	if v, ok := o.EvidenceFactors[candidate]; ok && v > 0 {
		w *= v
	}
	return w
}

// Tally dispatches to the configured voting method. Ballots with no
// rankings are ignored; at least one non-empty ballot is required.
func Tally(method string, ballots []models.Ballot, candidates []string, opts Options) (*models.VoteResult, error) {
	if len(candidates) < 2 {
		return nil, fmt.Errorf("tally requires at least 2 candidates, got %d", len(candidates))
	}

	active := make([]models.Ballot, 0, len(ballots))
	for _, b := range ballots {
		if len(b.Rankings) > 0 {
			active = append(active, b)
		}
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("no usable ballots")
	}

	var result *models.VoteResult
	var err error
	switch method {
	case MethodBorda, "":
		result = tallyBorda(active, candidates, opts)
	case MethodRunoff:
		result = tallyRunoff(active, candidates, opts)
	case MethodApproval:
		result = tallyApproval(active, candidates, opts)
	case MethodCondorcet:
		result = tallyCondorcet(active, candidates, opts)
	default:
		return nil, fmt.Errorf("unknown voting method %q", method)
	}
	if err != nil {
		return nil, err
	}

	result.Winner = result.Rankings[0].Provider
	result.Controversial = isControversial(result.Rankings)
	result.Details = buildDetails(active, candidates)
	return result, nil
}

// isControversial reports whether the top two scores differ by at most one
// unit.
func isControversial(rankings []models.ScoredProvider) bool {
	if len(rankings) < 2 {
		return false
	}
	return math.Abs(rankings[0].Score-rankings[1].Score) <= 1
}

func buildDetails(ballots []models.Ballot, candidates []string) map[string]models.VoteDetail {
	details := make(map[string]models.VoteDetail, len(candidates))
	for _, c := range candidates {
		var ranks []int
		for _, b := range ballots {
			if r := b.RankOf(c); r > 0 {
				ranks = append(ranks, r)
			}
		}
		details[c] = models.VoteDetail{Ranks: ranks}
	}
	return details
}

// sortScores orders candidates by descending score with candidate name as a
// deterministic tiebreaker.
func sortScores(scores map[string]float64, candidates []string) []models.ScoredProvider {
	out := make([]models.ScoredProvider, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, models.ScoredProvider{Provider: c, Score: round3(scores[c])})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
