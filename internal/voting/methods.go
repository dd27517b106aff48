package voting

import (
	"fmt"
	"sort"

	"dev.quorum.engine/internal/models"
)

// tallyBorda awards |C|−rank points per ranking, scaled by the stacked
// candidate weight and the self-vote discount.
func tallyBorda(ballots []models.Ballot, candidates []string, opts Options) *models.VoteResult {
	scores := bordaScores(ballots, candidates, opts)
	return &models.VoteResult{
		Method:   MethodBorda,
		Rankings: sortScores(scores, candidates),
	}
}

func bordaScores(ballots []models.Ballot, candidates []string, opts Options) map[string]float64 {
	n := len(candidates)
	scores := make(map[string]float64, n)
	for _, c := range candidates {
		scores[c] = 0
	}

	for _, b := range ballots {
		for _, r := range b.Rankings {
			if _, ok := scores[r.Provider]; !ok || r.Rank < 1 || r.Rank > n {
				continue
			}
			award := float64(n-r.Rank) * opts.candidateWeight(r.Provider)
			if b.Voter == r.Provider {
				award *= opts.selfDiscount()
			}
			scores[r.Provider] += award
		}
	}
	return scores
}

// tallyRunoff implements instant-runoff: repeatedly eliminate the candidate
// with the fewest first-preference votes until one exceeds half the active
// first preferences. Survivors rank first, then eliminated candidates in
// reverse elimination order.
func tallyRunoff(ballots []models.Ballot, candidates []string, opts Options) *models.VoteResult {
	remaining := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		remaining[c] = true
	}

	var eliminated []string
	finalCounts := firstPreferences(ballots, remaining)

	for len(eliminated) < len(candidates)-1 {
		counts := firstPreferences(ballots, remaining)
		finalCounts = counts

		total := 0.0
		for _, v := range counts {
			total += v
		}
		if _, ok := majorityWinner(counts, total); ok {
			break
		}

		loser := lowestCandidate(counts, candidates, remaining)
		remaining[loser] = false
		eliminated = append(eliminated, loser)
	}

	// Survivors ordered by final first-preference counts, then eliminated
	// candidates in reverse elimination order.
	var survivors []string
	for _, c := range candidates {
		if remaining[c] {
			survivors = append(survivors, c)
		}
	}
	sort.SliceStable(survivors, func(i, j int) bool {
		if finalCounts[survivors[i]] != finalCounts[survivors[j]] {
			return finalCounts[survivors[i]] > finalCounts[survivors[j]]
		}
		return survivors[i] < survivors[j]
	})

	rankings := make([]models.ScoredProvider, 0, len(candidates))
	for _, c := range survivors {
		rankings = append(rankings, models.ScoredProvider{Provider: c, Score: round3(finalCounts[c])})
	}
	for i := len(eliminated) - 1; i >= 0; i-- {
		rankings = append(rankings, models.ScoredProvider{Provider: eliminated[i], Score: 0})
	}

	return &models.VoteResult{Method: MethodRunoff, Rankings: rankings}
}

func firstPreferences(ballots []models.Ballot, remaining map[string]bool) map[string]float64 {
	counts := make(map[string]float64)
	for c, active := range remaining {
		if active {
			counts[c] = 0
		}
	}
	for _, b := range ballots {
		best := ""
		bestRank := 0
		for _, r := range b.Rankings {
			if !remaining[r.Provider] || r.Rank < 1 {
				continue
			}
			if best == "" || r.Rank < bestRank {
				best, bestRank = r.Provider, r.Rank
			}
		}
		if best != "" {
			counts[best]++
		}
	}
	return counts
}

func majorityWinner(counts map[string]float64, total float64) (string, bool) {
	for c, v := range counts {
		if v > total/2 {
			return c, true
		}
	}
	return "", false
}

func lowestCandidate(counts map[string]float64, candidates []string, remaining map[string]bool) string {
	lowest := ""
	for _, c := range candidates {
		if !remaining[c] {
			continue
		}
		if lowest == "" || counts[c] < counts[lowest] {
			lowest = c
		}
	}
	return lowest
}

// tallyApproval approves each voter's top ⌈|C|/2⌉ candidates; ties in
// approval count are broken by Borda score as a secondary sort.
func tallyApproval(ballots []models.Ballot, candidates []string, opts Options) *models.VoteResult {
	n := len(candidates)
	approveCount := (n + 1) / 2

	approvals := make(map[string]float64, n)
	for _, c := range candidates {
		approvals[c] = 0
	}
	for _, b := range ballots {
		for _, r := range b.Rankings {
			if r.Rank >= 1 && r.Rank <= approveCount {
				if _, ok := approvals[r.Provider]; ok {
					approvals[r.Provider]++
				}
			}
		}
	}

	borda := bordaScores(ballots, candidates, opts)

	rankings := make([]models.ScoredProvider, 0, n)
	for _, c := range candidates {
		rankings = append(rankings, models.ScoredProvider{Provider: c, Score: approvals[c]})
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].Score != rankings[j].Score {
			return rankings[i].Score > rankings[j].Score
		}
		if borda[rankings[i].Provider] != borda[rankings[j].Provider] {
			return borda[rankings[i].Provider] > borda[rankings[j].Provider]
		}
		return rankings[i].Provider < rankings[j].Provider
	})

	return &models.VoteResult{Method: MethodApproval, Rankings: rankings}
}

// tallyCondorcet builds the pairwise preference matrix. When some candidate
// beats every other head-to-head it wins, with secondary ranking by pairwise
// win count; otherwise the tally falls back to Borda and says so.
func tallyCondorcet(ballots []models.Ballot, candidates []string, opts Options) *models.VoteResult {
	wins := make(map[string]float64, len(candidates))
	beats := make(map[string]map[string]bool, len(candidates))
	for _, c := range candidates {
		beats[c] = make(map[string]bool)
	}

	for i, a := range candidates {
		for _, b := range candidates[i+1:] {
			aPref, bPref := 0, 0
			for _, ballot := range ballots {
				ra, rb := ballot.RankOf(a), ballot.RankOf(b)
				switch {
				case ra > 0 && (rb == 0 || ra < rb):
					aPref++
				case rb > 0 && (ra == 0 || rb < ra):
					bPref++
				}
			}
			if aPref > bPref {
				beats[a][b] = true
				wins[a]++
			} else if bPref > aPref {
				beats[b][a] = true
				wins[b]++
			}
		}
	}

	var condorcetWinner string
	for _, c := range candidates {
		if len(beats[c]) == len(candidates)-1 {
			condorcetWinner = c
			break
		}
	}

	if condorcetWinner == "" {
		result := tallyBorda(ballots, candidates, opts)
		result.Method = MethodCondorcet
		result.VotingDetails = "no Condorcet winner; fell back to Borda count"
		return result
	}

	return &models.VoteResult{
		Method:        MethodCondorcet,
		Rankings:      sortScores(wins, candidates),
		VotingDetails: fmt.Sprintf("Condorcet winner %s beats all %d rivals pairwise", condorcetWinner, len(candidates)-1),
	}
}
