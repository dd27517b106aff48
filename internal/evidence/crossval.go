package evidence

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultSimilarityThreshold groups claims whose stem overlap meets this
// Jaccard score. The exact value is deliberately configurable; 0.35 tracks
// observed grouping quality on multi-provider runs.
const DefaultSimilarityThreshold = 0.35

// CrossGroup is a set of semantically similar claims from different
// providers.
type CrossGroup struct {
	Claims         []GroupedClaim `json:"claims"`
	Corroborated   bool           `json:"corroborated"`
	Contradicted   bool           `json:"contradicted"`
	BestSourceTier Tier           `json:"best_source_tier"`
}

// GroupedClaim tags a claim with its originating provider.
type GroupedClaim struct {
	Provider string `json:"provider"`
	Claim    Claim  `json:"claim"`
}

// CrossValidation is the full cross-provider claim analysis.
type CrossValidation struct {
	Groups              []CrossGroup `json:"groups"`
	SimilarityThreshold float64      `json:"similarity_threshold"`
}

var negationRe = regexp.MustCompile(`(?i)\b(not|no|never|cannot|can't|won't|isn't|aren't|doesn't|don't|false|incorrect|wrong)\b`)

// CrossValidate groups similar claims across provider reports. A group is
// corroborated when at least two providers share it, contradicted when two
// of its claims carry opposite polarity.
func CrossValidate(reports []Report, threshold float64) CrossValidation {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	result := CrossValidation{SimilarityThreshold: threshold}

	var all []GroupedClaim
	for _, r := range reports {
		for _, c := range r.Claims {
			all = append(all, GroupedClaim{Provider: r.Provider, Claim: c})
		}
	}

	used := make([]bool, len(all))
	for i := range all {
		if used[i] {
			continue
		}
		group := CrossGroup{Claims: []GroupedClaim{all[i]}, BestSourceTier: all[i].Claim.Tier}
		used[i] = true

		for j := i + 1; j < len(all); j++ {
			if used[j] {
				continue
			}
			if stemJaccard(all[i].Claim.Text, all[j].Claim.Text) >= threshold {
				used[j] = true
				group.Claims = append(group.Claims, all[j])
				if Weight(all[j].Claim.Tier) > Weight(group.BestSourceTier) {
					group.BestSourceTier = all[j].Claim.Tier
				}
			}
		}

		providers := make(map[string]bool)
		for _, gc := range group.Claims {
			providers[gc.Provider] = true
		}
		group.Corroborated = len(providers) >= 2
		group.Contradicted = hasOppositePolarity(group.Claims)

		result.Groups = append(result.Groups, group)
	}
	return result
}

// hasOppositePolarity reports whether two claims in the group disagree on
// negation.
func hasOppositePolarity(claims []GroupedClaim) bool {
	sawNegated, sawPlain := false, false
	for _, gc := range claims {
		if negationRe.MatchString(gc.Claim.Text) {
			sawNegated = true
		} else {
			sawPlain = true
		}
	}
	return sawNegated && sawPlain
}

var stemSplit = regexp.MustCompile(`[^a-z0-9]+`)

// stemJaccard computes Jaccard similarity over crude lower-cased stems:
// words trimmed to at most 6 characters, stopwords removed.
func stemJaccard(a, b string) float64 {
	sa, sb := stems(a), stems(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for s := range sa {
		if sb[s] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"of": true, "to": true, "in": true, "and": true, "that": true, "this": true,
	"it": true, "for": true, "on": true, "with": true, "as": true, "be": true,
}

func stems(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range stemSplit.Split(strings.ToLower(text), -1) {
		if w == "" || stopwords[w] {
			continue
		}
		if len(w) > 6 {
			w = w[:6]
		}
		out[w] = true
	}
	return out
}

// Summarize renders a short cross-validation digest for the synthesis
// prompt: corroborated and contradicted groups with their best tiers.
func Summarize(cv CrossValidation) string {
	var lines []string
	for _, g := range cv.Groups {
		if len(g.Claims) < 2 {
			continue
		}
		status := "corroborated"
		if g.Contradicted {
			status = "contradicted"
		}
		lines = append(lines, "- ["+status+", tier "+string(g.BestSourceTier)+"] "+g.Claims[0].Claim.Text)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
