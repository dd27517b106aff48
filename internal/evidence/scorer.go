// Package evidence extracts claims and source citations from provider
// responses, scores source-tier coverage, and cross-validates claims across
// providers. Extraction is lexical: a claim is a declarative sentence, a
// source is a parenthesized citation or an explicit source line.
package evidence

import (
	"regexp"
	"strings"
)

// Tier grades a claim's best source. A is statutory or primary material;
// F is no source at all.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
	TierF Tier = "F"
)

// tierWeights maps tiers to score contributions.
var tierWeights = map[Tier]float64{
	TierA: 1.0,
	TierB: 0.8,
	TierC: 0.6,
	TierD: 0.3,
	TierF: 0.0,
}

// Weight returns the scoring weight of a tier.
func Weight(t Tier) float64 { return tierWeights[t] }

// Claim is one extracted declarative statement with its source, if any.
type Claim struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Tier   Tier   `json:"tier"`
}

// Report scores one provider's response.
type Report struct {
	Provider        string  `json:"provider"`
	Claims          []Claim `json:"claims"`
	TotalClaims     int     `json:"total_claims"`
	SupportedClaims int     `json:"supported_claims"`
	EvidenceScore   float64 `json:"evidence_score"`
	WeightedScore   float64 `json:"weighted_score"`
}

// StrictFactor is the vote-scaling factor applied in strict evidence mode.
func (r Report) StrictFactor() float64 {
	return 0.5 + 0.5*r.WeightedScore
}

var (
	sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]`)
	citationRe = regexp.MustCompile(`\(([^()]{3,120})\)\s*$`)
	sourceLine = regexp.MustCompile(`(?i)^\s*(?:source|citation|ref(?:erence)?)\s*:\s*(.+)$`)

	tierAPat = regexp.MustCompile(`(?i)\b(statute|u\.s\.c|regulation|rfc\s*\d+|specification|standard|court|official)\b`)
	tierBPat = regexp.MustCompile(`(?i)\b(journal|study|paper|peer.reviewed|documentation|docs)\b`)
	tierCPat = regexp.MustCompile(`(?i)\b(report|article|news|press|book)\b`)
)

// Score extracts claims from text and computes the provider's evidence
// scores. An explicit "Source:" line applies to the immediately preceding
// claim.
func Score(provider, text string) Report {
	report := Report{Provider: provider}

	for _, line := range strings.Split(text, "\n") {
		if m := sourceLine.FindStringSubmatch(line); m != nil {
			if n := len(report.Claims); n > 0 && report.Claims[n-1].Source == "" {
				report.Claims[n-1].Source = strings.TrimSpace(m[1])
				report.Claims[n-1].Tier = classifySource(report.Claims[n-1].Source)
			}
			continue
		}

		for _, raw := range sentenceRe.FindAllString(line, -1) {
			sentence := strings.TrimSpace(raw)
			if !isDeclarative(sentence) {
				continue
			}
			claim := Claim{Text: sentence, Tier: TierF}
			if m := citationRe.FindStringSubmatch(strings.TrimSuffix(sentence, ".")); m != nil {
				claim.Source = strings.TrimSpace(m[1])
				claim.Tier = classifySource(claim.Source)
			}
			report.Claims = append(report.Claims, claim)
		}
	}

	report.TotalClaims = len(report.Claims)
	if report.TotalClaims == 0 {
		return report
	}

	weighted := 0.0
	for _, c := range report.Claims {
		if c.Tier != TierF {
			report.SupportedClaims++
		}
		weighted += Weight(c.Tier)
	}
	report.EvidenceScore = float64(report.SupportedClaims) / float64(report.TotalClaims)
	report.WeightedScore = weighted / float64(report.TotalClaims)
	return report
}

// isDeclarative filters out questions, imperatives, and fragments.
func isDeclarative(s string) bool {
	if len(s) < 15 || strings.HasSuffix(s, "?") {
		return false
	}
	lower := strings.ToLower(s)
	for _, prefix := range []string{"consider ", "note that", "let's", "imagine ", "suppose "} {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return true
}

// classifySource grades a citation string into a tier. Unrecognized but
// present sources land in tier D.
func classifySource(source string) Tier {
	switch {
	case tierAPat.MatchString(source):
		return TierA
	case tierBPat.MatchString(source):
		return TierB
	case tierCPat.MatchString(source):
		return TierC
	case strings.TrimSpace(source) != "":
		return TierD
	default:
		return TierF
	}
}
