package voting

import (
	"encoding/json"
	"regexp"
	"strings"

	"dev.quorum.engine/internal/models"
)

// ParseBallot extracts a ranked ballot from a voter's free-text response.
// Three parsers run in order — a JSON block with anonymized position
// letters, a numbered list naming letters or providers, and a keyword
// heuristic — and the first success wins. Candidates are anonymized as
// letters A, B, … in participant order. Returns nil when no parser
// succeeds; the engine counts that as an unparseable ballot.
func ParseBallot(voter, text string, candidates []string) *models.Ballot {
	if b := parseJSONBallot(voter, text, candidates); b != nil {
		return b
	}
	if b := parseNumberedBallot(voter, text, candidates); b != nil {
		return b
	}
	return parseKeywordBallot(voter, text, candidates)
}

// PositionLetter returns the anonymized letter for a participant index.
func PositionLetter(index int) string {
	return string(rune('A' + index))
}

type jsonRanking struct {
	Position string `json:"position"`
	Provider string `json:"provider"`
	Rank     int    `json:"rank"`
	Reason   string `json:"reason"`
}

type jsonBallot struct {
	Rankings []jsonRanking `json:"rankings"`
}

var jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parseJSONBallot accepts {"rankings":[{"position":"A","rank":1,...}]},
// either fenced or as the first raw JSON object in the text.
func parseJSONBallot(voter, text string, candidates []string) *models.Ballot {
	blocks := make([]string, 0, 2)
	if m := jsonBlockRe.FindStringSubmatch(text); m != nil {
		blocks = append(blocks, m[1])
	}
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			blocks = append(blocks, text[start:end+1])
		}
	}

	for _, block := range blocks {
		var parsed jsonBallot
		if err := json.Unmarshal([]byte(block), &parsed); err != nil || len(parsed.Rankings) == 0 {
			continue
		}

		ballot := &models.Ballot{Voter: voter}
		seen := make(map[string]bool)
		for _, jr := range parsed.Rankings {
			name := candidateForToken(jr.Position, jr.Provider, candidates)
			if name == "" || seen[name] || jr.Rank < 1 {
				continue
			}
			seen[name] = true
			ballot.Rankings = append(ballot.Rankings, models.Ranking{
				Provider: name,
				Rank:     jr.Rank,
				Reason:   jr.Reason,
			})
		}
		if len(ballot.Rankings) > 0 {
			densify(ballot)
			return ballot
		}
	}
	return nil
}

var numberedLineRe = regexp.MustCompile(`(?m)^\s*(\d+)[.)]\s*(.+)$`)

// parseNumberedBallot reads lines like "1. B — strongest evidence" or
// "2) provider-beta". Ranks follow line order; ties collapse by first
// appearance.
func parseNumberedBallot(voter, text string, candidates []string) *models.Ballot {
	matches := numberedLineRe.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}

	ballot := &models.Ballot{Voter: voter}
	seen := make(map[string]bool)
	for _, m := range matches {
		name := matchCandidate(m[2], candidates)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		ballot.Rankings = append(ballot.Rankings, models.Ranking{
			Provider: name,
			Rank:     len(ballot.Rankings) + 1,
		})
	}
	if len(ballot.Rankings) == 0 {
		return nil
	}
	return ballot
}

var keywordRe = regexp.MustCompile(`(?i)\b(?:best|winner|top|strongest)\b`)

// parseKeywordBallot searches for "best/winner/top" sentences naming a
// candidate. The named candidate ranks first, the rest follow in roster
// order.
func parseKeywordBallot(voter, text string, candidates []string) *models.Ballot {
	for _, line := range strings.Split(text, "\n") {
		if !keywordRe.MatchString(line) {
			continue
		}
		name := matchCandidate(line, candidates)
		if name == "" {
			continue
		}

		ballot := &models.Ballot{Voter: voter}
		ballot.Rankings = append(ballot.Rankings, models.Ranking{Provider: name, Rank: 1})
		for _, c := range candidates {
			if c != name {
				ballot.Rankings = append(ballot.Rankings, models.Ranking{
					Provider: c,
					Rank:     len(ballot.Rankings) + 1,
				})
			}
		}
		return ballot
	}
	return nil
}

// matchCandidate finds a candidate mentioned in s, preferring explicit
// provider names over bare position letters.
func matchCandidate(s string, candidates []string) string {
	lower := strings.ToLower(s)
	best := ""
	for _, c := range candidates {
		if strings.Contains(lower, strings.ToLower(c)) && len(c) > len(best) {
			best = c
		}
	}
	if best != "" {
		return best
	}

	for i := range candidates {
		letter := PositionLetter(i)
		if regexp.MustCompile(`\b` + letter + `\b`).MatchString(s) {
			return candidates[i]
		}
	}
	return ""
}

func candidateForToken(position, provider string, candidates []string) string {
	if provider != "" {
		for _, c := range candidates {
			if strings.EqualFold(c, provider) {
				return c
			}
		}
	}
	position = strings.TrimSpace(strings.ToUpper(position))
	if len(position) == 1 {
		idx := int(position[0] - 'A')
		if idx >= 0 && idx < len(candidates) {
			return candidates[idx]
		}
	}
	return ""
}

// densify rewrites ranks to be 1-based dense in ascending rank order,
// collapsing gaps and duplicates by original order.
func densify(ballot *models.Ballot) {
	rankings := ballot.Rankings
	for i := 1; i < len(rankings); i++ {
		for j := i; j > 0 && rankings[j].Rank < rankings[j-1].Rank; j-- {
			rankings[j], rankings[j-1] = rankings[j-1], rankings[j]
		}
	}
	for i := range rankings {
		rankings[i].Rank = i + 1
	}
}
