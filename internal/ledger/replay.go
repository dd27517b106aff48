package ledger

import (
	"context"
	"fmt"
	"strings"

	"dev.quorum.engine/internal/models"
)

// Runner re-executes a deliberation for the given input. The engine
// satisfies this; tests substitute canned results.
type Runner func(ctx context.Context, input string) (*models.DeliberationResult, error)

// Replay looks up the entry, re-runs its input, and reports divergence.
func (l *Ledger) Replay(ctx context.Context, id string, run Runner) (*ReplayReport, error) {
	entry, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	rerun, err := run(ctx, entry.Input)
	if err != nil {
		return nil, err
	}
	return CompareReplay(entry, rerun), nil
}

// ReplayReport compares a recorded decision against a fresh re-run of the
// same input. Divergence is expected with live providers; the report
// quantifies it.
type ReplayReport struct {
	EntryID         string   `json:"entry_id"`
	SameWinner      bool     `json:"same_winner"`
	OriginalWinner  string   `json:"original_winner,omitempty"`
	ReplayWinner    string   `json:"replay_winner,omitempty"`
	ConsensusDelta  float64  `json:"consensus_delta"`
	ConfidenceDelta float64  `json:"confidence_delta"`
	SynthesisDiff   []string `json:"synthesis_diff,omitempty"`
	Identical       bool     `json:"identical"`
}

// CompareReplay builds the report for an original entry and its re-run.
func CompareReplay(original *models.LedgerEntry, rerun *models.DeliberationResult) *ReplayReport {
	r := &ReplayReport{EntryID: original.ID}

	if original.Votes != nil {
		r.OriginalWinner = original.Votes.Winner
	}
	if rerun.Votes != nil {
		r.ReplayWinner = rerun.Votes.Winner
	}
	r.SameWinner = r.OriginalWinner == r.ReplayWinner

	var origText, newText string
	if original.Synthesis != nil {
		origText = original.Synthesis.Content
		if rerun.Synthesis != nil {
			r.ConsensusDelta = rerun.Synthesis.ConsensusScore - original.Synthesis.ConsensusScore
			r.ConfidenceDelta = rerun.Synthesis.ConfidenceScore - original.Synthesis.ConfidenceScore
		}
	}
	if rerun.Synthesis != nil {
		newText = rerun.Synthesis.Content
	}

	r.SynthesisDiff = DiffLines(origText, newText)
	r.Identical = r.SameWinner && len(r.SynthesisDiff) == 0
	return r
}

// DiffLines returns a minimal line diff between two texts, "-" prefixing
// removed lines and "+" prefixing added ones. Empty when the texts match.
func DiffLines(a, b string) []string {
	if a == b {
		return nil
	}
	aLines := splitLines(a)
	bLines := splitLines(b)

	// Standard LCS table; synthesis texts are small enough for quadratic.
	n, m := len(aLines), len(bLines)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if aLines[i] == bLines[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var out []string
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case aLines[i] == bLines[j]:
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			out = append(out, "- "+aLines[i])
			i++
		default:
			out = append(out, "+ "+bLines[j])
			j++
		}
	}
	for ; i < n; i++ {
		out = append(out, "- "+aLines[i])
	}
	for ; j < m; j++ {
		out = append(out, "+ "+bLines[j])
	}
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

// FormatReplay renders the report for the CLI.
func FormatReplay(r *ReplayReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "replay of %s\n", r.EntryID)
	if r.Identical {
		sb.WriteString("outcome: identical\n")
		return sb.String()
	}
	if r.SameWinner {
		fmt.Fprintf(&sb, "winner: unchanged (%s)\n", r.OriginalWinner)
	} else {
		fmt.Fprintf(&sb, "winner: %s -> %s\n", orDash(r.OriginalWinner), orDash(r.ReplayWinner))
	}
	fmt.Fprintf(&sb, "consensus delta: %+.2f, confidence delta: %+.2f\n", r.ConsensusDelta, r.ConfidenceDelta)
	if len(r.SynthesisDiff) > 0 {
		fmt.Fprintf(&sb, "synthesis diff (%d lines):\n", len(r.SynthesisDiff))
		for _, line := range r.SynthesisDiff {
			sb.WriteString("  " + line + "\n")
		}
	}
	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
