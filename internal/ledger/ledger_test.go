package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.quorum.engine/internal/models"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "decisions", "ledger.jsonl"))
	require.NoError(t, err)
	return l
}

func sampleEntry(input string) models.LedgerEntry {
	return models.LedgerEntry{
		Input:    input,
		Profile:  "balanced",
		Topology: "mesh",
		Providers: []models.ProviderConfig{
			{Name: "claude", Kind: "anthropic"},
			{Name: "gpt", Kind: "openai"},
		},
		Synthesis: &models.Synthesis{
			Content:         "Use optimistic locking.",
			Synthesizer:     "gpt",
			ConsensusScore:  0.8,
			ConfidenceScore: 0.7,
		},
		Votes: &models.VoteResult{
			Winner: "claude",
			Rankings: []models.ScoredProvider{
				{Provider: "claude", Score: 4},
				{Provider: "gpt", Score: 2},
			},
		},
	}
}

// ============================================================================
// Append and Chain Tests
// ============================================================================

func TestAppend_ChainsEntries(t *testing.T) {
	l := newLedger(t)

	first, err := l.Append(sampleEntry("question one"))
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.NotEmpty(t, first.Hash)
	assert.Empty(t, first.PreviousHash)

	second, err := l.Append(sampleEntry("question two"))
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PreviousHash)

	all, err := l.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestVerify_CleanChain(t *testing.T) {
	l := newLedger(t)
	for _, q := range []string{"a", "b", "c"} {
		_, err := l.Append(sampleEntry(q))
		require.NoError(t, err)
	}

	res, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 3, res.Entries)
	assert.Equal(t, -1, res.BrokenAt)
}

func TestVerify_DetectsTamper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := New(path)
	require.NoError(t, err)
	_, err = l.Append(sampleEntry("a"))
	require.NoError(t, err)
	_, err = l.Append(sampleEntry("b"))
	require.NoError(t, err)

	// Rewrite an input without recomputing hashes.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"input":"a"`, `"input":"z"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	res, err := l.Verify()
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 0, res.BrokenAt)
}

func TestVerify_EmptyLedger(t *testing.T) {
	l := newLedger(t)
	res, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Zero(t, res.Entries)
}

// ============================================================================
// Lookup Tests
// ============================================================================

func TestGet_ByIDAndLast(t *testing.T) {
	l := newLedger(t)
	first, err := l.Append(sampleEntry("first"))
	require.NoError(t, err)
	second, err := l.Append(sampleEntry("second"))
	require.NoError(t, err)

	got, err := l.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Input)

	got, err = l.Get("last")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	got, err = l.Get("")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	// Unambiguous prefix resolves.
	got, err = l.Get(first.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = l.Get("nope")
	assert.Error(t, err)
}

func TestGet_EmptyLedger(t *testing.T) {
	l := newLedger(t)
	_, err := l.Get("last")
	assert.ErrorContains(t, err, "empty")
}

// ============================================================================
// Export and Replay Tests
// ============================================================================

func TestExportADR(t *testing.T) {
	l := newLedger(t)
	e, err := l.Append(sampleEntry("Should we shard the user table?"))
	require.NoError(t, err)

	adr := ExportADR(e)
	assert.Contains(t, adr, "# ADR: Should we shard the user table?")
	assert.Contains(t, adr, "Use optimistic locking.")
	assert.Contains(t, adr, "claude, gpt")
	assert.Contains(t, adr, "Consensus 0.80, confidence 0.70")
	assert.Contains(t, adr, "1. claude (4.00)")
}

func TestCompareReplay_Identical(t *testing.T) {
	entry := sampleEntry("q")
	entry.ID = "e1"
	rerun := &models.DeliberationResult{
		Synthesis: entry.Synthesis,
		Votes:     entry.Votes,
	}
	r := CompareReplay(&entry, rerun)
	assert.True(t, r.Identical)
	assert.True(t, r.SameWinner)
	assert.Empty(t, r.SynthesisDiff)
	assert.Contains(t, FormatReplay(r), "identical")
}

func TestCompareReplay_Diverged(t *testing.T) {
	entry := sampleEntry("q")
	entry.ID = "e1"
	rerun := &models.DeliberationResult{
		Synthesis: &models.Synthesis{
			Content:         "Use pessimistic locking.",
			ConsensusScore:  0.6,
			ConfidenceScore: 0.9,
		},
		Votes: &models.VoteResult{Winner: "gpt"},
	}

	r := CompareReplay(&entry, rerun)
	assert.False(t, r.Identical)
	assert.False(t, r.SameWinner)
	assert.InDelta(t, -0.2, r.ConsensusDelta, 1e-9)
	assert.InDelta(t, 0.2, r.ConfidenceDelta, 1e-9)
	assert.Equal(t, []string{
		"- Use optimistic locking.",
		"+ Use pessimistic locking.",
	}, r.SynthesisDiff)

	out := FormatReplay(r)
	assert.Contains(t, out, "claude -> gpt")
	assert.Contains(t, out, "synthesis diff")
}

func TestReplay_RunsRecordedInput(t *testing.T) {
	l := newLedger(t)
	entry, err := l.Append(sampleEntry("original question"))
	require.NoError(t, err)

	var ranWith string
	r, err := l.Replay(context.Background(), entry.ID, func(ctx context.Context, input string) (*models.DeliberationResult, error) {
		ranWith = input
		return &models.DeliberationResult{Synthesis: entry.Synthesis, Votes: entry.Votes}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "original question", ranWith)
	assert.True(t, r.Identical)
}

func TestDiffLines(t *testing.T) {
	assert.Nil(t, DiffLines("same\ntext", "same\ntext"))

	diff := DiffLines("a\nb\nc", "a\nx\nc")
	assert.Equal(t, []string{"- b", "+ x"}, diff)

	diff = DiffLines("", "new line")
	assert.Equal(t, []string{"+ new line"}, diff)
}
