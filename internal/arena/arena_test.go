package arena

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.quorum.engine/internal/models"
)

func newArena(t *testing.T) *Arena {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "arena", "stats.json"))
	require.NoError(t, err)
	return a
}

func rankings(ordered ...string) []models.ScoredProvider {
	out := make([]models.ScoredProvider, len(ordered))
	for i, p := range ordered {
		out[i] = models.ScoredProvider{Provider: p, Score: float64(len(ordered) - i)}
	}
	return out
}

// ============================================================================
// Recording Tests
// ============================================================================

func TestRecord_WinnerAndLosers(t *testing.T) {
	a := newArena(t)

	require.NoError(t, a.Record("s1", rankings("claude", "gpt", "gemini")))
	require.NoError(t, a.Record("s2", rankings("gpt", "claude", "gemini")))

	claude, ok, err := a.Get("claude")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, claude.Wins)
	assert.Equal(t, 1, claude.Losses)
	assert.Equal(t, 2, claude.Sessions)
	assert.Equal(t, "s2", claude.LastSession)
	assert.InDelta(t, 0.5, claude.WinRate(), 1e-9)

	gemini, ok, err := a.Get("gemini")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, gemini.Wins)
	assert.Equal(t, 2, gemini.Losses)
}

func TestRecord_EmptyRankingsNoop(t *testing.T) {
	a := newArena(t)
	require.NoError(t, a.Record("s1", nil))

	all, err := a.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecord_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	a, err := New(path)
	require.NoError(t, err)
	require.NoError(t, a.Record("s1", rankings("claude", "gpt")))

	reopened, err := New(path)
	require.NoError(t, err)
	s, ok, err := reopened.Get("claude")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, s.Wins)
}

// ============================================================================
// Ordering and Weight Tests
// ============================================================================

func TestAll_SortedByWinRate(t *testing.T) {
	a := newArena(t)
	require.NoError(t, a.Record("s1", rankings("claude", "gpt", "gemini")))
	require.NoError(t, a.Record("s2", rankings("claude", "gemini", "gpt")))
	require.NoError(t, a.Record("s3", rankings("gpt", "claude", "gemini")))

	all, err := a.All()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "claude", all[0].Provider)
	assert.Equal(t, "gpt", all[1].Provider)
	assert.Equal(t, "gemini", all[2].Provider)
}

func TestWeights_NeutralWithoutHistory(t *testing.T) {
	a := newArena(t)

	w, err := a.Weights([]string{"claude", "gpt"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, w["claude"], 1e-9)
	assert.InDelta(t, 1.0, w["gpt"], 1e-9)
}

func TestWeights_WinnersGainLosersLose(t *testing.T) {
	a := newArena(t)
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		require.NoError(t, a.Record(id, rankings("claude", "gpt")))
	}

	w, err := a.Weights([]string{"claude", "gpt", "newcomer"})
	require.NoError(t, err)
	// 4 wins in 4 sessions: (4+1)/(4+2) smoothed.
	assert.InDelta(t, 0.75+0.5*5.0/6.0, w["claude"], 1e-9)
	assert.InDelta(t, 0.75+0.5*1.0/6.0, w["gpt"], 1e-9)
	assert.InDelta(t, 1.0, w["newcomer"], 1e-9)
	assert.Greater(t, w["claude"], w["newcomer"])
	assert.Less(t, w["gpt"], w["newcomer"])

	// Weights stay inside the tilt band.
	for _, v := range w {
		assert.GreaterOrEqual(t, v, 0.75)
		assert.LessOrEqual(t, v, 1.25)
	}
}

func TestFormat(t *testing.T) {
	a := newArena(t)
	require.NoError(t, a.Record("s1", rankings("claude", "gpt")))

	all, err := a.All()
	require.NoError(t, err)
	out := Format(all)
	assert.Contains(t, out, "PROVIDER")
	assert.Contains(t, out, "claude")

	assert.Contains(t, Format(nil), "no arena history")
}
