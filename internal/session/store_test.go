package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.quorum.engine/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

// ============================================================================
// Session Lifecycle Tests
// ============================================================================

func TestInitAndMeta(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.Init("sess-1")
	require.NoError(t, err)
	assert.DirExists(t, sess.Dir)

	meta := models.SessionMeta{
		SessionID: "sess-1",
		StartedAt: time.Now().UTC(),
		Input:     "what is the best approach?",
		Profile:   "default",
		Providers: []string{"alpha", "beta"},
		Topology:  "mesh",
	}
	require.NoError(t, sess.WriteMeta(meta))

	got, err := sess.ReadMeta()
	require.NoError(t, err)
	assert.Equal(t, meta.Input, got.Input)
	assert.Equal(t, meta.Providers, got.Providers)
}

func TestOpen_Missing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Open("no-such-session")
	assert.Error(t, err)
}

// ============================================================================
// Phase Output Tests
// ============================================================================

func TestWriteAndReadPhases(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Init("sess-1")
	require.NoError(t, err)

	phases := []struct {
		key   string
		phase string
	}{
		{"01-gather", "GATHER"},
		{"02-plan", "PLAN"},
		{"04-debate", "DEBATE"},
		{"04-debate-r2", "DEBATE"},
	}
	for _, p := range phases {
		out := models.PhaseOutput{
			Phase:        p.phase,
			Timestamp:    time.Now().UTC(),
			DurationMs:   120,
			Participants: []string{"alpha", "beta"},
			Responses:    map[string]string{"alpha": "a:" + p.key, "beta": "b:" + p.key},
		}
		require.NoError(t, sess.WritePhase(p.key, out))
	}

	got, err := sess.ReadPhases()
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "GATHER", got[0].Phase)
	assert.Equal(t, "a:01-gather", got[0].Responses["alpha"])
	// Extra debate rounds sort after the base debate file.
	assert.Equal(t, "a:04-debate-r2", got[3].Responses["alpha"])
}

func TestPhaseFiles_ExcludesMetaAndSynthesis(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Init("sess-1")
	require.NoError(t, err)

	require.NoError(t, sess.WriteMeta(models.SessionMeta{SessionID: "sess-1"}))
	require.NoError(t, sess.WritePhase("01-gather", models.PhaseOutput{Phase: "GATHER"}))
	require.NoError(t, sess.WriteSynthesis(&models.Synthesis{Content: "done"}, &models.VoteResult{}))
	require.NoError(t, sess.WriteArtifact("adaptive-decisions", []string{"continue"}))

	files, err := sess.PhaseFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"01-gather.json"}, files)
}

func TestWritePhase_EmptyKey(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Init("sess-1")
	require.NoError(t, err)
	assert.Error(t, sess.WritePhase("", models.PhaseOutput{}))
}

// ============================================================================
// Atomicity Tests
// ============================================================================

func TestWrite_NoTempLeftovers(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Init("sess-1")
	require.NoError(t, err)

	require.NoError(t, sess.WritePhase("01-gather", models.PhaseOutput{Phase: "GATHER"}))

	entries, err := os.ReadDir(sess.Dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

// ============================================================================
// Index Tests
// ============================================================================

func TestAppendAndReadIndex(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AppendIndex(models.IndexRow{
		SessionID: "sess-1", Question: "q1", Winner: "alpha", Duration: 100,
	}))
	require.NoError(t, store.AppendIndex(models.IndexRow{
		SessionID: "sess-2", Question: "q2", Winner: "beta", Duration: 200,
	}))

	rows, err := store.ReadIndex()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "sess-1", rows[0].SessionID)
	assert.Equal(t, "beta", rows[1].Winner)

	assert.FileExists(t, filepath.Join(store.Root(), "index.json"))
}

func TestReadIndex_Missing(t *testing.T) {
	store := newTestStore(t)
	rows, err := store.ReadIndex()
	require.NoError(t, err)
	assert.Empty(t, rows)
}
