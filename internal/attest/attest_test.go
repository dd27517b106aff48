package attest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.quorum.engine/internal/hashchain"
)

func phasesFor(outputs map[string]string) []hashchain.PhaseRecord {
	return []hashchain.PhaseRecord{
		{
			Phase:        "GATHER",
			ProviderID:   "engine",
			Timestamp:    "2026-08-24T10:00:00Z",
			Participants: []string{"alpha", "beta"},
			Inputs:       map[string]string{"alpha": "q", "beta": "q"},
			Outputs:      outputs,
		},
	}
}

// ============================================================================
// Build / Verify Tests
// ============================================================================

func TestBuildAndVerify(t *testing.T) {
	chain, err := Build("sess-1", time.Now(), phasesFor(map[string]string{"alpha": "a", "beta": "b"}))
	require.NoError(t, err)

	assert.Equal(t, 1, chain.Version)
	assert.Equal(t, "sess-1", chain.SessionID)
	require.Len(t, chain.Records, 1)

	result := Verify(chain)
	assert.True(t, result.Valid)
}

func TestVerify_TamperedRecord(t *testing.T) {
	chain, err := Build("sess-1", time.Now(), phasesFor(map[string]string{"alpha": "a", "beta": "b"}))
	require.NoError(t, err)

	chain.Records[0].OutputsHash = "deadbeef"

	result := Verify(chain)
	assert.False(t, result.Valid)
	assert.Equal(t, "GATHER", result.BrokenAt)
}

// ============================================================================
// Diff Tests
// ============================================================================

// Two deliberations over identical inputs and outputs must attest
// identically even when run at different times.
func TestDiff_IdenticalChains(t *testing.T) {
	outputs := map[string]string{"alpha": "same", "beta": "same"}

	a, err := Build("sess-a", time.Now(), phasesFor(outputs))
	require.NoError(t, err)
	b, err := Build("sess-b", time.Now().Add(time.Hour), phasesFor(outputs))
	require.NoError(t, err)

	d := Diff(a, b)
	assert.Empty(t, d.DivergedAt)
	for _, e := range d.Entries {
		assert.Equal(t, StatusMatch, e.Status)
	}

	text := FormatDiff(d)
	assert.Contains(t, text, "sess-a")
	assert.Contains(t, text, "sess-b")
	assert.Contains(t, text, "identical")
}

func TestDiff_OutputDivergence(t *testing.T) {
	a, err := Build("sess-a", time.Now(), phasesFor(map[string]string{"alpha": "x", "beta": "y"}))
	require.NoError(t, err)
	b, err := Build("sess-b", time.Now(), phasesFor(map[string]string{"alpha": "x", "beta": "different"}))
	require.NoError(t, err)

	d := Diff(a, b)
	require.Len(t, d.Entries, 1)
	assert.Equal(t, StatusDiverged, d.Entries[0].Status)
	assert.Contains(t, d.Entries[0].Detail, "outputs differ")
	assert.Equal(t, "GATHER", d.DivergedAt)
}

func TestDiff_LengthMismatch(t *testing.T) {
	longPhases := []hashchain.PhaseRecord{
		{
			Phase: "GATHER", ProviderID: "engine", Timestamp: "t0",
			Participants: []string{"alpha"},
			Inputs:       map[string]string{"alpha": "q"},
			Outputs:      map[string]string{"alpha": "a"},
		},
		{
			Phase: "DEBATE", ProviderID: "engine", Timestamp: "t1",
			Participants: []string{"alpha"},
			Inputs:       map[string]string{"alpha": "q2"},
			Outputs:      map[string]string{"alpha": "a2"},
		},
	}

	a, err := Build("sess-a", time.Now(), longPhases)
	require.NoError(t, err)
	b, err := Build("sess-b", time.Now(), longPhases[:1])
	require.NoError(t, err)

	d := Diff(a, b)
	require.Len(t, d.Entries, 2)
	assert.Equal(t, StatusMatch, d.Entries[0].Status)
	assert.Equal(t, StatusOnlyLeft, d.Entries[1].Status)
	assert.Equal(t, "DEBATE", d.DivergedAt)
}

// ============================================================================
// Export Tests
// ============================================================================

func TestExportBinary_RoundTrip(t *testing.T) {
	chain, err := Build("sess-1", time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		phasesFor(map[string]string{"alpha": "a", "beta": "b"}))
	require.NoError(t, err)

	jsonBytes, err := ExportJSON(chain)
	require.NoError(t, err)

	frame, err := ExportBinary(chain)
	require.NoError(t, err)

	payload, err := ImportBinary(frame)
	require.NoError(t, err)
	assert.Equal(t, jsonBytes, payload)
}

func TestImportBinary_Truncated(t *testing.T) {
	_, err := ImportBinary([]byte{0, 0})
	assert.Error(t, err)
}
