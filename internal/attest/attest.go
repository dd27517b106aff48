// Package attest derives tamper-evident attestation chains from recorded
// deliberation sessions and compares chains across runs. A chain is the
// per-session sequence of hash chain entries; two runs over identical inputs
// and outputs produce byte-identical chains.
package attest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"dev.quorum.engine/internal/hashchain"
	"dev.quorum.engine/internal/models"
)

// DiffStatus classifies one phase position when comparing two chains.
type DiffStatus string

const (
	StatusMatch     DiffStatus = "match"
	StatusDiverged  DiffStatus = "diverged"
	StatusOnlyLeft  DiffStatus = "only-left"
	StatusOnlyRight DiffStatus = "only-right"
)

// DiffEntry describes one phase position of a chain comparison.
type DiffEntry struct {
	Phase  string     `json:"phase"`
	Status DiffStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
}

// DiffResult is the full comparison of two attestation chains. DivergedAt
// names the first non-matching phase, empty when the chains agree.
type DiffResult struct {
	Left       string      `json:"left"`
	Right      string      `json:"right"`
	Entries    []DiffEntry `json:"entries"`
	DivergedAt string      `json:"diverged_at,omitempty"`
}

// Build derives the attestation chain for a session from its phase records.
func Build(sessionID string, createdAt time.Time, phases []hashchain.PhaseRecord) (*models.AttestationChain, error) {
	records, err := hashchain.Build(phases)
	if err != nil {
		return nil, fmt.Errorf("build attestation chain: %w", err)
	}
	return &models.AttestationChain{
		Version:   1,
		SessionID: sessionID,
		CreatedAt: createdAt,
		Records:   records,
	}, nil
}

// Verify checks the internal linkage of a chain: each record's hash must be
// reproducible from its components and each previous-hash must point at the
// preceding record.
func Verify(chain *models.AttestationChain) hashchain.VerifyResult {
	if chain == nil || len(chain.Records) == 0 {
		return hashchain.VerifyResult{Valid: false, Details: "empty chain"}
	}

	prev := ""
	for _, rec := range chain.Records {
		if rec.PreviousHash != prev {
			return hashchain.VerifyResult{
				Valid:    false,
				BrokenAt: rec.Phase,
				Details:  fmt.Sprintf("previous hash mismatch at phase %s", rec.Phase),
			}
		}
		recomputed := models.HashChainEntry{
			Phase:        rec.Phase,
			InputsHash:   rec.InputsHash,
			OutputsHash:  rec.OutputsHash,
			PreviousHash: rec.PreviousHash,
			Timestamp:    rec.Timestamp,
			ProviderID:   rec.ProviderID,
		}
		if want := entryHash(recomputed); want != rec.Hash {
			return hashchain.VerifyResult{
				Valid:    false,
				BrokenAt: rec.Phase,
				Details:  fmt.Sprintf("hash mismatch at phase %s", rec.Phase),
			}
		}
		prev = rec.Hash
	}
	return hashchain.VerifyResult{Valid: true}
}

// entryHash mirrors the hashchain preimage so a chain can be re-verified
// from its serialized form alone.
func entryHash(e models.HashChainEntry) string {
	preimage := strings.Join([]string{
		e.PreviousHash, e.InputsHash, e.OutputsHash, e.Phase, e.ProviderID, e.Timestamp,
	}, "\x1f")
	return hashchain.HexSHA256([]byte(preimage))
}

// Diff compares two chains phase by phase. Comparison is positional on
// phase names; timestamps are ignored so re-runs of identical content match.
func Diff(a, b *models.AttestationChain) DiffResult {
	result := DiffResult{Left: a.SessionID, Right: b.SessionID}

	n := len(a.Records)
	if len(b.Records) > n {
		n = len(b.Records)
	}

	for i := 0; i < n; i++ {
		switch {
		case i >= len(b.Records):
			rec := a.Records[i]
			result.Entries = append(result.Entries, DiffEntry{
				Phase:  rec.Phase,
				Status: StatusOnlyLeft,
				Detail: fmt.Sprintf("phase %s present only in %s", rec.Phase, a.SessionID),
			})
		case i >= len(a.Records):
			rec := b.Records[i]
			result.Entries = append(result.Entries, DiffEntry{
				Phase:  rec.Phase,
				Status: StatusOnlyRight,
				Detail: fmt.Sprintf("phase %s present only in %s", rec.Phase, b.SessionID),
			})
		default:
			result.Entries = append(result.Entries, comparePair(a.Records[i], b.Records[i]))
		}
	}

	for _, e := range result.Entries {
		if e.Status != StatusMatch {
			result.DivergedAt = e.Phase
			break
		}
	}
	return result
}

func comparePair(left, right models.HashChainEntry) DiffEntry {
	switch {
	case left.Phase != right.Phase:
		return DiffEntry{
			Phase:  left.Phase,
			Status: StatusDiverged,
			Detail: fmt.Sprintf("phase mismatch: %s vs %s", left.Phase, right.Phase),
		}
	case left.InputsHash != right.InputsHash:
		return DiffEntry{Phase: left.Phase, Status: StatusDiverged, Detail: "inputs differ"}
	case left.OutputsHash != right.OutputsHash:
		return DiffEntry{Phase: left.Phase, Status: StatusDiverged, Detail: "outputs differ"}
	case left.ProviderID != right.ProviderID:
		return DiffEntry{Phase: left.Phase, Status: StatusDiverged, Detail: "provider differs"}
	default:
		return DiffEntry{Phase: left.Phase, Status: StatusMatch}
	}
}

// FormatDiff renders a human-readable comparison report.
func FormatDiff(d DiffResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Attestation diff: %s vs %s\n", d.Left, d.Right)

	if d.DivergedAt == "" {
		sb.WriteString("Chains are identical.\n")
	} else {
		fmt.Fprintf(&sb, "Chains diverge at phase %s.\n", d.DivergedAt)
	}

	for _, e := range d.Entries {
		if e.Detail != "" {
			fmt.Fprintf(&sb, "  %-12s %-10s %s\n", e.Phase, e.Status, e.Detail)
		} else {
			fmt.Fprintf(&sb, "  %-12s %s\n", e.Phase, e.Status)
		}
	}
	return sb.String()
}

// ExportJSON renders the chain as byte-stable canonical JSON.
func ExportJSON(chain *models.AttestationChain) ([]byte, error) {
	return hashchain.CanonicalJSON(chain)
}

// ExportBinary frames the canonical JSON with a 4-byte big-endian length
// prefix, suitable for embedding in other artifact streams.
func ExportBinary(chain *models.AttestationChain) ([]byte, error) {
	payload, err := ExportJSON(chain)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(payload))); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

// ImportBinary parses a length-prefixed canonical JSON frame back into raw
// JSON bytes.
func ImportBinary(frame []byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("binary frame too short: %d bytes", len(frame))
	}
	size := binary.BigEndian.Uint32(frame[:4])
	if int(size) != len(frame)-4 {
		return nil, fmt.Errorf("binary frame length mismatch: header %d, payload %d", size, len(frame)-4)
	}
	return frame[4:], nil
}
