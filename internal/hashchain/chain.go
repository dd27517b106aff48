package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"dev.quorum.engine/internal/models"
)

// PhaseRecord is the hashable view of one completed phase: the prompt
// inputs and the responses, both keyed by participant and hashed in
// participant order.
type PhaseRecord struct {
	Phase        string
	ProviderID   string
	Timestamp    string
	Participants []string
	Inputs       map[string]string
	Outputs      map[string]string
}

// VerifyResult reports chain verification. BrokenAt names the first phase
// whose recomputed hash disagrees with the recorded one.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	BrokenAt string `json:"broken_at,omitempty"`
	Details  string `json:"details,omitempty"`
}

// Build produces the hash chain for the given phases, left to right. The
// first entry has an empty previous hash.
func Build(phases []PhaseRecord) ([]models.HashChainEntry, error) {
	entries := make([]models.HashChainEntry, 0, len(phases))
	prev := ""
	for _, p := range phases {
		entry, err := buildEntry(p, prev)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", p.Phase, err)
		}
		entries = append(entries, entry)
		prev = entry.Hash
	}
	return entries, nil
}

// Verify recomputes every entry from its phase record and reports the first
// mismatch. A length mismatch between chain and phases is itself a failure.
func Verify(chain []models.HashChainEntry, phases []PhaseRecord) VerifyResult {
	if len(chain) != len(phases) {
		return VerifyResult{
			Valid:   false,
			Details: fmt.Sprintf("chain has %d entries, expected %d", len(chain), len(phases)),
		}
	}

	prev := ""
	for i, p := range phases {
		want, err := buildEntry(p, prev)
		if err != nil {
			return VerifyResult{Valid: false, BrokenAt: p.Phase, Details: err.Error()}
		}
		got := chain[i]
		if got.Hash != want.Hash ||
			got.InputsHash != want.InputsHash ||
			got.OutputsHash != want.OutputsHash ||
			got.PreviousHash != want.PreviousHash {
			return VerifyResult{
				Valid:    false,
				BrokenAt: p.Phase,
				Details:  fmt.Sprintf("hash mismatch at phase %s", p.Phase),
			}
		}
		prev = got.Hash
	}
	return VerifyResult{Valid: true}
}

func buildEntry(p PhaseRecord, prev string) (models.HashChainEntry, error) {
	inputsHash, err := hashParticipantMap(p.Participants, p.Inputs)
	if err != nil {
		return models.HashChainEntry{}, err
	}
	outputsHash, err := hashParticipantMap(p.Participants, p.Outputs)
	if err != nil {
		return models.HashChainEntry{}, err
	}

	entry := models.HashChainEntry{
		Phase:        p.Phase,
		InputsHash:   inputsHash,
		OutputsHash:  outputsHash,
		PreviousHash: prev,
		Timestamp:    p.Timestamp,
		ProviderID:   p.ProviderID,
	}
	entry.Hash = entryHash(entry)
	return entry, nil
}

// hashParticipantMap hashes values in explicit participant order so the
// digest is independent of Go map iteration.
func hashParticipantMap(participants []string, values map[string]string) (string, error) {
	ordered := make([]interface{}, 0, len(participants))
	for _, name := range participants {
		ordered = append(ordered, map[string]interface{}{
			"participant": name,
			"value":       values[name],
		})
	}
	canonical, err := CanonicalJSON(ordered)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// entryHash computes H(previousHash ‖ inputsHash ‖ outputsHash ‖ phase ‖
// providerId ‖ timestamp) with a field separator to keep the preimage
// unambiguous.
func entryHash(e models.HashChainEntry) string {
	preimage := strings.Join([]string{
		e.PreviousHash,
		e.InputsHash,
		e.OutputsHash,
		e.Phase,
		e.ProviderID,
		e.Timestamp,
	}, "\x1f")
	sum := sha256.Sum256([]byte(preimage))
	return hex.EncodeToString(sum[:])
}

// HexSHA256 returns the hex-encoded SHA-256 digest of b.
func HexSHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashValue canonicalizes v and returns its SHA-256 hex digest. The ledger
// uses this for entry hashing.
func HashValue(v interface{}) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
