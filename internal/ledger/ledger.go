// Package ledger is the cross-session decision record: one hash-chained
// entry per completed deliberation, stored as a JSON-lines file. The chain
// makes retroactive edits detectable; export renders entries as
// architecture decision records.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dev.quorum.engine/internal/hashchain"
	"dev.quorum.engine/internal/models"
)

// Ledger is a file-backed append-only decision log.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// New opens the ledger at path, creating parent directories as needed.
func New(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, models.WrapError(models.KindPersist, "create ledger dir", err)
	}
	return &Ledger{path: path}, nil
}

// Append finalizes the entry (ID, timestamp, chain hashes) and appends it.
// The returned entry carries the assigned ID and hash.
func (l *Ledger) Append(entry models.LedgerEntry) (*models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.PreviousHash = ""
	if len(entries) > 0 {
		entry.PreviousHash = entries[len(entries)-1].Hash
	}
	hash, err := entryHash(entry)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash

	entries = append(entries, entry)
	if err := l.writeAll(entries); err != nil {
		return nil, err
	}
	return &entry, nil
}

// entryHash hashes the entry with its own Hash field cleared, so the
// digest covers PreviousHash and all content.
func entryHash(e models.LedgerEntry) (string, error) {
	e.Hash = ""
	return hashchain.HashValue(e)
}

// All returns every entry in append order.
func (l *Ledger) All() ([]models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAll()
}

// Get returns the entry with the given ID, or the newest entry when id is
// empty or "last". ID prefixes are accepted when unambiguous.
func (l *Ledger) Get(id string) (*models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, models.NewError(models.KindValidate, "ledger is empty")
	}
	if id == "" || id == "last" {
		return &entries[len(entries)-1], nil
	}

	var match *models.LedgerEntry
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
		if strings.HasPrefix(entries[i].ID, id) {
			if match != nil {
				return nil, models.NewError(models.KindValidate,
					fmt.Sprintf("ledger id prefix %q is ambiguous", id))
			}
			match = &entries[i]
		}
	}
	if match == nil {
		return nil, models.NewError(models.KindValidate, fmt.Sprintf("no ledger entry %q", id))
	}
	return match, nil
}

// VerifyResult reports chain integrity.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt int    `json:"broken_at"`
	Detail   string `json:"detail,omitempty"`
}

// Verify recomputes every entry hash and checks the previous-hash links.
func (l *Ledger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	prev := ""
	for i, e := range entries {
		if e.PreviousHash != prev {
			return &VerifyResult{Entries: len(entries), BrokenAt: i,
				Detail: fmt.Sprintf("entry %d previous hash does not match entry %d", i, i-1)}, nil
		}
		want, err := entryHash(e)
		if err != nil {
			return nil, err
		}
		if e.Hash != want {
			return &VerifyResult{Entries: len(entries), BrokenAt: i,
				Detail: fmt.Sprintf("entry %d content does not match its hash", i)}, nil
		}
		prev = e.Hash
	}
	return &VerifyResult{Valid: true, Entries: len(entries), BrokenAt: -1}, nil
}

// ExportADR renders one entry as a Markdown architecture decision record.
func ExportADR(e *models.LedgerEntry) string {
	var sb strings.Builder
	title := strings.TrimSpace(e.Input)
	if len(title) > 80 {
		title = title[:77] + "..."
	}
	fmt.Fprintf(&sb, "# ADR: %s\n\n", title)
	fmt.Fprintf(&sb, "- **ID**: %s\n", e.ID)
	fmt.Fprintf(&sb, "- **Date**: %s\n", e.Timestamp.Format("2006-01-02"))
	fmt.Fprintf(&sb, "- **Topology**: %s\n", e.Topology)
	fmt.Fprintf(&sb, "- **Profile**: %s\n", e.Profile)

	var names []string
	for _, p := range e.Providers {
		names = append(names, p.Name)
	}
	fmt.Fprintf(&sb, "- **Deliberators**: %s\n\n", strings.Join(names, ", "))

	sb.WriteString("## Context\n\n")
	sb.WriteString(e.Input)
	sb.WriteString("\n\n## Decision\n\n")
	if e.Synthesis != nil {
		sb.WriteString(e.Synthesis.Content)
		sb.WriteString("\n")
		if e.Synthesis.MinorityReport != "" {
			sb.WriteString("\n## Minority Report\n\n")
			sb.WriteString(e.Synthesis.MinorityReport)
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "\n## Consensus\n\nConsensus %.2f, confidence %.2f",
			e.Synthesis.ConsensusScore, e.Synthesis.ConfidenceScore)
		if e.Synthesis.Controversial {
			sb.WriteString(" (controversial)")
		}
		sb.WriteString(".\n")
	} else {
		sb.WriteString("_No synthesis recorded._\n")
	}
	if e.Votes != nil && len(e.Votes.Rankings) > 0 {
		sb.WriteString("\n## Vote\n\n")
		for i, r := range e.Votes.Rankings {
			fmt.Fprintf(&sb, "%d. %s (%.2f)\n", i+1, r.Provider, r.Score)
		}
	}
	return sb.String()
}

func (l *Ledger) readAll() ([]models.LedgerEntry, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, models.WrapError(models.KindPersist, "open ledger", err)
	}
	defer f.Close()

	var entries []models.LedgerEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e models.LedgerEntry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, models.WrapError(models.KindParse,
				fmt.Sprintf("ledger line %d", line), err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, models.WrapError(models.KindPersist, "read ledger", err)
	}
	return entries, nil
}

func (l *Ledger) writeAll(entries []models.LedgerEntry) error {
	var sb strings.Builder
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return models.WrapError(models.KindPersist, "encode ledger entry", err)
		}
		sb.Write(data)
		sb.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*.tmp")
	if err != nil {
		return models.WrapError(models.KindPersist, "write ledger", err)
	}
	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return models.WrapError(models.KindPersist, "write ledger", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return models.WrapError(models.KindPersist, "write ledger", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return models.WrapError(models.KindPersist, "write ledger", err)
	}
	return nil
}
