// Package session provides the file-backed session store: one directory per
// deliberation holding meta, per-phase outputs, synthesis, and auxiliary
// artifacts, plus a global index across sessions. Every write is atomic via
// write-to-temp-then-rename, so readers never observe a partial document.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dev.quorum.engine/internal/models"
)

const (
	metaFile      = "meta.json"
	synthesisFile = "synthesis.json"
	indexFile     = "index.json"
)

// Store manages session directories under a common root.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the sessions root directory.
func (s *Store) Root() string { return s.root }

// Session is a handle to one session directory. The engine is the only
// writer for the lifetime of a deliberation.
type Session struct {
	ID  string
	Dir string
}

// Init creates the directory for a new session.
func (s *Store) Init(sessionID string) (*Session, error) {
	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Session{ID: sessionID, Dir: dir}, nil
}

// Open returns a handle to an existing session directory.
func (s *Store) Open(sessionID string) (*Session, error) {
	dir := filepath.Join(s.root, sessionID)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return &Session{ID: sessionID, Dir: dir}, nil
}

// WriteMeta records the start-of-run metadata. Written exactly once.
func (sess *Session) WriteMeta(meta models.SessionMeta) error {
	return writeJSONAtomic(filepath.Join(sess.Dir, metaFile), meta)
}

// ReadMeta loads the session metadata.
func (sess *Session) ReadMeta() (models.SessionMeta, error) {
	var meta models.SessionMeta
	err := readJSON(filepath.Join(sess.Dir, metaFile), &meta)
	return meta, err
}

// WritePhase records one phase output under <key>.json, e.g. "01-gather".
func (sess *Session) WritePhase(key string, output models.PhaseOutput) error {
	if key == "" {
		return fmt.Errorf("phase key must not be empty")
	}
	return writeJSONAtomic(filepath.Join(sess.Dir, key+".json"), output)
}

// WriteSynthesis records the final synthesis together with the vote result.
func (sess *Session) WriteSynthesis(synthesis *models.Synthesis, votes *models.VoteResult) error {
	doc := struct {
		Synthesis *models.Synthesis  `json:"synthesis"`
		Votes     *models.VoteResult `json:"votes"`
	}{synthesis, votes}
	return writeJSONAtomic(filepath.Join(sess.Dir, synthesisFile), doc)
}

// WriteArtifact records an auxiliary document such as evidence-report or
// adaptive-decisions.
func (sess *Session) WriteArtifact(name string, v interface{}) error {
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return writeJSONAtomic(filepath.Join(sess.Dir, name), v)
}

// ReadSynthesis loads the final synthesis and vote result.
func (sess *Session) ReadSynthesis() (*models.Synthesis, *models.VoteResult, error) {
	var doc struct {
		Synthesis *models.Synthesis  `json:"synthesis"`
		Votes     *models.VoteResult `json:"votes"`
	}
	if err := readJSON(filepath.Join(sess.Dir, synthesisFile), &doc); err != nil {
		return nil, nil, err
	}
	return doc.Synthesis, doc.Votes, nil
}

// ReadArtifact loads an auxiliary document previously written by
// WriteArtifact.
func (sess *Session) ReadArtifact(name string, v interface{}) error {
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return readJSON(filepath.Join(sess.Dir, name), v)
}

// PhaseFiles lists the phase documents of the session in lexical order,
// which matches execution order under the NN-<phase> naming scheme.
func (sess *Session) PhaseFiles() ([]string, error) {
	entries, err := os.ReadDir(sess.Dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if name == metaFile || name == synthesisFile || !isPhaseFile(name) {
			continue
		}
		files = append(files, name)
	}
	// Compare keys without the .json suffix: "04-debate" must precede
	// "04-debate-r2", but "04-debate-r2.json" < "04-debate.json" because
	// '-' sorts before '.'.
	sort.Slice(files, func(i, j int) bool {
		return strings.TrimSuffix(files[i], ".json") < strings.TrimSuffix(files[j], ".json")
	})
	return files, nil
}

// isPhaseFile matches the NN-<phase>.json naming scheme.
func isPhaseFile(name string) bool {
	if len(name) < 4 {
		return false
	}
	return name[0] >= '0' && name[0] <= '9' && name[1] >= '0' && name[1] <= '9' && name[2] == '-'
}

// ReadPhases loads all phase outputs of the session in execution order.
func (sess *Session) ReadPhases() ([]models.PhaseOutput, error) {
	files, err := sess.PhaseFiles()
	if err != nil {
		return nil, err
	}
	outputs := make([]models.PhaseOutput, 0, len(files))
	for _, f := range files {
		var out models.PhaseOutput
		if err := readJSON(filepath.Join(sess.Dir, f), &out); err != nil {
			return nil, fmt.Errorf("read phase %s: %w", f, err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// AppendIndex adds a row to the global session index atomically. The index
// is shared across processes; last-writer-wins at whole-file granularity.
func (s *Store) AppendIndex(row models.IndexRow) error {
	path := filepath.Join(s.root, indexFile)

	var rows []models.IndexRow
	if err := readJSON(path, &rows); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read index: %w", err)
	}
	rows = append(rows, row)
	return writeJSONAtomic(path, rows)
}

// ReadIndex loads the global session index. A missing index is an empty one.
func (s *Store) ReadIndex() ([]models.IndexRow, error) {
	var rows []models.IndexRow
	err := readJSON(filepath.Join(s.root, indexFile), &rows)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return rows, err
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
