// Package arena keeps rolling head-to-head statistics per provider across
// deliberations. Its weights feed reputation-weighted voting: providers
// that keep winning count slightly more, providers that keep losing count
// slightly less.
package arena

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"dev.quorum.engine/internal/models"
)

// Stats is the persistent record for one provider.
type Stats struct {
	Provider    string    `json:"provider"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Sessions    int       `json:"sessions"`
	ScoreSum    float64   `json:"score_sum"`
	LastSession string    `json:"last_session,omitempty"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
}

// WinRate is wins over sessions, zero when the provider has no history.
func (s Stats) WinRate() float64 {
	if s.Sessions == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Sessions)
}

// MeanScore is the average tally score across sessions.
func (s Stats) MeanScore() float64 {
	if s.Sessions == 0 {
		return 0
	}
	return s.ScoreSum / float64(s.Sessions)
}

type fileFormat struct {
	Version int              `json:"version"`
	Updated time.Time        `json:"updated"`
	Stats   map[string]Stats `json:"stats"`
}

// Arena is a file-backed stats store. Safe for concurrent use within one
// process; writes go through a temp file and rename.
type Arena struct {
	mu   sync.Mutex
	path string
}

// New opens the arena at path, creating parent directories as needed.
func New(path string) (*Arena, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, models.WrapError(models.KindPersist, "create arena dir", err)
	}
	return &Arena{path: path}, nil
}

// Record folds one deliberation's final rankings into the stats. The first
// entry is the winner; every other ranked provider takes a loss.
func (a *Arena) Record(sessionID string, rankings []models.ScoredProvider) error {
	if len(rankings) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	stats, err := a.load()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for i, r := range rankings {
		s := stats[r.Provider]
		s.Provider = r.Provider
		s.Sessions++
		s.ScoreSum += r.Score
		if i == 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		s.LastSession = sessionID
		s.LastSeen = now
		stats[r.Provider] = s
	}
	return a.save(stats)
}

// All returns every provider's stats sorted by win rate descending, then
// name ascending.
func (a *Arena) All() ([]Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats, err := a.load()
	if err != nil {
		return nil, err
	}
	out := make([]Stats, 0, len(stats))
	for _, s := range stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WinRate() != out[j].WinRate() {
			return out[i].WinRate() > out[j].WinRate()
		}
		return out[i].Provider < out[j].Provider
	})
	return out, nil
}

// Get returns the stats for one provider; ok is false when it has no
// history yet.
func (a *Arena) Get(provider string) (Stats, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats, err := a.load()
	if err != nil {
		return Stats{}, false, err
	}
	s, ok := stats[provider]
	return s, ok, nil
}

// Weights derives voting weights for the given roster from win history.
// Laplace smoothing keeps new providers near neutral: a provider with no
// history weighs exactly 1.0, and the range stays within [0.75, 1.25] so
// reputation tilts close calls without overruling the ballots.
func (a *Arena) Weights(roster []string) (map[string]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats, err := a.load()
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(roster))
	for _, p := range roster {
		s := stats[p]
		smoothed := (float64(s.Wins) + 1) / (float64(s.Sessions) + 2)
		weights[p] = 0.75 + 0.5*smoothed
	}
	return weights, nil
}

func (a *Arena) load() (map[string]Stats, error) {
	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return map[string]Stats{}, nil
	}
	if err != nil {
		return nil, models.WrapError(models.KindPersist, "read arena", err)
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, models.WrapError(models.KindParse, "parse arena", err)
	}
	if f.Stats == nil {
		f.Stats = map[string]Stats{}
	}
	return f.Stats, nil
}

func (a *Arena) save(stats map[string]Stats) error {
	f := fileFormat{Version: 1, Updated: time.Now().UTC(), Stats: stats}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return models.WrapError(models.KindPersist, "encode arena", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(a.path), ".arena-*.tmp")
	if err != nil {
		return models.WrapError(models.KindPersist, "write arena", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return models.WrapError(models.KindPersist, "write arena", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return models.WrapError(models.KindPersist, "write arena", err)
	}
	if err := os.Rename(tmp.Name(), a.path); err != nil {
		os.Remove(tmp.Name())
		return models.WrapError(models.KindPersist, "write arena", err)
	}
	return nil
}

// Format renders the stats as an aligned table for the CLI.
func Format(stats []Stats) string {
	if len(stats) == 0 {
		return "no arena history yet\n"
	}
	out := fmt.Sprintf("%-20s %5s %6s %8s %9s %7s\n", "PROVIDER", "WINS", "LOSSES", "SESSIONS", "WIN RATE", "SCORE")
	for _, s := range stats {
		out += fmt.Sprintf("%-20s %5d %6d %8d %8.0f%% %7.2f\n",
			s.Provider, s.Wins, s.Losses, s.Sessions, s.WinRate()*100, s.MeanScore())
	}
	return out
}
