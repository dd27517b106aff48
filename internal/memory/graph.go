// Package memory is the persistent keyword-indexed store of prior
// deliberations. Retrieval scores candidates by token Jaccard over the
// input and tags; contradiction detection flags priors whose recorded
// winner or claim polarity conflicts with a new synthesis. The store is a
// single JSON file shared across processes; writes go through
// write-to-temp-then-rename.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"dev.quorum.engine/internal/models"
)

// DefaultThreshold is the minimum similarity for a retrieval hit.
const DefaultThreshold = 0.2

// Graph is a file-backed memory store keyed by session id.
type Graph struct {
	path string
	mu   sync.Mutex
}

// NewGraph creates a graph backed by the given file.
func NewGraph(path string) *Graph {
	return &Graph{path: path}
}

// Store inserts or replaces the node for its session id.
func (g *Graph) Store(node models.MemoryNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes, err := g.load()
	if err != nil {
		return err
	}

	replaced := false
	for i, n := range nodes {
		if n.SessionID == node.SessionID {
			nodes[i] = node
			replaced = true
			break
		}
	}
	if !replaced {
		nodes = append(nodes, node)
	}
	return g.save(nodes)
}

// Hit is one retrieval result with its similarity score.
type Hit struct {
	Node  models.MemoryNode `json:"node"`
	Score float64           `json:"score"`
}

// Similar returns up to k prior nodes whose input and tags overlap the
// query above the threshold, best first. A zero threshold uses the default.
func (g *Graph) Similar(input string, k int, threshold float64) ([]Hit, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	g.mu.Lock()
	nodes, err := g.load()
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}

	query := tokenize(input)
	var hits []Hit
	for _, n := range nodes {
		candidate := tokenize(n.Input + " " + strings.Join(n.Tags, " "))
		score := jaccard(query, candidate)
		if score >= threshold {
			hits = append(hits, Hit{Node: n, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

var negatedRe = regexp.MustCompile(`(?i)\b(not|no|never|cannot|avoid|against|reject)\b`)

// Contradictions compares a new synthesis against prior nodes and emits a
// short sentence for each prior that appears to disagree: either an
// opposite polarity on overlapping entities, or a different recorded
// winner for a near-identical question.
func (g *Graph) Contradictions(synthesis string, priors []Hit, winner string) []string {
	synTokens := tokenize(synthesis)
	synNegated := negatedRe.MatchString(synthesis)

	var notes []string
	for _, h := range priors {
		overlap := jaccard(synTokens, tokenize(h.Node.Input))
		if overlap < 0.15 {
			continue
		}

		priorNegated := negatedRe.MatchString(h.Node.Input)
		switch {
		case priorNegated != synNegated:
			notes = append(notes, fmt.Sprintf(
				"Session %s reached the opposite polarity on a similar question (%q).",
				h.Node.SessionID, truncate(h.Node.Input, 80)))
		case h.Node.Winner != "" && winner != "" && h.Node.Winner != winner && h.Score >= 0.5:
			notes = append(notes, fmt.Sprintf(
				"Session %s favored %s over %s on a near-identical question.",
				h.Node.SessionID, h.Node.Winner, winner))
		}
	}
	return notes
}

// FormatHits renders retrieval hits as a prompt-ready summary block.
func FormatHits(hits []Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Prior deliberations on related questions:\n")
	for _, h := range hits {
		fmt.Fprintf(&sb, "- [%s] %s", h.Node.SessionID, truncate(h.Node.Input, 100))
		if h.Node.Winner != "" {
			fmt.Fprintf(&sb, " (winner: %s, consensus %.2f)", h.Node.Winner, h.Node.ConsensusScore)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (g *Graph) load() ([]models.MemoryNode, error) {
	data, err := os.ReadFile(g.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory graph: %w", err)
	}
	var nodes []models.MemoryNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parse memory graph: %w", err)
	}
	return nodes, nil
}

func (g *Graph) save(nodes []models.MemoryNode) error {
	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(g.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".memory-*")
	if err != nil {
		return fmt.Errorf("create temp memory file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, g.path)
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(t) > 2 {
			out[t] = true
		}
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
