// Package models defines the shared value types that flow between the
// deliberation engine and its supporting subsystems: provider configuration,
// phase outputs, ballots, vote results, synthesis, and ledger entries.
package models

import (
	"time"
)

// ProviderConfig identifies a configured language-model provider. It is
// created at configuration load and immutable for the duration of a
// deliberation.
type ProviderConfig struct {
	Name       string `json:"name" yaml:"name"`
	Kind       string `json:"kind" yaml:"kind"`
	ModelID    string `json:"model_id" yaml:"model_id"`
	AuthSpec   string `json:"auth_spec,omitempty" yaml:"auth_spec,omitempty"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
	// ContextTokens is the provider's input window; zero means the
	// registry default for the kind.
	ContextTokens int `json:"context_tokens,omitempty" yaml:"context_tokens,omitempty"`
}

// Timeout returns the configured per-call timeout, defaulting to 120s.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(p.TimeoutSec) * time.Second
}

// ChallengeStyle selects the rhetorical posture agents take in debate phases.
type ChallengeStyle string

const (
	StyleAdversarial   ChallengeStyle = "adversarial"
	StyleCollaborative ChallengeStyle = "collaborative"
	StyleSocratic      ChallengeStyle = "socratic"
)

// EvidenceMode controls how evidence scoring affects the run.
type EvidenceMode string

const (
	EvidenceOff      EvidenceMode = "off"
	EvidenceAdvisory EvidenceMode = "advisory"
	EvidenceStrict   EvidenceMode = "strict"
)

// AgentProfile is the per-run behavioral configuration. CLI overrides
// produce a derived copy before the run starts; the profile is immutable
// during a deliberation.
type AgentProfile struct {
	Name                 string             `json:"name" yaml:"name"`
	Focus                []string           `json:"focus,omitempty" yaml:"focus,omitempty"`
	ChallengeStyle       ChallengeStyle     `json:"challenge_style,omitempty" yaml:"challenge_style,omitempty"`
	Rounds               int                `json:"rounds,omitempty" yaml:"rounds,omitempty"`
	ConvergenceThreshold float64            `json:"convergence_threshold,omitempty" yaml:"convergence_threshold,omitempty"`
	Phases               []string           `json:"phases,omitempty" yaml:"phases,omitempty"`
	Roles                map[string]string  `json:"roles,omitempty" yaml:"roles,omitempty"`
	Prompts              map[string]string  `json:"prompts,omitempty" yaml:"prompts,omitempty"`
	Weights              map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	Evidence             EvidenceMode       `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	VotingMethod         string             `json:"voting_method,omitempty" yaml:"voting_method,omitempty"`
	Hooks                map[string]string  `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	ExcludeProviders     []string           `json:"exclude_from_deliberation,omitempty" yaml:"exclude_from_deliberation,omitempty"`
	Topology             string             `json:"topology,omitempty" yaml:"topology,omitempty"`
	AdaptivePreset       string             `json:"adaptive_preset,omitempty" yaml:"adaptive_preset,omitempty"`
	ReputationWeighting  bool               `json:"reputation_weighting,omitempty" yaml:"reputation_weighting,omitempty"`
	Checkpoints          []string           `json:"checkpoints,omitempty" yaml:"checkpoints,omitempty"`
	ControversyThreshold float64            `json:"controversy_threshold,omitempty" yaml:"controversy_threshold,omitempty"`
	RedTeam              bool               `json:"red_team,omitempty" yaml:"red_team,omitempty"`
}

// Clone returns a deep copy suitable for applying per-run overrides.
func (p AgentProfile) Clone() AgentProfile {
	out := p
	out.Focus = append([]string(nil), p.Focus...)
	out.Phases = append([]string(nil), p.Phases...)
	out.ExcludeProviders = append([]string(nil), p.ExcludeProviders...)
	out.Checkpoints = append([]string(nil), p.Checkpoints...)
	out.Roles = cloneStringMap(p.Roles)
	out.Prompts = cloneStringMap(p.Prompts)
	out.Hooks = cloneStringMap(p.Hooks)
	if p.Weights != nil {
		out.Weights = make(map[string]float64, len(p.Weights))
		for k, v := range p.Weights {
			out.Weights[k] = v
		}
	}
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SessionMeta is written once at the start of a deliberation.
type SessionMeta struct {
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Input       string    `json:"input"`
	Profile     string    `json:"profile"`
	Providers   []string  `json:"providers"`
	Topology    string    `json:"topology"`
}

// PhaseOutput records one completed phase. The Responses map holds exactly
// one entry per phase participant; failed participants carry the fallback
// string. Participants preserves roster order for deterministic
// serialization.
type PhaseOutput struct {
	Phase        string            `json:"phase"`
	Timestamp    time.Time         `json:"timestamp"`
	DurationMs   int64             `json:"duration_ms"`
	Participants []string          `json:"participants"`
	Responses    map[string]string `json:"responses"`
}

// Ranking is one entry of a ballot: a candidate and its 1-based dense rank.
type Ranking struct {
	Provider string `json:"provider"`
	Rank     int    `json:"rank"`
	Reason   string `json:"reason,omitempty"`
}

// Ballot is a single voter's ranking over the candidate set. Ties are not
// representable; parsers collapse them by line order.
type Ballot struct {
	Voter    string    `json:"voter"`
	Rankings []Ranking `json:"rankings"`
}

// RankOf returns the voter's rank for the candidate, or 0 when unranked.
func (b Ballot) RankOf(candidate string) int {
	for _, r := range b.Rankings {
		if r.Provider == candidate {
			return r.Rank
		}
	}
	return 0
}

// ScoredProvider pairs a candidate with its method-specific score.
type ScoredProvider struct {
	Provider string  `json:"provider"`
	Score    float64 `json:"score"`
}

// VoteDetail carries per-candidate diagnostics from the tally.
type VoteDetail struct {
	Ranks     []int  `json:"ranks"`
	Rationale string `json:"rationale,omitempty"`
}

// VoteResult is the outcome of a tally. Winner is always rankings[0];
// Controversial is true iff the top two scores differ by at most one unit.
type VoteResult struct {
	Rankings      []ScoredProvider      `json:"rankings"`
	Winner        string                `json:"winner"`
	Controversial bool                  `json:"controversial"`
	Method        string                `json:"method"`
	Details       map[string]VoteDetail `json:"details,omitempty"`
	VotingDetails string                `json:"voting_details,omitempty"`
}

// Synthesis is the final synthesized answer plus its parsed scores.
type Synthesis struct {
	Content         string              `json:"content"`
	Synthesizer     string              `json:"synthesizer"`
	ConsensusScore  float64             `json:"consensus_score"`
	ConfidenceScore float64             `json:"confidence_score"`
	Controversial   bool                `json:"controversial"`
	MinorityReport  string              `json:"minority_report,omitempty"`
	Contributions   map[string][]string `json:"contributions,omitempty"`
	WhatWouldChange string              `json:"what_would_change,omitempty"`
}

// DeliberationResult is the authoritative in-memory outcome of a run.
// Persistence failures never invalidate it.
type DeliberationResult struct {
	SessionID  string      `json:"session_id"`
	SessionDir string      `json:"session_dir"`
	Input      string      `json:"input"`
	Synthesis  *Synthesis  `json:"synthesis"`
	Votes      *VoteResult `json:"votes"`
	DurationMs int64       `json:"duration_ms"`
}

// HashChainEntry is one link of a phase hash chain. Hash covers
// previousHash, inputsHash, outputsHash, phase, providerId and timestamp.
type HashChainEntry struct {
	Phase        string `json:"phase"`
	InputsHash   string `json:"inputs_hash"`
	OutputsHash  string `json:"outputs_hash"`
	PreviousHash string `json:"previous_hash,omitempty"`
	Hash         string `json:"hash"`
	Timestamp    string `json:"timestamp"`
	ProviderID   string `json:"provider_id"`
}

// AttestationChain is the per-session sequence of hash chain entries,
// derived deterministically from the session directory contents.
type AttestationChain struct {
	Version   int              `json:"version"`
	SessionID string           `json:"session_id"`
	CreatedAt time.Time        `json:"created_at"`
	Records   []HashChainEntry `json:"records"`
}

// LedgerEntry is one completed deliberation in the cross-session ledger.
type LedgerEntry struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Input        string            `json:"input"`
	Profile      string            `json:"profile"`
	Providers    []ProviderConfig  `json:"providers"`
	Topology     string            `json:"topology"`
	Synthesis    *Synthesis        `json:"synthesis"`
	Votes        *VoteResult       `json:"votes"`
	Options      map[string]string `json:"options,omitempty"`
	PreviousHash string            `json:"previous_hash,omitempty"`
	Hash         string            `json:"hash"`
}

// MemoryNode is a prior deliberation as stored in the memory graph.
type MemoryNode struct {
	SessionID      string    `json:"session_id"`
	Input          string    `json:"input"`
	Tags           []string  `json:"tags,omitempty"`
	ConsensusScore float64   `json:"consensus_score,omitempty"`
	Winner         string    `json:"winner,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// AttackPack is a read-only set of adversarial probes for the optional
// red-team phase.
type AttackPack struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Vectors     []string `json:"vectors" yaml:"vectors"`
}

// IndexRow is one line of the global session index.
type IndexRow struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Question  string    `json:"question"`
	Winner    string    `json:"winner"`
	Duration  int64     `json:"duration_ms"`
}
