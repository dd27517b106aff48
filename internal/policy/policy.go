// Package policy evaluates declarative YAML rules before and after a
// deliberation. Rules classify violations as log, warn, pause, or block;
// the engine turns blocks into fatal errors and pauses into interactive
// checkpoints.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Action is the severity attached to a rule.
type Action string

const (
	ActionLog   Action = "log"
	ActionWarn  Action = "warn"
	ActionPause Action = "pause"
	ActionBlock Action = "block"
)

// RuleType enumerates the supported rule variants.
type RuleType string

const (
	RuleMinProviders    RuleType = "min_providers"
	RuleMinConsensus    RuleType = "min_consensus"
	RuleMinConfidence   RuleType = "min_confidence"
	RuleRequireEvidence RuleType = "require_evidence"
	RuleBlockProviders  RuleType = "block_providers"
	RuleHumanApproval   RuleType = "human_approval"
	RuleMaxDuration     RuleType = "max_duration"
	RuleRequireRedTeam  RuleType = "require_red_team"
	RuleInputMatch      RuleType = "input_match"
)

// Rule is one declarative policy rule.
type Rule struct {
	Type      RuleType `yaml:"type" json:"type"`
	Value     float64  `yaml:"value,omitempty" json:"value,omitempty"`
	Providers []string `yaml:"providers,omitempty" json:"providers,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	When      string   `yaml:"when,omitempty" json:"when,omitempty"`
	Action    Action   `yaml:"action" json:"action"`
	Message   string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// Policy is a named set of rules.
type Policy struct {
	Name    string `yaml:"name" json:"name"`
	Version int    `yaml:"version,omitempty" json:"version,omitempty"`
	Rules   []Rule `yaml:"rules" json:"rules"`
}

// Violation is one triggered rule.
type Violation struct {
	Policy  string   `json:"policy"`
	Rule    RuleType `json:"rule"`
	Action  Action   `json:"action"`
	Message string   `json:"message"`
}

// PreInput is the state available before any provider call.
type PreInput struct {
	Input     string
	Providers []string
	Tags      []string
}

// PostInput is the state available after synthesis.
type PostInput struct {
	ConsensusScore  float64
	ConfidenceScore float64
	EvidenceScore   float64
	EvidenceEnabled bool
	RedTeamRan      bool
	Duration        time.Duration
	Tags            []string
}

// Load reads every *.yaml/*.yml file in the given directories in order,
// de-duplicating policies by name with last-wins semantics. Missing
// directories are skipped.
func Load(dirs ...string) ([]Policy, error) {
	byName := make(map[string]Policy)
	var order []string

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read policy dir %s: %w", dir, err)
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			if ext == ".yaml" || ext == ".yml" {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read policy %s: %w", path, err)
			}
			var p Policy
			if err := yaml.Unmarshal(data, &p); err != nil {
				return nil, fmt.Errorf("parse policy %s: %w", path, err)
			}
			if p.Name == "" {
				return nil, fmt.Errorf("policy %s has no name", path)
			}
			if err := validate(p); err != nil {
				return nil, fmt.Errorf("policy %s: %w", path, err)
			}
			if _, seen := byName[p.Name]; !seen {
				order = append(order, p.Name)
			}
			byName[p.Name] = p
		}
	}

	out := make([]Policy, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

func validate(p Policy) error {
	for i, r := range p.Rules {
		switch r.Action {
		case ActionLog, ActionWarn, ActionPause, ActionBlock:
		default:
			return fmt.Errorf("rule %d has invalid action %q", i, r.Action)
		}
		if r.Type == RuleInputMatch {
			if _, err := regexp.Compile(r.Pattern); err != nil {
				return fmt.Errorf("rule %d has invalid pattern: %w", i, err)
			}
		}
	}
	return nil
}

// EvaluatePre checks the rules that apply before provider calls.
func EvaluatePre(p Policy, in PreInput) []Violation {
	var out []Violation
	for _, r := range p.Rules {
		if !whenApplies(r.When, in.Tags) {
			continue
		}
		switch r.Type {
		case RuleMinProviders:
			if len(in.Providers) < int(r.Value) {
				out = append(out, violation(p, r, fmt.Sprintf(
					"deliberation has %d providers, policy requires at least %d",
					len(in.Providers), int(r.Value))))
			}

		case RuleBlockProviders:
			for _, blocked := range r.Providers {
				for _, active := range in.Providers {
					if strings.EqualFold(blocked, active) {
						out = append(out, violation(p, r, fmt.Sprintf(
							"provider %s is blocked by policy", active)))
					}
				}
			}

		case RuleInputMatch:
			re, err := regexp.Compile(r.Pattern)
			if err == nil && re.MatchString(in.Input) {
				out = append(out, violation(p, r, fmt.Sprintf(
					"input matches restricted pattern %q", r.Pattern)))
			}

		case RuleHumanApproval:
			if r.When == "" || r.When == "pre" || whenApplies(r.When, in.Tags) {
				out = append(out, violation(p, r, "human approval required before deliberation"))
			}
		}
	}
	return out
}

// EvaluatePost checks the rules that apply to the finished result.
func EvaluatePost(p Policy, in PostInput) []Violation {
	var out []Violation
	for _, r := range p.Rules {
		if !whenApplies(r.When, in.Tags) {
			continue
		}
		switch r.Type {
		case RuleMinConsensus:
			if in.ConsensusScore < r.Value {
				out = append(out, violation(p, r, fmt.Sprintf(
					"consensus %.2f below required %.2f", in.ConsensusScore, r.Value)))
			}

		case RuleMinConfidence:
			if in.ConfidenceScore < r.Value {
				out = append(out, violation(p, r, fmt.Sprintf(
					"confidence %.2f below required %.2f", in.ConfidenceScore, r.Value)))
			}

		case RuleRequireEvidence:
			if !in.EvidenceEnabled || in.EvidenceScore <= 0 {
				out = append(out, violation(p, r, "evidence scoring required but absent"))
			}

		case RuleRequireRedTeam:
			if !in.RedTeamRan {
				out = append(out, violation(p, r, "red-team phase required but did not run"))
			}

		case RuleMaxDuration:
			if in.Duration > time.Duration(r.Value)*time.Second {
				out = append(out, violation(p, r, fmt.Sprintf(
					"deliberation took %s, policy allows %ds", in.Duration.Round(time.Second), int(r.Value))))
			}
		}
	}
	return out
}

// whenApplies matches a rule's when-condition against run tags. An empty
// condition always applies; otherwise the condition names a required tag.
func whenApplies(when string, tags []string) bool {
	if when == "" || when == "pre" || when == "post" || when == "always" {
		return true
	}
	for _, t := range tags {
		if strings.EqualFold(t, when) {
			return true
		}
	}
	return false
}

func violation(p Policy, r Rule, msg string) Violation {
	if r.Message != "" {
		msg = r.Message
	}
	return Violation{Policy: p.Name, Rule: r.Type, Action: r.Action, Message: msg}
}

// Worst returns the most severe action across violations, or empty when
// there are none.
func Worst(violations []Violation) Action {
	rank := map[Action]int{ActionLog: 1, ActionWarn: 2, ActionPause: 3, ActionBlock: 4}
	worst := Action("")
	for _, v := range violations {
		if rank[v.Action] > rank[worst] {
			worst = v.Action
		}
	}
	return worst
}
