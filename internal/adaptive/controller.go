// Package adaptive measures cross-response entropy between phases and
// decides whether the remaining pipeline should shorten, extend, or proceed
// unchanged. Decisions are pure functions of the responses and the preset,
// so identical inputs always produce identical decisions.
package adaptive

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Action is the controller's verdict after a phase.
type Action string

const (
	ActionContinue         Action = "continue"
	ActionSkipPhases       Action = "skip-phases"
	ActionAddRound         Action = "add-round"
	ActionSkipToSynthesize Action = "skip-to-synthesize"
)

// Decision is one adaptive evaluation, recorded for post-run analysis.
type Decision struct {
	Phase      string   `json:"phase"`
	Action     Action   `json:"action"`
	Reason     string   `json:"reason"`
	Entropy    float64  `json:"entropy"`
	SkipPhases []string `json:"skip_phases,omitempty"`
}

// Preset bundles the entropy thresholds for a controller profile.
type Preset struct {
	Name string
	// LowEntropy is the agreement threshold: below it, remaining debate
	// phases add little and can be skipped.
	LowEntropy float64
	// HighEntropy is the disagreement threshold: above it after a debate
	// phase, one extra round is worth running.
	HighEntropy float64
}

// Named presets. Fast converges aggressively; critical insists on more
// deliberation before cutting anything.
var presets = map[string]Preset{
	"fast":     {Name: "fast", LowEntropy: 0.35, HighEntropy: 0.85},
	"balanced": {Name: "balanced", LowEntropy: 0.2, HighEntropy: 0.75},
	"critical": {Name: "critical", LowEntropy: 0.1, HighEntropy: 0.6},
}

// PresetByName returns the named preset, defaulting to balanced.
func PresetByName(name string) Preset {
	if p, ok := presets[name]; ok {
		return p
	}
	return presets["balanced"]
}

// Controller evaluates phases against a preset.
type Controller struct {
	preset Preset
}

// NewController creates a controller with the given preset name.
func NewController(presetName string) *Controller {
	return &Controller{preset: PresetByName(presetName)}
}

// clusterJaccard is the token-set similarity at which two responses join
// the same content cluster.
const clusterJaccard = 0.5

// Evaluate inspects a completed phase and returns the controller's
// decision for the remaining pipeline. Skipping only ever names phases
// that have not started; the engine enforces the add-round cap.
func (c *Controller) Evaluate(phase string, responses map[string]string, remaining []string) Decision {
	entropy := ResponseEntropy(responses)
	d := Decision{Phase: phase, Entropy: entropy}

	debatePhase := strings.EqualFold(phase, "DEBATE") || strings.EqualFold(phase, "REBUTTAL")

	switch {
	case entropy <= c.preset.LowEntropy && len(remaining) > 0:
		// Strong agreement: drop the optional argument phases. Voting and
		// synthesis always run when still queued.
		skippable := skippablePhases(remaining)
		switch {
		case len(skippable) == 0:
			d.Action = ActionContinue
			d.Reason = "responses converged but no skippable phases remain"
		case !containsFold(remaining, "VOTE"):
			d.Action = ActionSkipToSynthesize
			d.Reason = fmt.Sprintf("entropy %.2f under %.2f; proceeding straight to synthesis",
				entropy, c.preset.LowEntropy)
		default:
			d.Action = ActionSkipPhases
			d.SkipPhases = skippable
			d.Reason = fmt.Sprintf("entropy %.2f under %.2f; responses converged, skipping %s",
				entropy, c.preset.LowEntropy, strings.Join(skippable, ", "))
		}

	case entropy >= c.preset.HighEntropy && debatePhase:
		d.Action = ActionAddRound
		d.Reason = fmt.Sprintf("entropy %.2f over %.2f; positions unresolved, adding a debate round",
			entropy, c.preset.HighEntropy)

	default:
		d.Action = ActionContinue
		d.Reason = fmt.Sprintf("entropy %.2f within thresholds", entropy)
	}
	return d
}

// skippablePhases lists the remaining phases that are safe to drop when
// responses have converged. Voting and synthesis always run.
func skippablePhases(remaining []string) []string {
	var out []string
	for _, p := range remaining {
		switch strings.ToUpper(p) {
		case "VOTE", "SYNTHESIZE":
		default:
			out = append(out, p)
		}
	}
	return out
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

// ResponseEntropy partitions responses into content clusters (token-set
// Jaccard at least 0.5) and returns the normalized Shannon entropy across
// cluster weights. Zero means unanimous content; one means every response
// is its own cluster.
func ResponseEntropy(responses map[string]string) float64 {
	names := make([]string, 0, len(responses))
	for name := range responses {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) < 2 {
		return 0
	}

	tokenSets := make([]map[string]bool, len(names))
	for i, name := range names {
		tokenSets[i] = tokenSet(responses[name])
	}

	clusterOf := make([]int, len(names))
	for i := range clusterOf {
		clusterOf[i] = -1
	}
	clusters := 0
	for i := range names {
		if clusterOf[i] >= 0 {
			continue
		}
		clusterOf[i] = clusters
		for j := i + 1; j < len(names); j++ {
			if clusterOf[j] < 0 && jaccard(tokenSets[i], tokenSets[j]) >= clusterJaccard {
				clusterOf[j] = clusters
			}
		}
		clusters++
	}

	if clusters == 1 {
		return 0
	}

	sizes := make([]float64, clusters)
	for _, c := range clusterOf {
		sizes[c]++
	}

	n := float64(len(names))
	entropy := 0.0
	for _, size := range sizes {
		p := size / n
		entropy -= p * math.Log2(p)
	}
	return entropy / math.Log2(n)
}

// Convergence is the average pairwise token-set Jaccard across responses.
// The engine compares it against the profile's convergence threshold to
// decide whether the rebuttal phase is still worth running.
func Convergence(responses map[string]string) float64 {
	names := make([]string, 0, len(responses))
	for name := range responses {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) < 2 {
		return 1
	}

	sets := make([]map[string]bool, len(names))
	for i, name := range names {
		sets[i] = tokenSet(responses[name])
	}

	sum, pairs := 0.0, 0
	for i := range sets {
		for j := i + 1; j < len(sets); j++ {
			sum += jaccard(sets[i], sets[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

func tokenSet(text string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		out[t] = true
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
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
