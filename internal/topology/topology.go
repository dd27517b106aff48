// Package topology expands a named debate topology and a provider roster
// into an ordered plan of phases with participants and per-participant
// visibility. The engine executes plans generically; each topology is a
// pure planning function.
package topology

import (
	"fmt"
	"strings"

	"dev.quorum.engine/internal/models"
)

// Known topology names.
const (
	TopologyMesh            = "mesh"
	TopologyStar            = "star"
	TopologyTournament      = "tournament"
	TopologyMapReduce       = "map_reduce"
	TopologyAdversarialTree = "adversarial_tree"
	TopologyPipeline        = "pipeline"
	TopologyPanel           = "panel"
)

// SynthesizerAuto lets the engine pick the synthesizer (runner-up rule).
const SynthesizerAuto = "auto"

// PromptContext carries everything a phase prompt template may reference
// for one participant.
type PromptContext struct {
	Input         string
	Participant   string
	Round         int
	Visible       map[string]string
	VisibleOrder  []string
	MemoryContext string
	Focus         []string
	Style         models.ChallengeStyle
}

// PhaseSpec is one planned phase. Visibility maps each participant to the
// prior-phase participants whose responses it may read.
type PhaseSpec struct {
	Name         string
	Parallel     bool
	Participants []string
	Visibility   map[string][]string
	SystemPrompt func(PromptContext) string
	UserPrompt   func(PromptContext) string
}

// Plan is the executable expansion of a topology.
type Plan struct {
	Topology      string
	Description   string
	Phases        []PhaseSpec
	VotingEnabled bool
	// Synthesizer is "auto" or a provider name.
	Synthesizer string
}

// Config carries the planning inputs derived from the profile.
type Config struct {
	// Roles maps provider name to a topology role such as "hub",
	// "moderator", "judge", "proponent", "opponent", or "reducer".
	Roles map[string]string
	// Prompts overrides phase prompt templates by phase name.
	Prompts map[string]string
	Style   models.ChallengeStyle
	Focus   []string
	Rounds  int
}

// Build expands the named topology over the roster. Roster order is
// preserved everywhere; it determines anonymization letters and bracket
// seeding.
func Build(name string, roster []string, cfg Config) (*Plan, error) {
	if len(roster) < 2 {
		return nil, models.NewError(models.KindValidate,
			fmt.Sprintf("topology %s requires at least 2 providers, got %d", name, len(roster)))
	}

	var plan *Plan
	var err error
	switch name {
	case TopologyMesh, "":
		plan, err = planMesh(roster, cfg)
	case TopologyStar:
		plan, err = planStar(roster, cfg)
	case TopologyTournament:
		plan, err = planTournament(roster, cfg)
	case TopologyMapReduce:
		plan, err = planMapReduce(roster, cfg)
	case TopologyAdversarialTree:
		plan, err = planAdversarialTree(roster, cfg)
	case TopologyPipeline:
		plan, err = planPipeline(roster, cfg)
	case TopologyPanel:
		plan, err = planPanel(roster, cfg)
	default:
		return nil, models.NewError(models.KindValidate, fmt.Sprintf("unknown topology %q", name))
	}
	if err != nil {
		return nil, err
	}

	if err := validate(plan, roster); err != nil {
		return nil, err
	}
	applyPromptOverrides(plan, cfg)
	return plan, nil
}

// Names lists the built-in topology names.
func Names() []string {
	return []string{
		TopologyMesh, TopologyStar, TopologyTournament, TopologyMapReduce,
		TopologyAdversarialTree, TopologyPipeline, TopologyPanel,
	}
}

// validate checks that every participant belongs to the roster and every
// visibility value is itself a participant of this or an earlier phase.
func validate(plan *Plan, roster []string) error {
	inRoster := make(map[string]bool, len(roster))
	for _, p := range roster {
		inRoster[p] = true
	}

	seen := make(map[string]bool)
	for _, phase := range plan.Phases {
		for _, p := range phase.Participants {
			if !inRoster[p] {
				return models.NewError(models.KindValidate, fmt.Sprintf(
					"topology %s phase %s names unknown participant %q", plan.Topology, phase.Name, p))
			}
		}
		phaseSet := make(map[string]bool, len(phase.Participants))
		for _, p := range phase.Participants {
			phaseSet[p] = true
		}
		for viewer, sources := range phase.Visibility {
			if !phaseSet[viewer] {
				return models.NewError(models.KindValidate, fmt.Sprintf(
					"topology %s phase %s grants visibility to non-participant %q",
					plan.Topology, phase.Name, viewer))
			}
			for _, src := range sources {
				if !seen[src] && !phaseSet[src] {
					return models.NewError(models.KindValidate, fmt.Sprintf(
						"topology %s phase %s: %s may read %q which has not participated",
						plan.Topology, phase.Name, viewer, src))
				}
			}
		}
		for p := range phaseSet {
			seen[p] = true
		}
	}
	return nil
}

// roleHolder finds the provider assigned the given role, falling back to
// the roster head when the role is unassigned. An assignment naming a
// provider outside the roster is an error.
func roleHolder(role string, roster []string, cfg Config) (string, error) {
	for provider, r := range cfg.Roles {
		if strings.EqualFold(r, role) {
			for _, p := range roster {
				if p == provider {
					return provider, nil
				}
			}
			return "", models.NewError(models.KindValidate, fmt.Sprintf(
				"role %s assigned to %q which is not in the roster", role, provider))
		}
	}
	return roster[0], nil
}

// allVisible gives every participant read access to every other.
func allVisible(participants []string) map[string][]string {
	vis := make(map[string][]string, len(participants))
	for _, viewer := range participants {
		var others []string
		for _, p := range participants {
			if p != viewer {
				others = append(others, p)
			}
		}
		vis[viewer] = others
	}
	return vis
}

// onlyVisible grants each participant the same fixed source list.
func onlyVisible(participants, sources []string) map[string][]string {
	vis := make(map[string][]string, len(participants))
	for _, viewer := range participants {
		vis[viewer] = append([]string(nil), sources...)
	}
	return vis
}

func applyPromptOverrides(plan *Plan, cfg Config) {
	if len(cfg.Prompts) == 0 {
		return
	}
	for i := range plan.Phases {
		tmpl, ok := cfg.Prompts[plan.Phases[i].Name]
		if !ok {
			tmpl, ok = cfg.Prompts[strings.ToLower(plan.Phases[i].Name)]
		}
		if !ok {
			continue
		}
		template := tmpl
		plan.Phases[i].UserPrompt = func(ctx PromptContext) string {
			return renderTemplate(template, ctx)
		}
	}
}

// renderTemplate substitutes {{input}}, {{participant}} and {{responses}}
// in a profile-supplied prompt template.
func renderTemplate(tmpl string, ctx PromptContext) string {
	out := strings.ReplaceAll(tmpl, "{{input}}", ctx.Input)
	out = strings.ReplaceAll(out, "{{participant}}", ctx.Participant)
	out = strings.ReplaceAll(out, "{{responses}}", FormatVisible(ctx))
	return out
}

// FormatVisible renders the visible prior responses in deterministic
// order for inclusion in a prompt.
func FormatVisible(ctx PromptContext) string {
	if len(ctx.VisibleOrder) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, name := range ctx.VisibleOrder {
		text, ok := ctx.Visible[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "--- %s ---\n%s\n\n", name, text)
	}
	return strings.TrimRight(sb.String(), "\n")
}
