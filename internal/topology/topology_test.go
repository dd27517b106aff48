package topology

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.quorum.engine/internal/models"
)

var roster = []string{"claude", "gpt", "gemini", "grok"}

// ============================================================================
// Structural Invariant Tests
// ============================================================================

// Every built-in topology must only grant visibility into responses that
// exist by the time the viewer runs: sources must participate in the same
// phase or an earlier one, and viewers must participate in their phase.
func TestBuild_VisibilityInvariantAllTopologies(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			plan, err := Build(name, roster, Config{})
			require.NoError(t, err)
			require.NotEmpty(t, plan.Phases)

			seen := map[string]bool{}
			for _, phase := range plan.Phases {
				inPhase := map[string]bool{}
				for _, p := range phase.Participants {
					assert.Contains(t, roster, p)
					inPhase[p] = true
				}
				for viewer, sources := range phase.Visibility {
					assert.True(t, inPhase[viewer],
						"%s/%s: viewer %s not a participant", name, phase.Name, viewer)
					for _, src := range sources {
						assert.True(t, seen[src] || inPhase[src],
							"%s/%s: %s reads %s before it participated", name, phase.Name, viewer, src)
					}
				}
				for p := range inPhase {
					seen[p] = true
				}
			}
		})
	}
}

func TestBuild_EveryTopologyHasSynthesizer(t *testing.T) {
	for _, name := range Names() {
		plan, err := Build(name, roster, Config{})
		require.NoError(t, err)
		if plan.Synthesizer != SynthesizerAuto {
			assert.Contains(t, roster, plan.Synthesizer, "topology %s", name)
		}
		if plan.VotingEnabled {
			last := plan.Phases[len(plan.Phases)-1]
			assert.Equal(t, PhaseVote, last.Name, "topology %s must end with a vote", name)
		}
	}
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build("hexagon", roster, Config{})
	assert.ErrorContains(t, err, "unknown topology")

	_, err = Build(TopologyMesh, []string{"solo"}, Config{})
	assert.ErrorContains(t, err, "at least 2")

	_, err = Build(TopologyStar, roster, Config{Roles: map[string]string{"mystery": "hub"}})
	assert.ErrorContains(t, err, "not in the roster")
}

// ============================================================================
// Mesh Tests
// ============================================================================

func TestMesh_CanonicalPhaseOrder(t *testing.T) {
	plan, err := Build(TopologyMesh, roster, Config{})
	require.NoError(t, err)

	var names []string
	for _, p := range plan.Phases {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{
		PhaseGather, PhasePlan, PhaseFormulate, PhaseDebate,
		PhaseAdjust, PhaseRebuttal, PhaseVote,
	}, names)
	assert.True(t, plan.VotingEnabled)
	assert.Equal(t, SynthesizerAuto, plan.Synthesizer)

	// Gather is blind; everything after sees all peers.
	assert.Empty(t, plan.Phases[0].Visibility)
	assert.ElementsMatch(t, []string{"gpt", "gemini", "grok"}, plan.Phases[3].Visibility["claude"])
}

func TestMesh_PromptsCarryContext(t *testing.T) {
	plan, err := Build(TopologyMesh, roster, Config{
		Style: models.StyleAdversarial,
		Focus: []string{"security", "cost"},
	})
	require.NoError(t, err)

	ctx := PromptContext{
		Input:         "Should we shard the user table?",
		Participant:   "claude",
		MemoryContext: "previous run favored vertical partitioning",
	}
	gather := plan.Phases[0]
	assert.Contains(t, gather.UserPrompt(ctx), "Should we shard the user table?")
	sys := gather.SystemPrompt(ctx)
	assert.Contains(t, sys, "security, cost")
	assert.Contains(t, sys, "Challenge weak reasoning")
	// Retrieved memory rides in the system segment, not the question.
	assert.Contains(t, sys, "vertical partitioning")
	assert.NotContains(t, gather.UserPrompt(ctx), "vertical partitioning")
}

// ============================================================================
// Star Tests
// ============================================================================

func TestStar_HubRole(t *testing.T) {
	plan, err := Build(TopologyStar, roster, Config{
		Roles: map[string]string{"gemini": "hub"},
	})
	require.NoError(t, err)

	assert.Equal(t, "gemini", plan.Synthesizer)

	agg := plan.Phases[1]
	assert.Equal(t, "AGGREGATE", agg.Name)
	assert.Equal(t, []string{"gemini"}, agg.Participants)
	assert.ElementsMatch(t, []string{"claude", "gpt", "grok"}, agg.Visibility["gemini"])

	// Spokes never appear in the gather phase's visibility.
	assert.Empty(t, plan.Phases[0].Visibility)
	// Refining spokes see only the hub.
	assert.Equal(t, []string{"gemini"}, plan.Phases[2].Visibility["claude"])
}

func TestStar_DefaultsHubToFirstProvider(t *testing.T) {
	plan, err := Build(TopologyStar, roster, Config{})
	require.NoError(t, err)
	assert.Equal(t, "claude", plan.Synthesizer)
}

// ============================================================================
// Tournament Tests
// ============================================================================

func TestTournament_RotatingPairs(t *testing.T) {
	plan, err := Build(TopologyTournament, roster, Config{Rounds: 2})
	require.NoError(t, err)

	var rounds []PhaseSpec
	for _, p := range plan.Phases {
		if strings.HasPrefix(p.Name, "ROUND_") {
			rounds = append(rounds, p)
		}
	}
	require.Len(t, rounds, 2)

	for _, round := range rounds {
		for viewer, sources := range round.Visibility {
			require.Len(t, sources, 1)
			// Pairings are symmetric.
			assert.Equal(t, []string{viewer}, round.Visibility[sources[0]])
			assert.NotEqual(t, viewer, sources[0])
		}
	}
	// Opponents change between rounds.
	assert.NotEqual(t, rounds[0].Visibility["claude"], rounds[1].Visibility["claude"])
}

func TestTournament_OddRosterLeavesBye(t *testing.T) {
	plan, err := Build(TopologyTournament, []string{"a", "b", "c"}, Config{Rounds: 1})
	require.NoError(t, err)

	for _, p := range plan.Phases {
		if p.Name == "ROUND_1" {
			assert.Len(t, p.Visibility, 2)
		}
	}
}

func TestCirclePairs_CoversEveryOpponentOverFullSchedule(t *testing.T) {
	r := []string{"a", "b", "c", "d"}
	met := map[string]map[string]bool{}
	for round := 0; round < 3; round++ {
		for _, pair := range circlePairs(r, round) {
			for _, m := range [][2]string{{pair[0], pair[1]}, {pair[1], pair[0]}} {
				if met[m[0]] == nil {
					met[m[0]] = map[string]bool{}
				}
				met[m[0]][m[1]] = true
			}
		}
	}
	for _, p := range r {
		assert.Len(t, met[p], 3, "%s must meet every other provider", p)
	}
}

// ============================================================================
// Map-Reduce / Adversarial / Pipeline / Panel Tests
// ============================================================================

func TestMapReduce_Shape(t *testing.T) {
	plan, err := Build(TopologyMapReduce, roster, Config{Roles: map[string]string{"grok": "reducer"}})
	require.NoError(t, err)

	require.Len(t, plan.Phases, 2)
	assert.True(t, plan.Phases[0].Parallel)
	assert.Equal(t, roster, plan.Phases[0].Participants)
	assert.Equal(t, []string{"grok"}, plan.Phases[1].Participants)
	assert.False(t, plan.VotingEnabled)
	assert.Equal(t, "grok", plan.Synthesizer)
}

func TestAdversarialTree_RoleAssignment(t *testing.T) {
	plan, err := Build(TopologyAdversarialTree, roster, Config{
		Roles: map[string]string{"grok": "judge", "gpt": "proponent"},
	})
	require.NoError(t, err)

	require.Len(t, plan.Phases, 3)
	// Opponent fills from roster order, skipping providers already cast.
	assert.ElementsMatch(t, []string{"gpt", "claude"}, plan.Phases[0].Participants)
	assert.Equal(t, []string{"grok"}, plan.Phases[2].Participants)
	assert.Equal(t, "grok", plan.Synthesizer)
	assert.False(t, plan.VotingEnabled)
}

func TestAdversarialTree_RequiresThree(t *testing.T) {
	_, err := Build(TopologyAdversarialTree, []string{"a", "b"}, Config{})
	assert.ErrorContains(t, err, "at least 3")
}

func TestAdversarialTree_RejectsDuplicateRole(t *testing.T) {
	_, err := Build(TopologyAdversarialTree, roster, Config{
		Roles: map[string]string{"claude": "judge", "gpt": "judge"},
	})
	assert.ErrorContains(t, err, "assigned to both")
}

func TestPipeline_SerialStages(t *testing.T) {
	plan, err := Build(TopologyPipeline, roster, Config{})
	require.NoError(t, err)

	require.Len(t, plan.Phases, len(roster))
	for i, phase := range plan.Phases {
		assert.Equal(t, fmt.Sprintf("STAGE_%d", i+1), phase.Name)
		assert.False(t, phase.Parallel)
		require.Len(t, phase.Participants, 1)
		if i > 0 {
			assert.Equal(t, []string{roster[i-1]}, phase.Visibility[roster[i]])
		}
	}
	assert.Equal(t, "grok", plan.Synthesizer)
}

func TestPanel_ModeratorFlow(t *testing.T) {
	plan, err := Build(TopologyPanel, roster, Config{Roles: map[string]string{"gpt": "moderator"}})
	require.NoError(t, err)

	assert.Equal(t, "gpt", plan.Synthesizer)
	assert.Equal(t, []string{"gpt"}, plan.Phases[0].Participants)
	// Panelists open against the framing only.
	assert.Equal(t, []string{"gpt"}, plan.Phases[1].Visibility["claude"])
	assert.True(t, plan.VotingEnabled)
}

// ============================================================================
// Prompt Override Tests
// ============================================================================

func TestBuild_PromptOverride(t *testing.T) {
	plan, err := Build(TopologyMesh, roster, Config{
		Prompts: map[string]string{
			"GATHER": "Custom brief for {{participant}}: {{input}}",
		},
	})
	require.NoError(t, err)

	got := plan.Phases[0].UserPrompt(PromptContext{Input: "the question", Participant: "gpt"})
	assert.Equal(t, "Custom brief for gpt: the question", got)
	// Other phases keep their built-in prompts.
	assert.Contains(t, plan.Phases[1].UserPrompt(PromptContext{Input: "q"}), "Outline your approach")
}

func TestFormatVisible_DeterministicOrder(t *testing.T) {
	ctx := PromptContext{
		Visible:      map[string]string{"b": "second", "a": "first"},
		VisibleOrder: []string{"a", "b"},
	}
	out := FormatVisible(ctx)
	assert.Less(t, strings.Index(out, "first"), strings.Index(out, "second"))
	assert.Contains(t, out, "--- a ---")
}
