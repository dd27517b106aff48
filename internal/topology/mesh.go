package topology

import (
	"fmt"
	"strings"

	"dev.quorum.engine/internal/models"
)

// Canonical phase names shared across topologies.
const (
	PhaseGather     = "GATHER"
	PhasePlan       = "PLAN"
	PhaseFormulate  = "FORMULATE"
	PhaseDebate     = "DEBATE"
	PhaseAdjust     = "ADJUST"
	PhaseRebuttal   = "REBUTTAL"
	PhaseVote       = "VOTE"
	PhaseSynthesize = "SYNTHESIZE"
)

// planMesh builds the full deliberation pipeline: every participant runs
// every phase and sees every other participant's prior output.
func planMesh(roster []string, cfg Config) (*Plan, error) {
	phases := []PhaseSpec{
		{
			Name:         PhaseGather,
			Parallel:     true,
			Participants: roster,
			Visibility:   map[string][]string{},
			SystemPrompt: withMemory(systemFor(cfg, "an expert analyst")),
			UserPrompt:   gatherPrompt,
		},
		{
			Name:         PhasePlan,
			Parallel:     true,
			Participants: roster,
			Visibility:   allVisible(roster),
			SystemPrompt: systemFor(cfg, "a solution architect"),
			UserPrompt:   planPrompt,
		},
		{
			Name:         PhaseFormulate,
			Parallel:     true,
			Participants: roster,
			Visibility:   allVisible(roster),
			SystemPrompt: systemFor(cfg, "a solution author"),
			UserPrompt:   formulatePrompt,
		},
		{
			Name:         PhaseDebate,
			Parallel:     true,
			Participants: roster,
			Visibility:   allVisible(roster),
			SystemPrompt: systemFor(cfg, "a critical reviewer"),
			UserPrompt:   debatePrompt,
		},
		{
			Name:         PhaseAdjust,
			Parallel:     true,
			Participants: roster,
			Visibility:   allVisible(roster),
			SystemPrompt: systemFor(cfg, "a solution author revising under critique"),
			UserPrompt:   adjustPrompt,
		},
		{
			Name:         PhaseRebuttal,
			Parallel:     true,
			Participants: roster,
			Visibility:   allVisible(roster),
			SystemPrompt: systemFor(cfg, "a debater defending a position"),
			UserPrompt:   rebuttalPrompt,
		},
		{
			Name:         PhaseVote,
			Parallel:     true,
			Participants: roster,
			Visibility:   allVisible(roster),
			SystemPrompt: systemFor(cfg, "an impartial judge"),
			UserPrompt:   votePrompt,
		},
	}

	return &Plan{
		Topology:      TopologyMesh,
		Description:   "full mesh: every provider participates in every phase with full visibility",
		Phases:        phases,
		VotingEnabled: true,
		Synthesizer:   SynthesizerAuto,
	}, nil
}

// systemFor produces a system prompt builder for the given persona,
// honoring the profile's challenge style and focus areas.
func systemFor(cfg Config, persona string) func(PromptContext) string {
	return func(ctx PromptContext) string {
		var sb strings.Builder
		fmt.Fprintf(&sb, "You are %s participating in a structured multi-model deliberation.", persona)
		switch cfg.Style {
		case models.StyleAdversarial:
			sb.WriteString(" Challenge weak reasoning directly; do not soften disagreement.")
		case models.StyleCollaborative:
			sb.WriteString(" Build on the strongest parts of other contributions.")
		case models.StyleSocratic:
			sb.WriteString(" Probe other contributions with pointed questions before asserting conclusions.")
		}
		if len(cfg.Focus) > 0 {
			fmt.Fprintf(&sb, " Pay particular attention to: %s.", strings.Join(cfg.Focus, ", "))
		}
		sb.WriteString(" Be concrete and concise.")
		return sb.String()
	}
}

// withMemory appends retrieved prior-deliberation context to a system
// prompt builder. Memory belongs in the system segment so the opening
// user prompt stays the bare question.
func withMemory(base func(PromptContext) string) func(PromptContext) string {
	return func(ctx PromptContext) string {
		s := base(ctx)
		if ctx.MemoryContext != "" {
			s += "\n\nRelevant prior deliberations:\n" + ctx.MemoryContext
		}
		return s
	}
}

func gatherPrompt(ctx PromptContext) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(ctx.Input)
	sb.WriteString("\n\nList the facts, constraints, and unknowns relevant to this question. Do not propose a solution yet.")
	return sb.String()
}

func planPrompt(ctx PromptContext) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(ctx.Input)
	sb.WriteString("\n\nFact-gathering from all participants:\n\n")
	sb.WriteString(FormatVisible(ctx))
	sb.WriteString("\n\nOutline your approach to answering the question. Identify the key decisions and their trade-offs.")
	return sb.String()
}

func formulatePrompt(ctx PromptContext) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(ctx.Input)
	sb.WriteString("\n\nApproaches proposed so far:\n\n")
	sb.WriteString(FormatVisible(ctx))
	sb.WriteString("\n\nWrite your complete answer to the question. Commit to a position.")
	return sb.String()
}

func debatePrompt(ctx PromptContext) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(ctx.Input)
	sb.WriteString("\n\nCandidate answers from the other participants:\n\n")
	sb.WriteString(FormatVisible(ctx))
	sb.WriteString("\n\nCritique each answer. Name specific flaws, missing considerations, and incorrect claims. Acknowledge what is strong.")
	return sb.String()
}

func adjustPrompt(ctx PromptContext) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(ctx.Input)
	sb.WriteString("\n\nCritiques raised during debate:\n\n")
	sb.WriteString(FormatVisible(ctx))
	sb.WriteString("\n\nRevise your answer in light of the critiques. Keep what survived scrutiny; fix what did not.")
	return sb.String()
}

func rebuttalPrompt(ctx PromptContext) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(ctx.Input)
	sb.WriteString("\n\nRevised answers:\n\n")
	sb.WriteString(FormatVisible(ctx))
	sb.WriteString("\n\nWhere you still disagree with another answer, state your rebuttal. Where you now agree, say so explicitly.")
	return sb.String()
}

// votePrompt shows anonymized positions; the engine substitutes letters
// for provider names in ctx.Visible before calling it.
func votePrompt(ctx PromptContext) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(ctx.Input)
	sb.WriteString("\n\nFinal positions (anonymized):\n\n")
	sb.WriteString(FormatVisible(ctx))
	sb.WriteString("\n\nRank every position from best to worst. Respond with a JSON object of the form\n")
	sb.WriteString("{\"rankings\": [{\"position\": \"A\", \"rank\": 1, \"reason\": \"...\"}]}\n")
	sb.WriteString("covering all positions exactly once.")
	return sb.String()
}
