package topology

import (
	"fmt"
	"strings"

	"dev.quorum.engine/internal/models"
)

// planStar routes everything through a hub provider: spokes answer
// independently, the hub aggregates, spokes refine against the hub's
// aggregate, and everyone votes. The hub synthesizes.
func planStar(roster []string, cfg Config) (*Plan, error) {
	hub, err := roleHolder("hub", roster, cfg)
	if err != nil {
		return nil, err
	}
	var spokes []string
	for _, p := range roster {
		if p != hub {
			spokes = append(spokes, p)
		}
	}

	phases := []PhaseSpec{
		{
			Name:         PhaseGather,
			Parallel:     true,
			Participants: spokes,
			Visibility:   map[string][]string{},
			SystemPrompt: systemFor(cfg, "an independent analyst"),
			UserPrompt:   gatherPrompt,
		},
		{
			Name:         "AGGREGATE",
			Parallel:     false,
			Participants: []string{hub},
			Visibility:   map[string][]string{hub: spokes},
			SystemPrompt: systemFor(cfg, "a coordinator consolidating independent analyses"),
			UserPrompt: func(ctx PromptContext) string {
				return fmt.Sprintf("Question:\n%s\n\nIndependent analyses:\n\n%s\n\nConsolidate these into a single candidate answer, noting where the analyses disagree.",
					ctx.Input, FormatVisible(ctx))
			},
		},
		{
			Name:         "REFINE",
			Parallel:     true,
			Participants: spokes,
			Visibility:   onlyVisible(spokes, []string{hub}),
			SystemPrompt: systemFor(cfg, "a reviewer of a consolidated answer"),
			UserPrompt: func(ctx PromptContext) string {
				return fmt.Sprintf("Question:\n%s\n\nConsolidated answer from the coordinator:\n\n%s\n\nState where the consolidation is wrong or incomplete, then give your final answer.",
					ctx.Input, FormatVisible(ctx))
			},
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
		Topology:      TopologyStar,
		Description:   fmt.Sprintf("star: %s coordinates %d spokes", hub, len(spokes)),
		Phases:        phases,
		VotingEnabled: true,
		Synthesizer:   hub,
	}, nil
}

// planTournament pairs providers round-robin style for head-to-head
// argument rounds, then puts every position to a vote. Pairings rotate by
// the circle method so each provider faces a different opponent each
// round.
func planTournament(roster []string, cfg Config) (*Plan, error) {
	rounds := cfg.Rounds
	if rounds <= 0 {
		rounds = defaultRounds(len(roster))
	}
	maxRounds := len(roster) - 1
	if len(roster)%2 != 0 {
		maxRounds = len(roster)
	}
	if rounds > maxRounds {
		rounds = maxRounds
	}

	var phases []PhaseSpec
	phases = append(phases, PhaseSpec{
		Name:         PhaseFormulate,
		Parallel:     true,
		Participants: roster,
		Visibility:   map[string][]string{},
		SystemPrompt: withMemory(systemFor(cfg, "a contestant preparing an opening position")),
		UserPrompt:   formulateOpeningPrompt,
	})

	for round := 1; round <= rounds; round++ {
		pairs := circlePairs(roster, round-1)
		vis := make(map[string][]string, len(roster))
		for _, pair := range pairs {
			vis[pair[0]] = []string{pair[1]}
			vis[pair[1]] = []string{pair[0]}
		}
		roundNum := round
		phases = append(phases, PhaseSpec{
			Name:         fmt.Sprintf("ROUND_%d", round),
			Parallel:     true,
			Participants: roster,
			Visibility:   vis,
			SystemPrompt: systemFor(cfg, "a contestant in a head-to-head argument round"),
			UserPrompt: func(ctx PromptContext) string {
				return fmt.Sprintf("Question:\n%s\n\nRound %d. Your opponent's position:\n\n%s\n\nAttack the weakest parts of your opponent's position and strengthen your own. If they have no visible position this round, refine yours.",
					ctx.Input, roundNum, FormatVisible(ctx))
			},
		})
	}

	phases = append(phases, PhaseSpec{
		Name:         PhaseVote,
		Parallel:     true,
		Participants: roster,
		Visibility:   allVisible(roster),
		SystemPrompt: systemFor(cfg, "an impartial judge"),
		UserPrompt:   votePrompt,
	})

	return &Plan{
		Topology:      TopologyTournament,
		Description:   fmt.Sprintf("tournament: %d head-to-head rounds over %d contestants", rounds, len(roster)),
		Phases:        phases,
		VotingEnabled: true,
		Synthesizer:   SynthesizerAuto,
	}, nil
}

func defaultRounds(n int) int {
	rounds := 0
	for size := n; size > 1; size = (size + 1) / 2 {
		rounds++
	}
	return rounds
}

// circlePairs produces the round-robin pairing for the given zero-based
// round using the circle method: the first element stays fixed and the
// rest rotate. Odd rosters leave one provider unpaired for the round.
func circlePairs(roster []string, round int) [][2]string {
	n := len(roster)
	rotating := append([]string(nil), roster[1:]...)
	m := len(rotating)
	if m > 0 {
		shift := round % m
		rotating = append(rotating[m-shift:], rotating[:m-shift]...)
	}
	circle := append([]string{roster[0]}, rotating...)

	var pairs [][2]string
	half := n / 2
	for i := 0; i < half; i++ {
		a, b := circle[i], circle[n-1-i]
		if a != b {
			pairs = append(pairs, [2]string{a, b})
		}
	}
	return pairs
}

func formulateOpeningPrompt(ctx PromptContext) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(ctx.Input)
	sb.WriteString("\n\nWrite your complete opening position. Commit to a clear answer; you will defend it in head-to-head rounds.")
	return sb.String()
}

// planMapReduce fans the question out to every provider independently,
// then a single reducer consolidates. No vote; the reducer synthesizes.
func planMapReduce(roster []string, cfg Config) (*Plan, error) {
	reducer, err := roleHolder("reducer", roster, cfg)
	if err != nil {
		return nil, err
	}

	phases := []PhaseSpec{
		{
			Name:         "MAP",
			Parallel:     true,
			Participants: roster,
			Visibility:   map[string][]string{},
			SystemPrompt: systemFor(cfg, "an independent expert answering in isolation"),
			UserPrompt:   formulateOpeningPrompt,
		},
		{
			Name:         "REDUCE",
			Parallel:     false,
			Participants: []string{reducer},
			Visibility:   map[string][]string{reducer: roster},
			SystemPrompt: systemFor(cfg, "a reducer consolidating independent answers"),
			UserPrompt: func(ctx PromptContext) string {
				return fmt.Sprintf("Question:\n%s\n\nIndependent answers:\n\n%s\n\nMerge these into one answer. Where they conflict, pick the better-supported claim and say why.",
					ctx.Input, FormatVisible(ctx))
			},
		},
	}

	return &Plan{
		Topology:      TopologyMapReduce,
		Description:   fmt.Sprintf("map_reduce: %d mappers, %s reduces", len(roster), reducer),
		Phases:        phases,
		VotingEnabled: false,
		Synthesizer:   reducer,
	}, nil
}

// planAdversarialTree stages a structured argument: a proponent and an
// opponent take fixed sides, exchange challenges, and a judge rules. The
// judge synthesizes.
func planAdversarialTree(roster []string, cfg Config) (*Plan, error) {
	if len(roster) < 3 {
		return nil, models.NewError(models.KindValidate, fmt.Sprintf(
			"topology %s requires at least 3 providers (proponent, opponent, judge), got %d",
			TopologyAdversarialTree, len(roster)))
	}
	proponent, opponent, judge, err := assignAdversarialRoles(roster, cfg)
	if err != nil {
		return nil, err
	}
	sides := []string{proponent, opponent}

	phases := []PhaseSpec{
		{
			Name:         "POSITION",
			Parallel:     true,
			Participants: sides,
			Visibility:   map[string][]string{},
			SystemPrompt: func(ctx PromptContext) string {
				side := "argue FOR the most direct affirmative answer"
				if ctx.Participant == opponent {
					side = "argue AGAINST the most direct affirmative answer, or for the strongest alternative"
				}
				return fmt.Sprintf("You are one side of a structured adversarial argument. Your assignment: %s. Argue your side as strongly as the facts allow.", side)
			},
			UserPrompt: func(ctx PromptContext) string {
				return fmt.Sprintf("Question:\n%s\n\nState your side's complete position with supporting arguments.", ctx.Input)
			},
		},
		{
			Name:         "CHALLENGE",
			Parallel:     true,
			Participants: sides,
			Visibility: map[string][]string{
				proponent: {opponent},
				opponent:  {proponent},
			},
			SystemPrompt: systemFor(cfg, "a debater dismantling the opposing case"),
			UserPrompt: func(ctx PromptContext) string {
				return fmt.Sprintf("Question:\n%s\n\nThe opposing position:\n\n%s\n\nRebut it point by point, then restate your side's strongest case.",
					ctx.Input, FormatVisible(ctx))
			},
		},
		{
			Name:         "JUDGMENT",
			Parallel:     false,
			Participants: []string{judge},
			Visibility:   map[string][]string{judge: sides},
			SystemPrompt: systemFor(cfg, "an impartial judge ruling on a structured argument"),
			UserPrompt: func(ctx PromptContext) string {
				return fmt.Sprintf("Question:\n%s\n\nThe two sides' final cases:\n\n%s\n\nRule on the argument: which claims from each side survive, and what is the correct answer to the question.",
					ctx.Input, FormatVisible(ctx))
			},
		},
	}

	return &Plan{
		Topology:      TopologyAdversarialTree,
		Description:   fmt.Sprintf("adversarial_tree: %s vs %s, judged by %s", proponent, opponent, judge),
		Phases:        phases,
		VotingEnabled: false,
		Synthesizer:   judge,
	}, nil
}

// assignAdversarialRoles honors explicit role assignments and fills the
// rest from roster order, never assigning one provider two roles.
func assignAdversarialRoles(roster []string, cfg Config) (proponent, opponent, judge string, err error) {
	assigned := map[string]string{}
	for provider, role := range cfg.Roles {
		role = strings.ToLower(role)
		if role != "proponent" && role != "opponent" && role != "judge" {
			continue
		}
		found := false
		for _, p := range roster {
			if p == provider {
				found = true
				break
			}
		}
		if !found {
			return "", "", "", models.NewError(models.KindValidate, fmt.Sprintf(
				"role %s assigned to %q which is not in the roster", role, provider))
		}
		if prev, dup := assigned[role]; dup && prev != provider {
			return "", "", "", models.NewError(models.KindValidate, fmt.Sprintf(
				"role %s assigned to both %q and %q", role, prev, provider))
		}
		assigned[role] = provider
	}

	used := map[string]bool{}
	for _, p := range assigned {
		used[p] = true
	}
	next := func() string {
		for _, p := range roster {
			if !used[p] {
				used[p] = true
				return p
			}
		}
		return ""
	}
	fill := func(role string) string {
		if p, ok := assigned[role]; ok {
			return p
		}
		return next()
	}
	return fill("proponent"), fill("opponent"), fill("judge"), nil
}

// planPipeline runs providers as serial stages, each seeing only the
// output of the stage before it. The last stage synthesizes.
func planPipeline(roster []string, cfg Config) (*Plan, error) {
	var phases []PhaseSpec
	for i, p := range roster {
		vis := map[string][]string{}
		prompt := formulateOpeningPrompt
		if i > 0 {
			prev := roster[i-1]
			vis[p] = []string{prev}
			prompt = func(ctx PromptContext) string {
				return fmt.Sprintf("Question:\n%s\n\nThe answer so far:\n\n%s\n\nImprove it: correct mistakes, fill gaps, and tighten the reasoning. Produce the full improved answer, not a diff.",
					ctx.Input, FormatVisible(ctx))
			}
		}
		phases = append(phases, PhaseSpec{
			Name:         fmt.Sprintf("STAGE_%d", i+1),
			Parallel:     false,
			Participants: []string{p},
			Visibility:   vis,
			SystemPrompt: systemFor(cfg, fmt.Sprintf("stage %d of a serial refinement pipeline", i+1)),
			UserPrompt:   prompt,
		})
	}

	return &Plan{
		Topology:      TopologyPipeline,
		Description:   fmt.Sprintf("pipeline: %d serial refinement stages", len(roster)),
		Phases:        phases,
		VotingEnabled: false,
		Synthesizer:   roster[len(roster)-1],
	}, nil
}

// planPanel has a moderator frame the question, panelists respond, an
// open discussion follows, then everyone votes. The moderator synthesizes.
func planPanel(roster []string, cfg Config) (*Plan, error) {
	moderator, err := roleHolder("moderator", roster, cfg)
	if err != nil {
		return nil, err
	}
	var panelists []string
	for _, p := range roster {
		if p != moderator {
			panelists = append(panelists, p)
		}
	}

	phases := []PhaseSpec{
		{
			Name:         "FRAMING",
			Parallel:     false,
			Participants: []string{moderator},
			Visibility:   map[string][]string{},
			SystemPrompt: systemFor(cfg, "a panel moderator"),
			UserPrompt: func(ctx PromptContext) string {
				return fmt.Sprintf("Question:\n%s\n\nFrame this question for a panel: decompose it into the sub-questions the panel must settle, and state what a complete answer needs to cover. Do not answer it yourself.", ctx.Input)
			},
		},
		{
			Name:         "STATEMENTS",
			Parallel:     true,
			Participants: panelists,
			Visibility:   onlyVisible(panelists, []string{moderator}),
			SystemPrompt: systemFor(cfg, "a panelist"),
			UserPrompt: func(ctx PromptContext) string {
				return fmt.Sprintf("Question:\n%s\n\nThe moderator's framing:\n\n%s\n\nGive your opening statement covering the framed sub-questions.",
					ctx.Input, FormatVisible(ctx))
			},
		},
		{
			Name:         "DISCUSSION",
			Parallel:     true,
			Participants: roster,
			Visibility:   allVisible(roster),
			SystemPrompt: systemFor(cfg, "a panel participant in open discussion"),
			UserPrompt: func(ctx PromptContext) string {
				return fmt.Sprintf("Question:\n%s\n\nStatements so far:\n\n%s\n\nRespond to the other statements: agree, disagree, and extend. End with your current best answer.",
					ctx.Input, FormatVisible(ctx))
			},
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
		Topology:      TopologyPanel,
		Description:   fmt.Sprintf("panel: %s moderates %d panelists", moderator, len(panelists)),
		Phases:        phases,
		VotingEnabled: true,
		Synthesizer:   moderator,
	}, nil
}
