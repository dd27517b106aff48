package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"dev.quorum.engine/internal/config"
	"dev.quorum.engine/internal/engine"
	"dev.quorum.engine/internal/llm"
	"dev.quorum.engine/internal/models"
	"dev.quorum.engine/internal/policy"
)

var askFlags struct {
	profile       string
	topology      string
	style         string
	focus         []string
	rounds        int
	votingMethod  string
	evidence      string
	exclude       []string
	phases        []string
	checkpoints   []string
	adaptive      string
	convergence   float64
	reputation    bool
	redTeam       bool
	interactive   bool
	stream        bool
	tags          []string
	ci            bool
	minConfidence float64
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Run a deliberation over the configured providers",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	f := askCmd.Flags()
	f.StringVar(&askFlags.profile, "profile", "", "agent profile (balanced, fast, critical, or a profile file name)")
	f.StringVar(&askFlags.topology, "topology", "", "debate topology")
	f.StringVar(&askFlags.style, "style", "", "challenge style (adversarial, collaborative, socratic)")
	f.StringSliceVar(&askFlags.focus, "focus", nil, "focus areas steering the debate")
	f.IntVar(&askFlags.rounds, "rounds", 0, "debate rounds")
	f.StringVar(&askFlags.votingMethod, "voting", "", "voting method (borda, runoff, approval, condorcet)")
	f.StringVar(&askFlags.evidence, "evidence", "", "evidence mode (off, advisory, strict)")
	f.StringSliceVar(&askFlags.exclude, "exclude", nil, "providers excluded from this run")
	f.StringSliceVar(&askFlags.phases, "phases", nil, "restrict the run to these phases")
	f.StringSliceVar(&askFlags.checkpoints, "checkpoint", nil, "human checkpoints (after-phase, after-vote, on-controversy)")
	f.StringVar(&askFlags.adaptive, "adaptive", "", "adaptive controller preset (fast, balanced, critical)")
	f.Float64Var(&askFlags.convergence, "convergence", 0, "convergence threshold for skipping rebuttal")
	f.BoolVar(&askFlags.reputation, "reputation", false, "weight votes by arena reputation")
	f.BoolVar(&askFlags.redTeam, "red-team", false, "attack the leading position before synthesis")
	f.BoolVarP(&askFlags.interactive, "interactive", "i", false, "answer checkpoints on the terminal")
	f.BoolVar(&askFlags.stream, "stream", false, "print partial provider output as it arrives")
	f.StringSliceVar(&askFlags.tags, "tag", nil, "tags recorded with the session")
	f.BoolVar(&askFlags.ci, "ci", false, "CI mode: non-zero exit below --min-confidence")
	f.Float64Var(&askFlags.minConfidence, "min-confidence", 0.5, "confidence gate for --ci")

	rootCmd.AddCommand(askCmd)
}

// flagOverrides maps the ask flags onto a profile overlay, merged last.
func flagOverrides() models.AgentProfile {
	return models.AgentProfile{
		Topology:             askFlags.topology,
		ChallengeStyle:       models.ChallengeStyle(askFlags.style),
		Focus:                askFlags.focus,
		Rounds:               askFlags.rounds,
		VotingMethod:         askFlags.votingMethod,
		Evidence:             models.EvidenceMode(askFlags.evidence),
		ExcludeProviders:     askFlags.exclude,
		Phases:               askFlags.phases,
		Checkpoints:          askFlags.checkpoints,
		AdaptivePreset:       askFlags.adaptive,
		ConvergenceThreshold: askFlags.convergence,
		ReputationWeighting:  askFlags.reputation,
		RedTeam:              askFlags.redTeam,
	}
}

func buildEngine(roster []models.ProviderConfig, profile models.AgentProfile, handler engine.Handler, tags []string, onDelta func(provider, delta string)) (*engine.Engine, error) {
	if err := config.ValidateRoster(roster); err != nil {
		return nil, err
	}

	registry := llm.NewRegistry()
	llm.RegisterDefaults(registry)
	providers, err := registry.BuildAll(roster, llm.NewResolver(cfg.Paths.Tokens))
	if err != nil {
		return nil, err
	}

	policies, err := policy.Load(cfg.Paths.Policies)
	if err != nil {
		return nil, err
	}

	store, err := openSessions()
	if err != nil {
		return nil, err
	}
	led, err := openLedger()
	if err != nil {
		return nil, err
	}
	arn, err := openArena()
	if err != nil {
		return nil, err
	}

	return engine.New(engine.Options{
		Providers: providers,
		Profile:   profile,
		Policies:  policies,
		Store:     store,
		Memory:    openMemory(),
		Arena:     arn,
		Ledger:    led,
		Handler:   handler,
		Logger:    log,
		Metrics:   engine.NewMetrics(prometheus.NewRegistry()),
		Tags:      tags,
		OnDelta:   onDelta,
	})
}

func runAsk(cmd *cobra.Command, args []string) error {
	profile, err := config.LoadProfile(cfg, askFlags.profile)
	if err != nil {
		return err
	}
	merged := config.Merge(*profile, flagOverrides())

	var handler engine.Handler
	if askFlags.interactive {
		handler = terminalHandler(cmd)
	}
	var onDelta func(provider, delta string)
	if askFlags.stream {
		faint := color.New(color.Faint)
		onDelta = func(provider, delta string) {
			faint.Fprint(cmd.OutOrStdout(), delta)
		}
	}

	eng, err := buildEngine(config.EffectiveProviders(cfg, &merged), merged, handler, askFlags.tags, onDelta)
	if err != nil {
		return err
	}
	eng.Subscribe(printEvent)

	result, err := eng.Deliberate(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	printResult(result)

	if askFlags.ci && result.Synthesis != nil && result.Synthesis.ConfidenceScore < askFlags.minConfidence {
		return fmt.Errorf("confidence %.2f below gate %.2f: %w",
			result.Synthesis.ConfidenceScore, askFlags.minConfidence, errCheckFailed)
	}
	return nil
}

func printEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventPhaseStart:
		fmt.Printf("%s %s\n", color.CyanString("▸"), ev.Phase)
	case engine.EventPhaseDone:
		fmt.Printf("  %s %s (%s)\n", color.GreenString("✓"), ev.Phase, ev.Duration.Round(time.Millisecond))
	case engine.EventResponse:
		fmt.Printf("    %s responded\n", color.New(color.Bold).Sprint(ev.Provider))
	case engine.EventWarn:
		fmt.Printf("  %s %s\n", color.YellowString("!"), ev.Message)
	case engine.EventAdaptive:
		fmt.Printf("  %s adaptive: %s\n", color.MagentaString("~"), ev.Message)
	case engine.EventVotes:
		if ev.Votes != nil {
			fmt.Printf("%s winner %s (%s)\n", color.CyanString("▸ VOTE"),
				color.New(color.Bold).Sprint(ev.Votes.Winner), ev.Votes.Method)
		}
	case engine.EventCheckpoint:
		fmt.Printf("  %s checkpoint %s\n", color.YellowString("⏸"), ev.Message)
	}
}

func printResult(result *models.DeliberationResult) {
	fmt.Println()
	if result.Synthesis != nil {
		fmt.Println(color.New(color.Bold).Sprint("Synthesis"))
		fmt.Println(result.Synthesis.Content)
		if result.Synthesis.MinorityReport != "" {
			fmt.Println()
			fmt.Println(color.New(color.Bold).Sprint("Minority Report"))
			fmt.Println(result.Synthesis.MinorityReport)
		}
		fmt.Println()
		fmt.Printf("consensus %.2f · confidence %.2f · synthesized by %s\n",
			result.Synthesis.ConsensusScore, result.Synthesis.ConfidenceScore, result.Synthesis.Synthesizer)
	}
	if result.Votes != nil {
		for i, sp := range result.Votes.Rankings {
			fmt.Printf("  %d. %s (%.2f)\n", i+1, sp.Provider, sp.Score)
		}
		if result.Votes.Controversial {
			fmt.Println(color.YellowString("  vote was controversial"))
		}
	}
	fmt.Printf("session %s\n", result.SessionID)
}

// terminalHandler answers engine checkpoints from stdin.
func terminalHandler(cmd *cobra.Command) engine.Handler {
	reader := bufio.NewReader(cmd.InOrStdin())
	return func(cp engine.Checkpoint) engine.CheckpointDecision {
		fmt.Printf("\n%s at %s", color.YellowString("checkpoint"), cp.Point)
		if cp.Phase != "" {
			fmt.Printf(" (phase %s)", cp.Phase)
		}
		fmt.Println()
		if cp.Votes != nil {
			fmt.Printf("  current winner: %s\n", cp.Votes.Winner)
		}
		for _, v := range cp.Violations {
			fmt.Printf("  policy: %s\n", v.Message)
		}

		for {
			fmt.Print("[c]ontinue / [i]nject guidance / [o]verride winner / [a]bort > ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return engine.CheckpointDecision{Action: engine.ActionAbort}
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "", "c", "continue":
				return engine.CheckpointDecision{Action: engine.ActionContinue}
			case "i", "inject":
				fmt.Print("guidance > ")
				guidance, _ := reader.ReadString('\n')
				return engine.CheckpointDecision{Action: engine.ActionInject, Input: strings.TrimSpace(guidance)}
			case "o", "override":
				fmt.Print("winner > ")
				winner, _ := reader.ReadString('\n')
				return engine.CheckpointDecision{Action: engine.ActionOverrideWinner, Winner: strings.TrimSpace(winner)}
			case "a", "abort":
				return engine.CheckpointDecision{Action: engine.ActionAbort}
			}
		}
	}
}
