package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dev.quorum.engine/internal/adaptive"
	"dev.quorum.engine/internal/budget"
	"dev.quorum.engine/internal/evidence"
	"dev.quorum.engine/internal/hashchain"
	"dev.quorum.engine/internal/llm"
	"dev.quorum.engine/internal/models"
	"dev.quorum.engine/internal/topology"
	"dev.quorum.engine/internal/voting"
)

// defaultContextTokens is the prompt budget for providers that do not
// declare a context window.
const defaultContextTokens = 32000

// reservedOutputTokens is held back from every context window for the
// completion, matching the max_tokens the adapters request.
const reservedOutputTokens = 4096

// runPhases walks the planned phases, applying convergence skips and
// adaptive decisions as it goes. The vote phase's raw output is kept on
// the run for tallying.
func (e *Engine) runPhases(ctx context.Context, r *run) error {
	for i := 0; i < len(r.phases); i++ {
		ph := r.phases[i]
		if r.skip[ph.Name] {
			continue
		}
		if ph.Name == topology.PhaseRebuttal && len(r.latestPositions) >= 2 {
			if conv := adaptive.Convergence(r.latestPositions); conv >= e.convergenceThreshold() {
				d := adaptive.Decision{
					Phase:  ph.Name,
					Action: adaptive.ActionSkipPhases,
					Reason: fmt.Sprintf("convergence %.2f at or above %.2f; rebuttal adds nothing", conv, e.convergenceThreshold()),
				}
				r.decisions = append(r.decisions, d)
				e.emit(Event{Kind: EventAdaptive, SessionID: r.sessionID, Phase: ph.Name, Decision: &d, Message: d.Reason})
				continue
			}
		}

		out, prompts, err := e.runPhase(ctx, r, ph)
		if err != nil {
			return err
		}

		key := r.phaseKey(ph.Name)
		r.outputs = append(r.outputs, *out)
		r.records = append(r.records, hashchain.PhaseRecord{
			Phase:        ph.Name,
			ProviderID:   strings.Join(ph.Participants, ","),
			Timestamp:    out.Timestamp.Format(time.RFC3339Nano),
			Participants: out.Participants,
			Inputs:       prompts,
			Outputs:      out.Responses,
		})
		r.sess.phase(key, *out)
		e.runHook(r.sessionID, "post-"+strings.ToLower(ph.Name), ph.Name, r.input, out.Participants, r.sess.phasePath(key))

		for p, text := range out.Responses {
			r.latest[p] = text
		}
		if ph.Name == topology.PhaseVote {
			r.voteOutput = out
			continue
		}
		for p, text := range out.Responses {
			r.latestPositions[p] = text
		}

		if e.profile.Evidence != "" && e.profile.Evidence != models.EvidenceOff {
			e.scoreEvidence(r, out)
		}

		if wantsCheckpoint(e.profile, CheckpointAfterPhase) {
			decision := e.checkpoint(r.sess, Checkpoint{
				Point:     CheckpointAfterPhase,
				SessionID: r.sessionID,
				Phase:     ph.Name,
				Input:     r.input,
				Responses: out.Responses,
			})
			switch decision.Action {
			case ActionAbort:
				return models.ErrAborted
			case ActionInject:
				if decision.Input != "" {
					r.input = r.input + "\n\nHuman guidance: " + decision.Input
				}
			}
		}

		if i+1 < len(r.phases) && len(out.Responses) >= 2 {
			e.applyAdaptive(r, &i, ph, out)
		}
	}
	return nil
}

func (e *Engine) convergenceThreshold() float64 {
	if e.profile.ConvergenceThreshold > 0 {
		return e.profile.ConvergenceThreshold
	}
	return 0.9
}

// applyAdaptive evaluates the finished phase and mutates the remaining
// pipeline. Skips only ever touch phases that have not started.
func (e *Engine) applyAdaptive(r *run, i *int, ph topology.PhaseSpec, out *models.PhaseOutput) {
	var remaining []string
	for _, next := range r.phases[*i+1:] {
		if !r.skip[next.Name] {
			remaining = append(remaining, next.Name)
		}
	}
	remaining = append(remaining, topology.PhaseSynthesize)

	d := e.controller.Evaluate(ph.Name, out.Responses, remaining)
	d.Phase = ph.Name
	r.decisions = append(r.decisions, d)
	e.emit(Event{Kind: EventAdaptive, SessionID: r.sessionID, Phase: ph.Name, Decision: &d, Message: d.Reason})

	switch d.Action {
	case adaptive.ActionSkipPhases:
		for _, name := range d.SkipPhases {
			r.skip[name] = true
		}
	case adaptive.ActionAddRound:
		if r.extraRounds < maxExtraDebateRounds {
			r.extraRounds++
			clone := ph
			rest := append([]topology.PhaseSpec{clone}, r.phases[*i+1:]...)
			r.phases = append(r.phases[:*i+1:*i+1], rest...)
		}
	case adaptive.ActionSkipToSynthesize:
		for _, next := range r.phases[*i+1:] {
			if next.Name != topology.PhaseVote || !r.plan.VotingEnabled {
				r.skip[next.Name] = true
			}
		}
		if !containsVote(remaining) {
			*i = len(r.phases)
		}
	}
}

func containsVote(names []string) bool {
	for _, n := range names {
		if n == topology.PhaseVote {
			return true
		}
	}
	return false
}

// phaseKey assigns the session-store key for a phase execution: a
// sequential two-digit prefix, with repeat executions of the same phase
// suffixed -rK and keeping their first sequence number.
func (r *run) phaseKey(name string) string {
	lower := strings.ToLower(name)
	r.debateRepeat[lower]++
	if r.debateRepeat[lower] == 1 {
		r.phaseSeq++
		if r.firstSeq == nil {
			r.firstSeq = map[string]int{}
		}
		r.firstSeq[lower] = r.phaseSeq
		return fmt.Sprintf("%02d-%s", r.phaseSeq, lower)
	}
	return fmt.Sprintf("%02d-%s-r%d", r.firstSeq[lower], lower, r.debateRepeat[lower])
}

// runPhase fans the phase out over its participants and returns the
// completed output plus the per-participant prompts for attestation.
func (e *Engine) runPhase(ctx context.Context, r *run, ph topology.PhaseSpec) (*models.PhaseOutput, map[string]string, error) {
	started := time.Now()
	e.emit(Event{Kind: EventPhaseStart, SessionID: r.sessionID, Phase: ph.Name})
	e.runHook(r.sessionID, "pre-"+strings.ToLower(ph.Name), ph.Name, r.input, ph.Participants, "")

	prompts := make(map[string]string, len(ph.Participants))
	systems := make(map[string]string, len(ph.Participants))
	for _, p := range ph.Participants {
		pctx := e.promptContext(r, ph, p)
		prompts[p] = ph.UserPrompt(pctx)
		systems[p] = ph.SystemPrompt(pctx)
	}

	responses := make(map[string]string, len(ph.Participants))
	var mu sync.Mutex
	record := func(p, text string) {
		mu.Lock()
		responses[p] = text
		mu.Unlock()
	}

	call := func(ctx context.Context, name string) error {
		provider := e.providerByName(name)
		if provider == nil {
			record(name, fallbackText(r, name))
			return nil
		}
		text, err := e.callWithRetry(ctx, r, ph.Name, provider, prompts[name], systems[name])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fb := fallbackText(r, name)
			record(name, fb)
			e.metrics.fallback()
			e.warn(r.sessionID, ph.Name, fmt.Sprintf("%s exhausted retries, using fallback: %v", name, err))
			return nil
		}
		record(name, text)
		e.emit(Event{Kind: EventResponse, SessionID: r.sessionID, Phase: ph.Name, Provider: name})
		return nil
	}

	if ph.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for _, name := range ph.Participants {
			name := name
			g.Go(func() error { return call(gctx, name) })
		}
		if err := g.Wait(); err != nil {
			return nil, nil, models.WrapError(models.KindAborted, "phase "+ph.Name, err)
		}
	} else {
		for _, name := range ph.Participants {
			if err := call(ctx, name); err != nil {
				return nil, nil, models.WrapError(models.KindAborted, "phase "+ph.Name, err)
			}
		}
	}

	duration := time.Since(started)
	e.metrics.phaseDuration(ph.Name, duration.Seconds())
	e.emit(Event{Kind: EventPhaseDone, SessionID: r.sessionID, Phase: ph.Name, Duration: duration})

	return &models.PhaseOutput{
		Phase:        ph.Name,
		Timestamp:    started.UTC(),
		DurationMs:   duration.Milliseconds(),
		Participants: append([]string(nil), ph.Participants...),
		Responses:    responses,
	}, prompts, nil
}

// promptContext assembles the visibility-filtered, budget-trimmed view a
// participant gets for a phase. The vote phase anonymizes all current
// positions as letters in roster order.
func (e *Engine) promptContext(r *run, ph topology.PhaseSpec, participant string) topology.PromptContext {
	pctx := topology.PromptContext{
		Input:         r.input,
		Participant:   participant,
		MemoryContext: r.memoryCtx,
		Focus:         e.profile.Focus,
		Style:         e.profile.ChallengeStyle,
	}

	if ph.Name == topology.PhaseVote {
		pctx.Visible = make(map[string]string, len(r.latestPositions))
		for idx, name := range e.roster() {
			if text, ok := r.latestPositions[name]; ok {
				letter := voting.PositionLetter(idx)
				pctx.Visible[letter] = text
				pctx.VisibleOrder = append(pctx.VisibleOrder, letter)
			}
		}
	} else {
		sources := ph.Visibility[participant]
		pctx.Visible = make(map[string]string, len(sources))
		for _, src := range sources {
			if text, ok := r.latest[src]; ok {
				pctx.Visible[src] = text
				pctx.VisibleOrder = append(pctx.VisibleOrder, src)
			}
		}
	}

	e.budgetVisible(&pctx, participant)
	return pctx
}

// budgetVisible trims the visible responses to fit the participant's
// context window, keeping the question and memory context intact.
func (e *Engine) budgetVisible(pctx *topology.PromptContext, participant string) {
	provider := e.providerByName(participant)
	window := defaultContextTokens
	if provider != nil && provider.Config().ContextTokens > 0 {
		window = provider.Config().ContextTokens
	}
	window -= reservedOutputTokens
	if window <= 0 {
		window = defaultContextTokens - reservedOutputTokens
	}

	segments := []budget.Segment{
		{Name: "question", Text: pctx.Input, Priority: budget.PriorityFull},
		{Name: "memory", Text: pctx.MemoryContext, Priority: budget.PriorityTrimmable},
	}
	for _, name := range pctx.VisibleOrder {
		segments = append(segments, budget.Segment{
			Name: name, Text: pctx.Visible[name], Priority: budget.PriorityTrimmable,
		})
	}

	fitted, result := budget.FitSegments(segments, window)
	if result.Overflow {
		e.log.WithField("participant", participant).Warn("prompt exceeds context window even untrimmed")
		return
	}
	if len(result.Trimmed) == 0 {
		return
	}
	for _, s := range fitted {
		switch s.Name {
		case "question":
		case "memory":
			pctx.MemoryContext = s.Text
		default:
			pctx.Visible[s.Name] = s.Text
		}
	}
}

// callWithRetry invokes the provider with its configured timeout, retrying
// up to MaxRetries times on error or empty output with a fixed delay.
func (e *Engine) callWithRetry(ctx context.Context, r *run, phase string, provider llm.Provider, prompt, system string) (string, error) {
	var onDelta func(string)
	if e.onDelta != nil {
		name := provider.Name()
		onDelta = func(delta string) { e.onDelta(name, delta) }
	}
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			e.warn(r.sessionID, phase, fmt.Sprintf("retrying %s (attempt %d of %d)", provider.Name(), attempt+1, MaxRetries+1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.retryDelay):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, provider.Config().Timeout())
		text, err := llm.Generate(callCtx, provider, prompt, system, onDelta)
		cancel()

		if err == nil && strings.TrimSpace(text) != "" {
			e.metrics.providerCall(provider.Name(), "ok")
			return text, nil
		}
		if err == nil {
			err = models.NewError(models.KindProvider, provider.Name()+" returned empty response")
		}
		lastErr = err
		e.metrics.providerCall(provider.Name(), "error")
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// fallbackText substitutes a failed participant's response: its newest
// prior response when one exists, otherwise a deterministic marker.
func fallbackText(r *run, name string) string {
	if prior, ok := r.latest[name]; ok && strings.TrimSpace(prior) != "" {
		return prior
	}
	return fmt.Sprintf("[%s failed to respond]", name)
}

// scoreEvidence grades each fresh response and keeps the newest report
// per provider.
func (e *Engine) scoreEvidence(r *run, out *models.PhaseOutput) {
	for p, text := range out.Responses {
		if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "failed to respond]") {
			continue
		}
		rep := evidence.Score(p, text)
		if rep.TotalClaims == 0 {
			continue
		}
		r.evidenceReports[p] = rep
		e.emit(Event{Kind: EventEvidence, SessionID: r.sessionID, Phase: out.Phase, Provider: p,
			Message: fmt.Sprintf("evidence score %.2f over %d claims", rep.WeightedScore, rep.TotalClaims)})
	}
}
