package engine

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"dev.quorum.engine/internal/evidence"
	"dev.quorum.engine/internal/llm"
	"dev.quorum.engine/internal/models"
	"dev.quorum.engine/internal/topology"
	"dev.quorum.engine/internal/voting"
)

// tally parses the vote phase ballots, stacks the weighting layers, and
// dispatches to the configured method. A plan without voting returns nil.
func (e *Engine) tally(r *run) (*models.VoteResult, error) {
	if r.voteOutput == nil {
		return nil, nil
	}
	roster := e.roster()

	var ballots []models.Ballot
	for _, voter := range r.voteOutput.Participants {
		text := r.voteOutput.Responses[voter]
		ballot := voting.ParseBallot(voter, text, roster)
		if ballot == nil {
			e.warn(r.sessionID, topology.PhaseVote, fmt.Sprintf("unparseable ballot from %s", voter))
			continue
		}
		ballots = append(ballots, *ballot)
	}
	if len(ballots) == 0 {
		e.warn(r.sessionID, topology.PhaseVote, "no parseable ballots; skipping vote")
		return nil, nil
	}

	opts := voting.Options{Weights: e.profile.Weights}
	if e.profile.ReputationWeighting && e.arena != nil {
		weights, err := e.arena.Weights(roster)
		if err != nil {
			e.warn(r.sessionID, topology.PhaseVote, fmt.Sprintf("reputation weights unavailable: %v", err))
		} else {
			opts.ReputationWeights = weights
		}
	}
	if e.profile.Evidence == models.EvidenceStrict && len(r.evidenceReports) > 0 {
		factors := make(map[string]float64, len(r.evidenceReports))
		for p, rep := range r.evidenceReports {
			factors[p] = rep.StrictFactor()
		}
		opts.EvidenceFactors = factors
	}

	method := e.profile.VotingMethod
	if method == "" {
		method = voting.MethodBorda
	}
	votes, err := voting.Tally(method, ballots, roster, opts)
	if err != nil {
		return nil, err
	}
	e.emit(Event{Kind: EventVotes, SessionID: r.sessionID, Phase: topology.PhaseVote, Votes: votes})

	return e.afterVote(r, votes)
}

// afterVote runs the post-vote checkpoints, honoring winner overrides.
func (e *Engine) afterVote(r *run, votes *models.VoteResult) (*models.VoteResult, error) {
	if e.handler == nil || len(votes.Rankings) == 0 {
		return votes, nil
	}

	point := ""
	if wantsCheckpoint(e.profile, CheckpointAfterVote) {
		point = CheckpointAfterVote
	} else if wantsCheckpoint(e.profile, CheckpointOnControversy) && e.isControversial(votes) {
		point = CheckpointOnControversy
	}
	if point == "" {
		return votes, nil
	}

	decision := e.checkpoint(r.sess, Checkpoint{
		Point:     point,
		SessionID: r.sessionID,
		Phase:     topology.PhaseVote,
		Input:     r.input,
		Votes:     votes,
	})
	switch decision.Action {
	case ActionAbort:
		return nil, models.ErrAborted
	case ActionOverrideWinner:
		if decision.Winner != "" && e.providerByName(decision.Winner) != nil {
			votes = overrideWinner(votes, decision.Winner)
			e.warn(r.sessionID, topology.PhaseVote, fmt.Sprintf("winner overridden to %s by human decision", decision.Winner))
		}
	}
	return votes, nil
}

// isControversial applies the normalized-margin form that drives the
// controversy checkpoint.
func (e *Engine) isControversial(votes *models.VoteResult) bool {
	if votes.Controversial {
		return true
	}
	if len(votes.Rankings) < 2 {
		return false
	}
	threshold := e.profile.ControversyThreshold
	if threshold <= 0 {
		threshold = 0.1
	}
	top, second := votes.Rankings[0].Score, votes.Rankings[1].Score
	margin := math.Abs(top-second) / math.Max(top, 1)
	return margin <= threshold
}

// overrideWinner promotes the named provider to first place, keeping the
// relative order of the rest.
func overrideWinner(votes *models.VoteResult, winner string) *models.VoteResult {
	out := *votes
	out.Winner = winner
	rankings := make([]models.ScoredProvider, 0, len(votes.Rankings))
	for _, sp := range votes.Rankings {
		if sp.Provider == winner {
			rankings = append([]models.ScoredProvider{sp}, rankings...)
		} else {
			rankings = append(rankings, sp)
		}
	}
	out.Rankings = rankings
	return &out
}

// runRedTeam has the last-ranked provider attack the leading position
// before synthesis. Failures degrade to a warning.
func (e *Engine) runRedTeam(ctx context.Context, r *run, votes *models.VoteResult) {
	leader, leaderText := e.leadingPosition(r, votes)
	if leaderText == "" {
		return
	}

	attacker := e.providers[len(e.providers)-1]
	if votes != nil && len(votes.Rankings) > 0 {
		if p := e.providerByName(votes.Rankings[len(votes.Rankings)-1].Provider); p != nil {
			attacker = p
		}
	}

	prompt := fmt.Sprintf(
		"Question:\n%s\n\nThe currently leading answer (by %s):\n\n%s\n\nAttack this answer: enumerate failure modes, hidden assumptions, security and cost risks, and the conditions under which it is wrong. Be specific.",
		r.input, leader, leaderText)
	system := "You are a red-team reviewer. Your only goal is to find what is wrong or fragile in the given answer."

	text, err := e.callWithRetry(ctx, r, "REDTEAM", attacker, prompt, system)
	if err != nil {
		e.warn(r.sessionID, "REDTEAM", fmt.Sprintf("red team failed: %v", err))
		return
	}
	r.redTeamFindings = text
	r.sess.artifact("redteam-result.json", map[string]string{
		"attacker": attacker.Name(),
		"target":   leader,
		"findings": text,
	})
}

func (e *Engine) leadingPosition(r *run, votes *models.VoteResult) (string, string) {
	if votes != nil && votes.Winner != "" {
		if text, ok := r.latestPositions[votes.Winner]; ok {
			return votes.Winner, text
		}
	}
	for _, name := range e.roster() {
		if text, ok := r.latestPositions[name]; ok {
			return name, text
		}
	}
	return "", ""
}

// synthesize picks the synthesizer, builds the synthesis prompt, and
// parses the response sections.
func (e *Engine) synthesize(ctx context.Context, r *run, votes *models.VoteResult) (*models.Synthesis, error) {
	synthesizer := e.pickSynthesizer(r, votes)

	prompt := e.synthesisPrompt(r, votes)
	system := "You are the synthesizer of a multi-model deliberation. Merge the strongest reasoning into one answer; preserve substantive dissent rather than papering over it."

	text, err := e.callWithRetry(ctx, r, topology.PhaseSynthesize, synthesizer, prompt, system)
	if err != nil {
		// One more chance with the roster head before giving up.
		if synthesizer.Name() != e.providers[0].Name() {
			e.warn(r.sessionID, topology.PhaseSynthesize, fmt.Sprintf(
				"synthesizer %s failed, falling back to %s", synthesizer.Name(), e.providers[0].Name()))
			synthesizer = e.providers[0]
			text, err = e.callWithRetry(ctx, r, topology.PhaseSynthesize, synthesizer, prompt, system)
		}
		if err != nil {
			return nil, models.WrapError(models.KindProvider, "synthesis", err)
		}
	}

	synthesis := ParseSynthesis(text)
	synthesis.Synthesizer = synthesizer.Name()
	if votes != nil {
		synthesis.Controversial = votes.Controversial
	}
	synthesis.Contributions = contributions(r)
	return synthesis, nil
}

// pickSynthesizer prefers the plan's fixed synthesizer, then the vote
// runner-up, then the first adapter.
func (e *Engine) pickSynthesizer(r *run, votes *models.VoteResult) llm.Provider {
	if r.plan.Synthesizer != topology.SynthesizerAuto {
		if p := e.providerByName(r.plan.Synthesizer); p != nil {
			return p
		}
	}
	if votes != nil && len(votes.Rankings) >= 2 {
		if p := e.providerByName(votes.Rankings[1].Provider); p != nil {
			return p
		}
	}
	return e.providers[0]
}

func (e *Engine) synthesisPrompt(r *run, votes *models.VoteResult) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(r.input)
	sb.WriteString("\n\nFinal positions:\n\n")
	for _, name := range e.roster() {
		if text, ok := r.latestPositions[name]; ok {
			fmt.Fprintf(&sb, "--- %s ---\n%s\n\n", name, text)
		}
	}

	if votes != nil && len(votes.Rankings) > 0 {
		sb.WriteString("Vote result:\n")
		for i, sp := range votes.Rankings {
			fmt.Fprintf(&sb, "%d. %s (%.2f)\n", i+1, sp.Provider, sp.Score)
		}
		if votes.Controversial {
			sb.WriteString("The vote was controversial: the top positions are nearly tied.\n")
		}
		sb.WriteString("\n")
	}

	if len(r.evidenceReports) > 0 {
		reports := make([]evidence.Report, 0, len(r.evidenceReports))
		for _, rep := range r.evidenceReports {
			reports = append(reports, rep)
		}
		cv := evidence.CrossValidate(reports, evidence.DefaultSimilarityThreshold)
		if summary := evidence.Summarize(cv); summary != "" {
			sb.WriteString("Evidence cross-validation:\n")
			sb.WriteString(summary)
			sb.WriteString("\n\n")
		}
	}

	if r.redTeamFindings != "" {
		sb.WriteString("Red-team findings against the leading answer:\n")
		sb.WriteString(r.redTeamFindings)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Write the final answer with exactly these sections:\n")
	sb.WriteString("## Synthesis\nThe merged answer.\n")
	sb.WriteString("## Minority Report\nSubstantive dissenting views, or \"None\".\n")
	sb.WriteString("## Scores\nConsensus: <0..1>\nConfidence: <0..1>\n")
	return sb.String()
}

var (
	sectionRe    = regexp.MustCompile(`(?m)^##\s+(.+?)\s*$`)
	consensusRe  = regexp.MustCompile(`(?i)consensus\s*[:=]?\s*([0-9]*\.?[0-9]+)`)
	confidenceRe = regexp.MustCompile(`(?i)confidence\s*[:=]?\s*([0-9]*\.?[0-9]+)`)
)

// ParseSynthesis splits a synthesis response into its sections and parses
// the two scores, defaulting each to 0.5 when absent or malformed.
func ParseSynthesis(text string) *models.Synthesis {
	s := &models.Synthesis{
		Content:         strings.TrimSpace(text),
		ConsensusScore:  0.5,
		ConfidenceScore: 0.5,
	}

	sections := splitSections(text)
	if body, ok := sections["synthesis"]; ok {
		s.Content = body
	}
	if body, ok := sections["minority report"]; ok && !strings.EqualFold(strings.TrimSpace(body), "none") {
		s.MinorityReport = body
	}
	if body, ok := sections["what would change my mind"]; ok {
		s.WhatWouldChange = body
	}

	scoreSource := text
	if body, ok := sections["scores"]; ok {
		scoreSource = body
	}
	if m := consensusRe.FindStringSubmatch(scoreSource); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.ConsensusScore = clamp01(v)
		}
	}
	if m := confidenceRe.FindStringSubmatch(scoreSource); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.ConfidenceScore = clamp01(v)
		}
	}
	return s
}

func splitSections(text string) map[string]string {
	locs := sectionRe.FindAllStringSubmatchIndex(text, -1)
	out := make(map[string]string, len(locs))
	for i, loc := range locs {
		name := strings.ToLower(strings.TrimSpace(text[loc[2]:loc[3]]))
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out[name] = strings.TrimSpace(text[loc[1]:end])
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		// Scores written as percentages still land in range.
		if v <= 100 {
			return v / 100
		}
		return 1
	}
	return v
}

// contributions maps each provider to the phases it answered in, giving
// the synthesis a provenance footnote.
func contributions(r *run) map[string][]string {
	out := map[string][]string{}
	for _, output := range r.outputs {
		if output.Phase == topology.PhaseVote {
			continue
		}
		for _, p := range output.Participants {
			out[p] = append(out[p], output.Phase)
		}
	}
	return out
}
