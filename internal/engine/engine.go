// Package engine orchestrates a deliberation: it expands the topology into
// phases, fans provider calls out per phase, applies adaptive and policy
// decisions, tallies the vote, and synthesizes the final answer. The
// returned result is authoritative; persistence failures degrade to warn
// events.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.quorum.engine/internal/adaptive"
	"dev.quorum.engine/internal/arena"
	"dev.quorum.engine/internal/attest"
	"dev.quorum.engine/internal/evidence"
	"dev.quorum.engine/internal/hashchain"
	"dev.quorum.engine/internal/ledger"
	"dev.quorum.engine/internal/llm"
	"dev.quorum.engine/internal/memory"
	"dev.quorum.engine/internal/models"
	"dev.quorum.engine/internal/policy"
	"dev.quorum.engine/internal/session"
	"dev.quorum.engine/internal/topology"
)

// MaxRetries is the per-call retry budget on error or empty response.
const MaxRetries = 2

// maxExtraDebateRounds caps adaptive add-round extensions.
const maxExtraDebateRounds = 2

// memoryRetrievalK is how many prior deliberations feed the gather phase.
const memoryRetrievalK = 3

// Options wires the engine's collaborators. Store, Memory, Arena, Ledger,
// Handler, and Metrics are optional; a nil store disables persistence.
type Options struct {
	Providers  []llm.Provider
	Profile    models.AgentProfile
	Policies   []policy.Policy
	Store      *session.Store
	Memory     *memory.Graph
	Arena      *arena.Arena
	Ledger     *ledger.Ledger
	Handler    Handler
	Logger     *logrus.Logger
	Metrics    *Metrics
	RetryDelay time.Duration
	Tags       []string
	// OnDelta, when set, receives partial completion text from providers
	// that support streaming, keyed by provider name.
	OnDelta func(provider, delta string)
}

// Engine runs deliberations. Construct once per provider roster; safe for
// sequential reuse.
type Engine struct {
	providers  []llm.Provider
	profile    models.AgentProfile
	policies   []policy.Policy
	store      *session.Store
	memory     *memory.Graph
	arena      *arena.Arena
	ledger     *ledger.Ledger
	handler    Handler
	log        *logrus.Logger
	metrics    *Metrics
	retryDelay time.Duration
	tags       []string
	onDelta    func(provider, delta string)
	subs       []Subscriber
	emitMu     sync.Mutex
	controller *adaptive.Controller
}

// New validates the roster and builds an engine.
func New(opts Options) (*Engine, error) {
	if len(opts.Providers) < 2 {
		return nil, models.NewError(models.KindConfig, fmt.Sprintf(
			"deliberation needs at least 2 providers, have %d", len(opts.Providers)))
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	delay := opts.RetryDelay
	if delay == 0 {
		delay = 2 * time.Second
	}
	return &Engine{
		providers:  opts.Providers,
		profile:    opts.Profile,
		policies:   opts.Policies,
		store:      opts.Store,
		memory:     opts.Memory,
		arena:      opts.Arena,
		ledger:     opts.Ledger,
		handler:    opts.Handler,
		log:        log,
		metrics:    opts.Metrics,
		retryDelay: delay,
		tags:       opts.Tags,
		onDelta:    opts.OnDelta,
		controller: adaptive.NewController(opts.Profile.AdaptivePreset),
	}, nil
}

// Subscribe adds an event subscriber. Not safe to call mid-deliberation.
func (e *Engine) Subscribe(sub Subscriber) {
	e.subs = append(e.subs, sub)
}

func (e *Engine) roster() []string {
	names := make([]string, len(e.providers))
	for i, p := range e.providers {
		names[i] = p.Name()
	}
	return names
}

func (e *Engine) providerByName(name string) llm.Provider {
	for _, p := range e.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// persister wraps the optional session handle; every write failure
// becomes a warn event instead of an error.
type persister struct {
	e         *Engine
	sess      *session.Session
	sessionID string
}

func (p persister) artifact(name string, v interface{}) {
	if p.sess == nil {
		return
	}
	if err := p.sess.WriteArtifact(name, v); err != nil {
		p.e.warn(p.sessionID, "", fmt.Sprintf("write %s: %v", name, err))
	}
}

func (p persister) phase(key string, out models.PhaseOutput) {
	if p.sess == nil {
		return
	}
	if err := p.sess.WritePhase(key, out); err != nil {
		p.e.warn(p.sessionID, out.Phase, fmt.Sprintf("write phase output: %v", err))
	}
}

func (p persister) phasePath(key string) string {
	if p.sess == nil {
		return ""
	}
	return filepath.Join(p.sess.Dir, key+".json")
}

// run carries all mutable state of one deliberation.
type run struct {
	sessionID  string
	input      string
	plan       *topology.Plan
	sess       persister
	memoryCtx  string
	memoryHits []memory.Hit

	phases  []topology.PhaseSpec
	skip    map[string]bool
	started time.Time

	// latest holds each provider's newest response across phases.
	latest map[string]string
	// latestPositions holds responses from the newest non-vote phase.
	latestPositions map[string]string
	outputs         []models.PhaseOutput
	records         []hashchain.PhaseRecord
	decisions       []adaptive.Decision
	evidenceReports map[string]evidence.Report
	redTeamFindings string
	voteOutput      *models.PhaseOutput
	extraRounds     int
	phaseSeq        int
	debateRepeat    map[string]int
	firstSeq        map[string]int
}

// Deliberate executes the full pipeline for input.
func (e *Engine) Deliberate(ctx context.Context, input string) (*models.DeliberationResult, error) {
	started := time.Now()
	roster := e.roster()

	r := &run{
		sessionID:       uuid.NewString(),
		input:           input,
		started:         started,
		skip:            map[string]bool{},
		latest:          map[string]string{},
		latestPositions: map[string]string{},
		evidenceReports: map[string]evidence.Report{},
		debateRepeat:    map[string]int{},
	}

	// Policy pre-check gates everything else.
	if err := e.policyPre(r, roster); err != nil {
		e.metrics.deliberation("blocked")
		return nil, err
	}

	e.initSession(r, roster)

	if e.memory != nil {
		hits, err := e.memory.Similar(r.input, memoryRetrievalK, memory.DefaultThreshold)
		if err != nil {
			e.warn(r.sessionID, "", fmt.Sprintf("memory retrieval: %v", err))
		} else if len(hits) > 0 {
			r.memoryHits = hits
			r.memoryCtx = memory.FormatHits(hits)
		}
	}

	plan, err := topology.Build(e.profile.Topology, roster, topology.Config{
		Roles:   e.profile.Roles,
		Prompts: e.profile.Prompts,
		Style:   e.profile.ChallengeStyle,
		Focus:   e.profile.Focus,
		Rounds:  e.profile.Rounds,
	})
	if err != nil {
		e.metrics.deliberation("error")
		return nil, err
	}
	r.plan = plan
	r.phases = filterPhases(plan.Phases, e.profile.Phases)
	r.sess.artifact("topology-plan.json", planSummary(plan))

	if err := e.runPhases(ctx, r); err != nil {
		e.metrics.deliberation("aborted")
		return nil, err
	}

	votes, err := e.tally(r)
	if err != nil {
		e.metrics.deliberation("aborted")
		return nil, err
	}

	if e.profile.RedTeam {
		e.runRedTeam(ctx, r, votes)
	}

	synthesis, err := e.synthesize(ctx, r, votes)
	if err != nil {
		e.metrics.deliberation("error")
		return nil, err
	}

	duration := time.Since(started)
	if err := e.policyPost(r, synthesis, votes, duration); err != nil {
		e.metrics.deliberation("blocked")
		return nil, err
	}

	e.finalize(r, synthesis, votes, duration)
	e.metrics.deliberation("ok")
	e.emit(Event{Kind: EventComplete, SessionID: r.sessionID, Duration: duration})

	return &models.DeliberationResult{
		SessionID:  r.sessionID,
		SessionDir: r.sessionDir(),
		Input:      r.input,
		Synthesis:  synthesis,
		Votes:      votes,
		DurationMs: duration.Milliseconds(),
	}, nil
}

func (r *run) sessionDir() string {
	if r.sess.sess == nil {
		return ""
	}
	return r.sess.sess.Dir
}

func (e *Engine) policyPre(r *run, roster []string) error {
	var violations []policy.Violation
	for _, p := range e.policies {
		violations = append(violations, policy.EvaluatePre(p, policy.PreInput{
			Input:     r.input,
			Providers: roster,
			Tags:      e.tags,
		})...)
	}
	for _, v := range violations {
		if v.Action == policy.ActionLog {
			e.log.WithField("policy", v.Policy).Info(v.Message)
		} else if v.Action == policy.ActionWarn {
			e.warn(r.sessionID, "", fmt.Sprintf("policy %s: %s", v.Policy, v.Message))
		}
	}
	switch policy.Worst(violations) {
	case policy.ActionBlock:
		return models.NewError(models.KindPolicy, fmt.Sprintf(
			"blocked by policy: %s", worstMessage(violations, policy.ActionBlock)))
	case policy.ActionPause:
		decision := e.checkpoint(r.sess, Checkpoint{
			Point:      "policy-pause",
			SessionID:  r.sessionID,
			Input:      r.input,
			Violations: violations,
		})
		switch decision.Action {
		case ActionAbort:
			return models.ErrAborted
		case ActionInject:
			if decision.Input != "" {
				r.input = decision.Input
			}
		}
	}
	return nil
}

func worstMessage(violations []policy.Violation, action policy.Action) string {
	for _, v := range violations {
		if v.Action == action {
			return v.Message
		}
	}
	return ""
}

func (e *Engine) initSession(r *run, roster []string) {
	r.sess = persister{e: e, sessionID: r.sessionID}
	if e.store == nil {
		return
	}
	sess, err := e.store.Init(r.sessionID)
	if err != nil {
		e.warn(r.sessionID, "", fmt.Sprintf("session init: %v", err))
		return
	}
	r.sess.sess = sess
	if err := sess.WriteMeta(models.SessionMeta{
		SessionID: r.sessionID,
		StartedAt: r.started.UTC(),
		Input:     r.input,
		Profile:   e.profile.Name,
		Providers: roster,
		Topology:  e.profile.Topology,
	}); err != nil {
		e.warn(r.sessionID, "", fmt.Sprintf("write meta: %v", err))
	}
}

// filterPhases applies the profile's phase whitelist to a plan. An empty
// whitelist keeps everything. VOTE survives whenever the profile names it
// or names SYNTHESIZE only implicitly (synthesis is not a planned phase).
func filterPhases(phases []topology.PhaseSpec, allowed []string) []topology.PhaseSpec {
	if len(allowed) == 0 {
		return phases
	}
	want := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		want[strings.ToUpper(name)] = true
	}
	var out []topology.PhaseSpec
	for _, ph := range phases {
		base := strings.ToUpper(strings.SplitN(ph.Name, "_", 2)[0])
		if want[strings.ToUpper(ph.Name)] || want[base] {
			out = append(out, ph)
		}
	}
	if len(out) == 0 {
		return phases
	}
	return out
}

func planSummary(plan *topology.Plan) map[string]interface{} {
	phases := make([]map[string]interface{}, len(plan.Phases))
	for i, ph := range plan.Phases {
		phases[i] = map[string]interface{}{
			"name":         ph.Name,
			"parallel":     ph.Parallel,
			"participants": ph.Participants,
			"visibility":   ph.Visibility,
		}
	}
	return map[string]interface{}{
		"topology":       plan.Topology,
		"description":    plan.Description,
		"voting_enabled": plan.VotingEnabled,
		"synthesizer":    plan.Synthesizer,
		"phases":         phases,
	}
}

// finalize persists every cross-session record. All failures are warnings;
// the in-memory result has already been decided.
func (e *Engine) finalize(r *run, synthesis *models.Synthesis, votes *models.VoteResult, duration time.Duration) {
	if r.sess.sess != nil {
		if err := r.sess.sess.WriteSynthesis(synthesis, votes); err != nil {
			e.warn(r.sessionID, "", fmt.Sprintf("write synthesis: %v", err))
		}
		meta := models.SessionMeta{
			SessionID:   r.sessionID,
			StartedAt:   r.started.UTC(),
			CompletedAt: time.Now().UTC(),
			Input:       r.input,
			Profile:     e.profile.Name,
			Providers:   e.roster(),
			Topology:    e.profile.Topology,
		}
		if err := r.sess.sess.WriteMeta(meta); err != nil {
			e.warn(r.sessionID, "", fmt.Sprintf("update meta: %v", err))
		}
		winner := ""
		if votes != nil {
			winner = votes.Winner
		}
		if err := e.store.AppendIndex(models.IndexRow{
			SessionID: r.sessionID,
			Timestamp: r.started.UTC(),
			Question:  r.input,
			Winner:    winner,
			Duration:  duration.Milliseconds(),
		}); err != nil {
			e.warn(r.sessionID, "", fmt.Sprintf("update index: %v", err))
		}
	}

	if len(r.decisions) > 0 {
		r.sess.artifact("adaptive-decisions.json", r.decisions)
	}
	if len(r.evidenceReports) > 0 {
		r.sess.artifact("evidence-report.json", r.evidenceReports)
		reports := make([]evidence.Report, 0, len(r.evidenceReports))
		for _, rep := range r.evidenceReports {
			reports = append(reports, rep)
		}
		r.sess.artifact("cross-references.json", evidence.CrossValidate(reports, evidence.DefaultSimilarityThreshold))
	}

	if chain, err := attest.Build(r.sessionID, r.started.UTC(), r.records); err != nil {
		e.warn(r.sessionID, "", fmt.Sprintf("attestation: %v", err))
	} else {
		r.sess.artifact("attestation.json", chain)
	}

	if e.arena != nil && votes != nil && len(votes.Rankings) > 0 {
		if err := e.arena.Record(r.sessionID, votes.Rankings); err != nil {
			e.warn(r.sessionID, "", fmt.Sprintf("arena update: %v", err))
		}
	}

	if e.memory != nil {
		winner := ""
		score := 0.0
		if votes != nil {
			winner = votes.Winner
		}
		if synthesis != nil {
			score = synthesis.ConsensusScore
		}
		if synthesis != nil && len(r.memoryHits) > 0 {
			if notes := e.memory.Contradictions(synthesis.Content, r.memoryHits, winner); len(notes) > 0 {
				r.sess.artifact("contradictions.json", notes)
				for _, note := range notes {
					e.warn(r.sessionID, "", "memory contradiction: "+note)
				}
			}
		}
		if err := e.memory.Store(models.MemoryNode{
			SessionID:      r.sessionID,
			Input:          r.input,
			Tags:           e.tags,
			ConsensusScore: score,
			Winner:         winner,
			Timestamp:      r.started.UTC(),
		}); err != nil {
			e.warn(r.sessionID, "", fmt.Sprintf("memory update: %v", err))
		}
	}

	if e.ledger != nil {
		configs := make([]models.ProviderConfig, len(e.providers))
		for i, p := range e.providers {
			configs[i] = p.Config()
		}
		if _, err := e.ledger.Append(models.LedgerEntry{
			ID:        r.sessionID,
			Timestamp: r.started.UTC(),
			Input:     r.input,
			Profile:   e.profile.Name,
			Providers: configs,
			Topology:  r.plan.Topology,
			Synthesis: synthesis,
			Votes:     votes,
		}); err != nil {
			e.warn(r.sessionID, "", fmt.Sprintf("ledger append: %v", err))
		}
	}
}

func (e *Engine) policyPost(r *run, synthesis *models.Synthesis, votes *models.VoteResult, duration time.Duration) error {
	in := policy.PostInput{
		Duration:        duration,
		Tags:            e.tags,
		EvidenceEnabled: e.profile.Evidence != "" && e.profile.Evidence != models.EvidenceOff,
		RedTeamRan:      r.redTeamFindings != "",
	}
	if synthesis != nil {
		in.ConsensusScore = synthesis.ConsensusScore
		in.ConfidenceScore = synthesis.ConfidenceScore
	}
	for _, rep := range r.evidenceReports {
		if rep.WeightedScore > in.EvidenceScore {
			in.EvidenceScore = rep.WeightedScore
		}
	}

	var violations []policy.Violation
	for _, p := range e.policies {
		violations = append(violations, policy.EvaluatePost(p, in)...)
	}
	for _, v := range violations {
		if v.Action != policy.ActionBlock {
			e.warn(r.sessionID, "", fmt.Sprintf("policy %s: %s", v.Policy, v.Message))
		}
	}
	if policy.Worst(violations) == policy.ActionBlock {
		return models.NewError(models.KindPolicy, fmt.Sprintf(
			"result blocked by policy: %s", worstMessage(violations, policy.ActionBlock)))
	}
	return nil
}
