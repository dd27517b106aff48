package engine

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"dev.quorum.engine/internal/models"
	"dev.quorum.engine/internal/policy"
)

// CheckpointAction is what a human decided at a checkpoint.
type CheckpointAction string

const (
	ActionContinue       CheckpointAction = "continue"
	ActionInject         CheckpointAction = "inject"
	ActionOverrideWinner CheckpointAction = "override-winner"
	ActionAbort          CheckpointAction = "abort"
)

// Checkpoint names for the profile's checkpoints list.
const (
	CheckpointAfterPhase    = "after-phase"
	CheckpointAfterVote     = "after-vote"
	CheckpointOnControversy = "on-controversy"
)

// Checkpoint is the state snapshot handed to the HITL handler.
type Checkpoint struct {
	Point      string             `json:"point"`
	SessionID  string             `json:"session_id"`
	Phase      string             `json:"phase,omitempty"`
	Input      string             `json:"input"`
	Responses  map[string]string  `json:"responses,omitempty"`
	Votes      *models.VoteResult `json:"votes,omitempty"`
	Violations []policy.Violation `json:"violations,omitempty"`
}

// CheckpointDecision is the handler's verdict.
type CheckpointDecision struct {
	Action CheckpointAction `json:"action"`
	// Input replaces or augments the deliberation input on inject.
	Input string `json:"input,omitempty"`
	// Winner names the overriding winner on override-winner.
	Winner string `json:"winner,omitempty"`
}

// Handler resolves checkpoints. A nil handler means every checkpoint
// continues.
type Handler func(Checkpoint) CheckpointDecision

// checkpoint runs the handler, records the intervention, and returns the
// decision. With no handler configured, the run continues untouched.
func (e *Engine) checkpoint(sess persister, cp Checkpoint) CheckpointDecision {
	if e.handler == nil {
		return CheckpointDecision{Action: ActionContinue}
	}
	e.emit(Event{Kind: EventCheckpoint, SessionID: cp.SessionID, Phase: cp.Phase, Message: cp.Point})
	decision := e.handler(cp)
	if decision.Action == "" {
		decision.Action = ActionContinue
	}
	sess.artifact(fmt.Sprintf("intervention-%s.json", sanitizeName(cp.Point)), map[string]interface{}{
		"point":    cp.Point,
		"phase":    cp.Phase,
		"action":   decision.Action,
		"input":    decision.Input,
		"winner":   decision.Winner,
		"occurred": time.Now().UTC(),
	})
	return decision
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			return r
		}
		return '-'
	}, strings.ToLower(s))
}

// wantsCheckpoint reports whether the profile lists the named checkpoint.
func wantsCheckpoint(profile models.AgentProfile, name string) bool {
	for _, c := range profile.Checkpoints {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// runHook executes a profile shell hook for a phase. Hook failures are
// warnings; a deliberation never dies because a notification script broke.
func (e *Engine) runHook(sessionID, hookName, phase, input string, providers []string, outputPath string) {
	command, ok := e.profile.Hooks[hookName]
	if !ok || command == "" {
		return
	}
	cmd := exec.Command("sh", "-c", command)
	cmd.Env = append(os.Environ(),
		"DELIB_PHASE="+phase,
		"DELIB_SESSION="+sessionID,
		"DELIB_PROVIDERS="+strings.Join(providers, ","),
		"DELIB_INPUT="+input,
	)
	if outputPath != "" {
		cmd.Env = append(cmd.Env, "DELIB_PHASE_OUTPUT="+outputPath)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		e.warn(sessionID, phase, fmt.Sprintf("hook %s failed: %v: %s", hookName, err, strings.TrimSpace(string(out))))
	}
}
