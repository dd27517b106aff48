package engine

import (
	"time"

	"dev.quorum.engine/internal/adaptive"
	"dev.quorum.engine/internal/models"
)

// EventKind discriminates engine events.
type EventKind string

const (
	EventPhaseStart EventKind = "phase:start"
	EventPhaseDone  EventKind = "phase:done"
	EventResponse   EventKind = "response"
	EventWarn       EventKind = "warn"
	EventEvidence   EventKind = "evidence"
	EventAdaptive   EventKind = "adaptive"
	EventVotes      EventKind = "votes"
	EventCheckpoint EventKind = "checkpoint"
	EventComplete   EventKind = "complete"
)

// Event is one engine notification. Only the fields relevant to the kind
// are set.
type Event struct {
	Kind      EventKind          `json:"kind"`
	Timestamp time.Time          `json:"timestamp"`
	SessionID string             `json:"session_id"`
	Phase     string             `json:"phase,omitempty"`
	Provider  string             `json:"provider,omitempty"`
	Message   string             `json:"message,omitempty"`
	Duration  time.Duration      `json:"duration,omitempty"`
	Votes     *models.VoteResult `json:"votes,omitempty"`
	Decision  *adaptive.Decision `json:"decision,omitempty"`
}

// Subscriber receives every event in emission order. Emission is
// serialized; subscribers must not block.
type Subscriber func(Event)

func (e *Engine) emit(ev Event) {
	ev.Timestamp = time.Now().UTC()
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	for _, sub := range e.subs {
		sub(ev)
	}
}

func (e *Engine) warn(sessionID, phase, msg string) {
	e.log.WithField("phase", phase).Warn(msg)
	e.emit(Event{Kind: EventWarn, SessionID: sessionID, Phase: phase, Message: msg})
}
