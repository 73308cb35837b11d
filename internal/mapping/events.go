package mapping

import (
	"time"

	"github.com/ashureev/portfolio-skills/internal/domain"
)

// EventType identifies a streamed turn event.
type EventType string

// Event types, in the order a turn emits them: any number of message events,
// one state change, an optional schema update, then complete.
const (
	EventMessage      EventType = "message"
	EventStateChange  EventType = "state_change"
	EventSchemaUpdate EventType = "schema_update"
	EventComplete     EventType = "complete"
	EventSuggestion   EventType = "suggestion"
)

// Event is one element of a streamed turn.
type Event struct {
	Type      EventType      `json:"type"`
	Content   string         `json:"content,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type emitPhase int

const (
	phaseMessages emitPhase = iota
	phaseStateSent
	phaseDone
)

// emitter enforces event ordering on top of an iterator's yield function.
// Once the consumer stops, every further emit is a no-op.
type emitter struct {
	yield   func(Event) bool
	now     func() time.Time
	phase   emitPhase
	stopped bool
}

func (e *emitter) emit(ev Event) bool {
	if e.stopped {
		return false
	}
	ev.Timestamp = e.now()
	if !e.yield(ev) {
		e.stopped = true
	}
	return !e.stopped
}

// message emits a text chunk. It is dropped after the state change was sent.
func (e *emitter) message(content string) bool {
	if e.phase != phaseMessages {
		return !e.stopped
	}
	return e.emit(Event{Type: EventMessage, Content: content})
}

// finish emits the state change, the schema when present, and complete.
// summary, when non-nil, is attached to the complete event.
func (e *emitter) finish(state domain.ConversationState, schema *domain.ContentSchema, summary map[string]any) {
	if e.phase != phaseMessages {
		return
	}
	e.phase = phaseStateSent
	if !e.emit(Event{Type: EventStateChange, Data: map[string]any{"state": state}}) {
		return
	}
	if schema != nil {
		if !e.emit(Event{Type: EventSchemaUpdate, Data: map[string]any{"schema": schema}}) {
			return
		}
	}
	e.phase = phaseDone
	e.emit(Event{Type: EventComplete, Data: summary})
}
