// Package stream implements the per-session event state machine. Transports
// plug in as a Sink and never decide ordering themselves.
package stream

import (
	"fmt"
	"sync"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
)

// State is a position in the session's event protocol.
type State int

const (
	Idle State = iota
	Thinking
	ToolRunning
	ToolDone
	Completed
	Errored
	Finalized
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Thinking:
		return "thinking"
	case ToolRunning:
		return "tool_running"
	case ToolDone:
		return "tool_done"
	case Completed:
		return "completed"
	case Errored:
		return "errored"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions is the complete table; any (state, event) pair absent here is
// rejected with model.ErrInvalidTransition.
var transitions = map[State]map[model.EventType]State{
	Idle: {
		model.EventStatus: Thinking,
		model.EventError:  Errored,
	},
	Thinking: {
		model.EventStatus:    Thinking,
		model.EventDelta:     Thinking,
		model.EventToolStart: ToolRunning,
		model.EventComplete:  Completed,
		model.EventError:     Errored,
	},
	ToolRunning: {
		model.EventStatus:     ToolRunning,
		model.EventDelta:      ToolRunning,
		model.EventToolResult: ToolDone,
		model.EventError:      Errored,
	},
	ToolDone: {
		model.EventStatus:     ToolDone,
		model.EventDelta:      ToolDone,
		model.EventToolResult: ToolDone,
		model.EventToolStart:  ToolRunning,
		model.EventComplete:   Completed,
		model.EventError:      Errored,
	},
	Completed: {
		model.EventFinalized: Finalized,
	},
	Errored: {
		model.EventFinalized: Finalized,
	},
}

// Next returns the state reached by applying event type et in state s.
func Next(s State, et model.EventType) (State, error) {
	next, ok := transitions[s][et]
	if !ok {
		return s, fmt.Errorf("%w: %s in state %s", model.ErrInvalidTransition, et, s)
	}
	return next, nil
}

// Sink receives events in emission order. Publish must not reorder events.
type Sink interface {
	Publish(event model.StreamEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(model.StreamEvent) error

// Publish implements Sink.
func (f SinkFunc) Publish(event model.StreamEvent) error { return f(event) }

// Emitter drives one session through the protocol and forwards every
// accepted event to its sink.
type Emitter struct {
	mu        sync.Mutex
	sessionID string
	state     State
	openTool  string
	sink      Sink
}

// NewEmitter creates an emitter in the Idle state.
func NewEmitter(sessionID string, sink Sink) *Emitter {
	return &Emitter{sessionID: sessionID, sink: sink}
}

// State returns the current state.
func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Emit validates event against the transition table and publishes it.
func (e *Emitter) Emit(event model.StreamEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if event.SessionID == "" {
		event.SessionID = e.sessionID
	}
	if event.SessionID != e.sessionID {
		return fmt.Errorf("%w: event for session %s on stream %s", model.ErrInvalidTransition, event.SessionID, e.sessionID)
	}
	if err := event.Validate(); err != nil {
		return err
	}

	next, err := Next(e.state, event.Type)
	if err != nil {
		return err
	}
	if event.Type == model.EventToolResult && event.Name != e.openTool {
		return fmt.Errorf("%w: tool_result %q while %q is open", model.ErrInvalidTransition, event.Name, e.openTool)
	}

	if err := e.sink.Publish(event); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	switch event.Type {
	case model.EventToolStart:
		e.openTool = event.Name
	case model.EventComplete, model.EventError:
		e.openTool = ""
	}
	e.state = next
	return nil
}

// Status emits a status event.
func (e *Emitter) Status(phase model.Phase) error {
	return e.Emit(model.StatusEvent(e.sessionID, phase))
}

// Delta emits a delta event.
func (e *Emitter) Delta(content string) error {
	return e.Emit(model.DeltaEvent(e.sessionID, content))
}

// ToolStart emits tool_start.
func (e *Emitter) ToolStart(name string) error {
	return e.Emit(model.ToolStartEvent(e.sessionID, name))
}

// ToolResult emits a tool_result built by the caller.
func (e *Emitter) ToolResult(event model.StreamEvent) error {
	event.Type = model.EventToolResult
	return e.Emit(event)
}

// Complete emits complete.
func (e *Emitter) Complete(finalContent string) error {
	return e.Emit(model.CompleteEvent(e.sessionID, finalContent))
}

// Fail emits error. It is a no-op once the turn already reached a
// terminal event.
func (e *Emitter) Fail(errMsg, finalContent string) error {
	if s := e.State(); s == Completed || s == Errored || s == Finalized {
		return nil
	}
	return e.Emit(model.ErrorEvent(e.sessionID, errMsg, finalContent))
}

// Finalize emits finalized, first emitting an error if the turn never
// reached a terminal event. Calling it again is a no-op.
func (e *Emitter) Finalize() error {
	switch e.State() {
	case Finalized:
		return nil
	case Completed, Errored:
	default:
		if err := e.Fail("session ended unexpectedly", ""); err != nil {
			return err
		}
	}
	return e.Emit(model.FinalizedEvent(e.sessionID))
}
