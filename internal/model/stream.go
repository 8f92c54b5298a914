package model

import "fmt"

// EventType tags a StreamEvent.
type EventType string

const (
	EventStatus     EventType = "status"
	EventDelta      EventType = "delta"
	EventToolStart  EventType = "tool_start"
	EventToolResult EventType = "tool_result"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
	EventFinalized  EventType = "finalized"
)

// Phase is the coarse progress signal carried by status events.
type Phase string

const (
	PhaseThinking    Phase = "thinking"
	PhaseToolCalling Phase = "tool_calling"
	PhaseBuilding    Phase = "building"
)

// SceneMutation describes what a tool_result changed, so a client can apply
// it to its cache before the authoritative resync.
type SceneMutation struct {
	Upserted []Scene  `json:"upserted,omitempty"`
	Deleted  []string `json:"deleted,omitempty"`

	// Reordered is set when scene order or timing shifted for the whole project.
	Reordered bool `json:"reordered,omitempty"`
}

// Empty reports whether the mutation carries no change.
func (m *SceneMutation) Empty() bool {
	return m == nil || (len(m.Upserted) == 0 && len(m.Deleted) == 0 && !m.Reordered)
}

// SceneIDs lists every scene id the mutation touched.
func (m *SceneMutation) SceneIDs() []string {
	if m == nil {
		return nil
	}
	ids := make([]string, 0, len(m.Upserted)+len(m.Deleted))
	for _, s := range m.Upserted {
		ids = append(ids, s.ID)
	}
	return append(ids, m.Deleted...)
}

// StreamEvent is one event of a generation session. Which fields are set
// depends on Type:
//
//	status       Status
//	delta        Content
//	tool_start   Name
//	tool_result  Name, Success, FinalContent?, JobID?, SceneID?, Mutation?
//	complete     FinalContent
//	error        Error, FinalContent?
//	finalized    (none)
//
// Every event carries the id of the session it belongs to.
type StreamEvent struct {
	Type         EventType      `json:"type"`
	SessionID    string         `json:"sessionId"`
	Status       Phase          `json:"status,omitempty"`
	Content      string         `json:"content,omitempty"`
	Name         string         `json:"name,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	FinalContent string         `json:"finalContent,omitempty"`
	JobID        string         `json:"jobId,omitempty"`
	SceneID      string         `json:"sceneId,omitempty"`
	Mutation     *SceneMutation `json:"mutation,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Succeeded reports the success flag of a tool_result.
func (e StreamEvent) Succeeded() bool {
	return e.Success != nil && *e.Success
}

// Terminal reports whether the event ends a turn (complete or error).
func (e StreamEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Validate checks that the fields required by Type are present.
func (e StreamEvent) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("%s event: missing session id", e.Type)
	}
	switch e.Type {
	case EventStatus:
		switch e.Status {
		case PhaseThinking, PhaseToolCalling, PhaseBuilding:
		default:
			return fmt.Errorf("status event: unknown phase %q", e.Status)
		}
	case EventDelta:
		if e.Content == "" {
			return fmt.Errorf("delta event: empty content")
		}
	case EventToolStart:
		if e.Name == "" {
			return fmt.Errorf("tool_start event: missing name")
		}
	case EventToolResult:
		if e.Name == "" {
			return fmt.Errorf("tool_result event: missing name")
		}
		if e.Success == nil {
			return fmt.Errorf("tool_result event: missing success flag")
		}
	case EventComplete, EventFinalized:
	case EventError:
		if e.Error == "" {
			return fmt.Errorf("error event: missing error")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// StatusEvent builds a status event.
func StatusEvent(sessionID string, phase Phase) StreamEvent {
	return StreamEvent{Type: EventStatus, SessionID: sessionID, Status: phase}
}

// DeltaEvent builds a delta event.
func DeltaEvent(sessionID, content string) StreamEvent {
	return StreamEvent{Type: EventDelta, SessionID: sessionID, Content: content}
}

// ToolStartEvent builds a tool_start event.
func ToolStartEvent(sessionID, name string) StreamEvent {
	return StreamEvent{Type: EventToolStart, SessionID: sessionID, Name: name}
}

// ToolResultEvent builds a tool_result event.
func ToolResultEvent(sessionID, name string, success bool) StreamEvent {
	return StreamEvent{Type: EventToolResult, SessionID: sessionID, Name: name, Success: &success}
}

// CompleteEvent builds a complete event.
func CompleteEvent(sessionID, finalContent string) StreamEvent {
	return StreamEvent{Type: EventComplete, SessionID: sessionID, FinalContent: finalContent}
}

// ErrorEvent builds an error event.
func ErrorEvent(sessionID, errMsg, finalContent string) StreamEvent {
	return StreamEvent{Type: EventError, SessionID: sessionID, Error: errMsg, FinalContent: finalContent}
}

// FinalizedEvent builds the finalized event.
func FinalizedEvent(sessionID string) StreamEvent {
	return StreamEvent{Type: EventFinalized, SessionID: sessionID}
}
