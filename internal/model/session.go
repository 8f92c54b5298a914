package model

import "time"

// GenerationSession is the lifecycle of one user turn for a project.
// At most one live session exists per project.
type GenerationSession struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"projectId"`
	UserID          string    `json:"userId,omitempty"`
	UserMessageID   string    `json:"userMessageId"`
	ActiveMessageID string    `json:"activeMessageId"`
	Text            string    `json:"text"`
	SelectedSceneID string    `json:"selectedSceneId,omitempty"`
	LockHeld        bool      `json:"lockHeld"`
	LockToken       string    `json:"lockToken,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
}

// Public returns a copy safe to hand to clients.
func (s GenerationSession) Public() GenerationSession {
	s.LockToken = ""
	return s
}

// GenerationPayload is the asynq task payload for a generation session.
type GenerationPayload struct {
	SessionID string `json:"sessionId"`
	ProjectID string `json:"projectId"`
}
