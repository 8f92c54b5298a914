package model

// GenerateRequest starts a generation turn.
type GenerateRequest struct {
	Message         string `json:"message" validate:"required,min=1,max=4000"`
	SelectedSceneID string `json:"selectedSceneId" validate:"omitempty,max=64"`
}

// GenerateResponse is returned when a turn is accepted.
type GenerateResponse struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	StreamURL string `json:"streamUrl"`
}

// ScenesResponse is the authoritative scene list of a project.
type ScenesResponse struct {
	ProjectID     string  `json:"projectId"`
	Scenes        []Scene `json:"scenes"`
	TotalDuration int     `json:"totalDuration"`
}

// MessagesResponse lists a project's conversation.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// RestoreResponse reports a completed restore.
type RestoreResponse struct {
	OperationID string  `json:"operationId"`
	Restored    int     `json:"restored"`
	Scenes      []Scene `json:"scenes"`
}

// CancelResponse reports whether a running session was asked to stop.
type CancelResponse struct {
	SessionID string `json:"sessionId"`
	Cancelled bool   `json:"cancelled"`
}
