package model

import "time"

// MessageRole is the author of a conversation turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageStatus tracks the lifecycle of a message.
type MessageStatus string

const (
	MessagePending     MessageStatus = "pending"
	MessageThinking    MessageStatus = "thinking"
	MessageToolCalling MessageStatus = "tool_calling"
	MessageSuccess     MessageStatus = "success"
	MessageError       MessageStatus = "error"
)

// Terminal reports whether no further transitions are expected.
func (s MessageStatus) Terminal() bool {
	return s == MessageSuccess || s == MessageError
}

// MessageKind distinguishes plain text from tool output.
type MessageKind string

const (
	KindText       MessageKind = "text"
	KindToolResult MessageKind = "tool_result"
	KindError      MessageKind = "error"
)

// Message is one turn in a project's conversation.
type Message struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"projectId"`
	SessionID    string        `json:"sessionId,omitempty"`
	Role         MessageRole   `json:"role"`
	Content      string        `json:"content"`
	Status       MessageStatus `json:"status"`
	Kind         MessageKind   `json:"kind"`
	OperationRef string        `json:"operationRef,omitempty"`
	ToolName     string        `json:"toolName,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}
