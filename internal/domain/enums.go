// Package domain defines the core domain models for the run watcher.
package domain

// RunStatus represents the lifecycle status of a run as seen by the client.
type RunStatus string

const (
	RunStatusIdle         RunStatus = "idle"
	RunStatusInitiating   RunStatus = "initiating"
	RunStatusRunning      RunStatus = "running"
	RunStatusCancelling   RunStatus = "cancelling"
	RunStatusCompleted    RunStatus = "completed"
	RunStatusFailed       RunStatus = "failed"
	RunStatusCancelled    RunStatus = "cancelled"
	RunStatusDisconnected RunStatus = "disconnected"
)

// Terminal reports whether the status admits no further transitions.
// Disconnected is deliberately non-terminal: it means the client lost the
// backend, not that the backend finished.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// RunPhase is an observable sub-label within the running state. Phases come
// from the backend loop stages and are display-only.
type RunPhase string

const (
	RunPhasePlanning  RunPhase = "planning"
	RunPhaseExecuting RunPhase = "executing"
	RunPhaseReviewing RunPhase = "reviewing"
	RunPhaseAuditing  RunPhase = "auditing"
)

// EventType represents the type of a normalized event.
type EventType string

const (
	EventTypeUserPrompt   EventType = "user_prompt"
	EventTypeToolStart    EventType = "tool_start"
	EventTypeToolLog      EventType = "tool_log"
	EventTypeToolDone     EventType = "tool_done"
	EventTypeToolError    EventType = "tool_error"
	EventTypeMessageDelta EventType = "message_delta"
	EventTypeRunState     EventType = "run_state"
	EventTypeDone         EventType = "done"
	EventTypeError        EventType = "error"

	// EventTypeRaw is the degraded form of an unrecognized or malformed
	// frame. The original text is preserved so nothing is dropped silently.
	EventTypeRaw EventType = "raw"
)

// Role represents the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus represents the display status of a transcript message.
type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusThinking  MessageStatus = "thinking"
	MessageStatusStreaming MessageStatus = "streaming"
	MessageStatusDone      MessageStatus = "done"
	MessageStatusError     MessageStatus = "error"
)

// ToolStatus represents the status of a tool event.
type ToolStatus string

const (
	ToolStatusRunning ToolStatus = "running"
	ToolStatusDone    ToolStatus = "done"
	ToolStatusError   ToolStatus = "error"
)
