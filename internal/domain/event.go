package domain

import (
	"encoding/json"
	"time"
)

// Envelope is the wire shape shared by push frames and full-log entries.
// Push frames carry ts; full-log entries written by the backend carry
// timestamp instead. Ts is raw because the backend emits either an RFC3339
// string or unix milliseconds depending on the event source.
type Envelope struct {
	Type      string          `json:"type"`
	Message   string          `json:"message,omitempty"`
	Ts        json.RawMessage `json:"ts,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// Event is one canonical, normalized event. Immutable once produced; only
// the fields relevant to Type are populated.
type Event struct {
	Type EventType
	Ts   time.Time

	// Text carries the user prompt, assistant delta, or raw degraded frame.
	Text string

	ToolID string
	Title  string
	Line   string

	// State is the lifecycle sub-label from run_state/status frames.
	State string

	// Err is the error text of tool_error and terminal error events.
	Err string
}
