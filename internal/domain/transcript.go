package domain

import "time"

// ToolEvent is a sub-record of one discrete action taken during a run.
// Lines is append-only; a duplicate delta for the same ID updates the
// existing entry rather than adding a second one.
type ToolEvent struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    ToolStatus `json:"status"`
	Lines     []string   `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Message is one transcript entry. Content is append-only during delta
// accumulation.
type Message struct {
	ID      string        `json:"id"`
	Role    Role          `json:"role"`
	Status  MessageStatus `json:"status"`
	Content string        `json:"content"`
	Tools   []*ToolEvent  `json:"tools,omitempty"`
}

// Tool returns the tool event with the given ID, or nil.
func (m *Message) Tool(id string) *ToolEvent {
	for _, t := range m.Tools {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Transcript is the reconciled conversation state for one run.
type Transcript struct {
	RunID    string     `json:"run_id"`
	Messages []*Message `json:"messages"`
}

// UserMessageID returns the deterministic ID of the run's user message, so
// repeated reconciliation passes locate the same entry.
func UserMessageID(runID string) string { return "msg_user_" + runID }

// AssistantMessageID returns the deterministic ID of the run's single
// in-flight assistant message.
func AssistantMessageID(runID string) string { return "msg_asst_" + runID }

// Message returns the message with the given ID, or nil.
func (t *Transcript) Message(id string) *Message {
	for _, m := range t.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// UserMessage returns the run's user message, or nil.
func (t *Transcript) UserMessage() *Message {
	return t.Message(UserMessageID(t.RunID))
}

// Assistant returns the run's assistant message, or nil.
func (t *Transcript) Assistant() *Message {
	return t.Message(AssistantMessageID(t.RunID))
}

// Clone returns a deep copy. The reconciler reduces over copies so callers
// can hold prior snapshots without seeing later mutation.
func (t *Transcript) Clone() *Transcript {
	if t == nil {
		return nil
	}
	out := &Transcript{RunID: t.RunID, Messages: make([]*Message, 0, len(t.Messages))}
	for _, m := range t.Messages {
		mc := &Message{ID: m.ID, Role: m.Role, Status: m.Status, Content: m.Content}
		for _, tool := range m.Tools {
			tc := &ToolEvent{ID: tool.ID, Title: tool.Title, Status: tool.Status, UpdatedAt: tool.UpdatedAt}
			tc.Lines = append([]string(nil), tool.Lines...)
			mc.Tools = append(mc.Tools, tc)
		}
		out.Messages = append(out.Messages, mc)
	}
	return out
}
