package reconcile

import (
	"fmt"

	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
)

// Apply reduces an ordered event slice over a prior transcript and returns
// the new state. The prior transcript is never mutated; callers may keep
// old snapshots. Passing a nil prior starts from an empty transcript.
func Apply(prior *domain.Transcript, runID string, events []domain.Event) *domain.Transcript {
	tr := prior.Clone()
	if tr == nil {
		tr = &domain.Transcript{RunID: runID}
	}
	for _, ev := range events {
		applyOne(tr, ev)
	}
	return tr
}

// Rebuild reconstructs transcript state from scratch out of a full
// authoritative event log. Used on the poll path: delta-accumulated state
// for the run is discarded wholesale rather than merged, so two
// independently-ordered event sources are never interleaved.
func Rebuild(runID string, events []domain.Event) *domain.Transcript {
	return Apply(nil, runID, events)
}

// RebuildFromDetail rebuilds transcript state from a full run record,
// folding in the record-level result and error fields that the event log
// may not carry.
func RebuildFromDetail(detail *domain.RunDetail) *domain.Transcript {
	tr := Rebuild(detail.RunID, NormalizeLog(detail.Events))

	if detail.Error != "" {
		m := assistant(tr)
		m.Status = domain.MessageStatusError
		appendContent(m, detail.Error)
	}
	if detail.Result != "" {
		m := assistant(tr)
		if m.Content == "" {
			m.Content = detail.Result
		}
	}
	if st := detail.TerminalStatus(); st != "" {
		if m := tr.Assistant(); m != nil && !terminalMessage(m.Status) {
			if st == domain.RunStatusFailed {
				m.Status = domain.MessageStatusError
			} else {
				m.Status = domain.MessageStatusDone
			}
		}
	}
	return tr
}

func applyOne(tr *domain.Transcript, ev domain.Event) {
	switch ev.Type {
	case domain.EventTypeUserPrompt:
		// One user message per run; replays are no-ops.
		if tr.UserMessage() != nil {
			return
		}
		m := &domain.Message{
			ID:      domain.UserMessageID(tr.RunID),
			Role:    domain.RoleUser,
			Status:  domain.MessageStatusDone,
			Content: ev.Text,
		}
		tr.Messages = append([]*domain.Message{m}, tr.Messages...)

	case domain.EventTypeToolStart:
		m := assistant(tr)
		if m.Tool(ev.ToolID) == nil {
			m.Tools = append(m.Tools, &domain.ToolEvent{
				ID:        ev.ToolID,
				Title:     ev.Title,
				Status:    domain.ToolStatusRunning,
				UpdatedAt: ev.Ts,
			})
		}
		m.Status = domain.MessageStatusStreaming

	case domain.EventTypeToolLog:
		// A log line for an unknown tool cannot be attributed; drop it.
		t := findTool(tr, ev.ToolID)
		if t == nil {
			return
		}
		t.Lines = append(t.Lines, ev.Line)
		t.UpdatedAt = ev.Ts

	case domain.EventTypeToolDone:
		if t := findTool(tr, ev.ToolID); t != nil {
			t.Status = domain.ToolStatusDone
			t.UpdatedAt = ev.Ts
		}

	case domain.EventTypeToolError:
		if t := findTool(tr, ev.ToolID); t != nil {
			t.Status = domain.ToolStatusError
			if ev.Err != "" {
				t.Lines = append(t.Lines, "error: "+ev.Err)
			}
			t.UpdatedAt = ev.Ts
		}

	case domain.EventTypeMessageDelta:
		m := assistant(tr)
		m.Content += ev.Text
		if !terminalMessage(m.Status) {
			m.Status = domain.MessageStatusStreaming
		}

	case domain.EventTypeRunState:
		// Lifecycle sub-labels are handled by the controller; the
		// transcript itself does not change.

	case domain.EventTypeDone:
		if m := tr.Assistant(); m != nil {
			m.Status = domain.MessageStatusDone
		}

	case domain.EventTypeError:
		m := assistant(tr)
		m.Status = domain.MessageStatusError
		if ev.Err != "" {
			appendContent(m, ev.Err)
		}

	case domain.EventTypeRaw:
		if ev.Text == "" {
			return
		}
		m := &domain.Message{
			ID:      rawMessageID(tr),
			Role:    domain.RoleAssistant,
			Status:  domain.MessageStatusDone,
			Content: ev.Text,
		}
		tr.Messages = append(tr.Messages, m)
	}
}

// assistant locates the run's single in-flight assistant message, creating
// it on first need. The ID is derived from the run ID so every pass finds
// the same message.
func assistant(tr *domain.Transcript) *domain.Message {
	if m := tr.Assistant(); m != nil {
		return m
	}
	m := &domain.Message{
		ID:     domain.AssistantMessageID(tr.RunID),
		Role:   domain.RoleAssistant,
		Status: domain.MessageStatusThinking,
	}
	tr.Messages = append(tr.Messages, m)
	return m
}

func findTool(tr *domain.Transcript, id string) *domain.ToolEvent {
	m := tr.Assistant()
	if m == nil {
		return nil
	}
	return m.Tool(id)
}

func appendContent(m *domain.Message, text string) {
	if m.Content != "" {
		m.Content += "\n"
	}
	m.Content += text
}

func terminalMessage(s domain.MessageStatus) bool {
	return s == domain.MessageStatusDone || s == domain.MessageStatusError
}

// rawMessageID derives a deterministic ID for a degraded raw frame from the
// count of raw messages already present, keeping full-log rebuilds stable.
func rawMessageID(tr *domain.Transcript) string {
	n := 0
	for _, m := range tr.Messages {
		if m.Role == domain.RoleAssistant && m.ID != domain.AssistantMessageID(tr.RunID) {
			n++
		}
	}
	return fmt.Sprintf("msg_raw_%s_%d", tr.RunID, n)
}
