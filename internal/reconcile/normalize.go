// Package reconcile folds delivered run events into transcript state. The
// normalizer maps heterogeneous wire payloads to canonical events; the
// reducer is pure so the same event sequence always yields the same
// transcript, independent of call timing.
package reconcile

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
)

type toolPayload struct {
	ToolID string `json:"tool_id"`
	Title  string `json:"title,omitempty"`
	Line   string `json:"line,omitempty"`
	Error  string `json:"error,omitempty"`
}

type deltaPayload struct {
	DeltaText string `json:"deltaText"`
}

type statePayload struct {
	State  string `json:"state,omitempty"`
	Status string `json:"status,omitempty"`
}

type errorPayload struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Normalize parses one raw delivered frame into a canonical event. It never
// fails: a frame that cannot be parsed or typed degrades to a raw text
// event so no information is lost.
func Normalize(raw []byte) domain.Event {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		return domain.Event{Type: domain.EventTypeRaw, Text: strings.TrimSpace(string(raw))}
	}
	return NormalizeEnvelope(env)
}

// NormalizeEnvelope maps a decoded envelope to a canonical event.
func NormalizeEnvelope(env domain.Envelope) domain.Event {
	ev := domain.Event{Ts: parseTs(env)}

	switch env.Type {
	case "user_prompt":
		ev.Type = domain.EventTypeUserPrompt
		ev.Text = env.Message

	case "tool_start":
		var p toolPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ToolID == "" {
			return degrade(env, ev.Ts)
		}
		ev.Type = domain.EventTypeToolStart
		ev.ToolID = p.ToolID
		ev.Title = p.Title

	case "tool_log":
		var p toolPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ToolID == "" {
			return degrade(env, ev.Ts)
		}
		ev.Type = domain.EventTypeToolLog
		ev.ToolID = p.ToolID
		ev.Line = p.Line

	case "tool_done":
		var p toolPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ToolID == "" {
			return degrade(env, ev.Ts)
		}
		ev.Type = domain.EventTypeToolDone
		ev.ToolID = p.ToolID

	case "tool_error":
		var p toolPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ToolID == "" {
			return degrade(env, ev.Ts)
		}
		ev.Type = domain.EventTypeToolError
		ev.ToolID = p.ToolID
		ev.Err = p.Error

	case "message_delta":
		var p deltaPayload
		if len(env.Data) > 0 {
			json.Unmarshal(env.Data, &p)
		}
		ev.Type = domain.EventTypeMessageDelta
		ev.Text = p.DeltaText
		if ev.Text == "" {
			ev.Text = env.Message
		}

	case "run_state", "status":
		var p statePayload
		if len(env.Data) > 0 {
			json.Unmarshal(env.Data, &p)
		}
		ev.Type = domain.EventTypeRunState
		ev.State = p.State
		if ev.State == "" {
			ev.State = p.Status
		}
		if ev.State == "" {
			ev.State = env.Message
		}

	case "done", "completed":
		ev.Type = domain.EventTypeDone

	case "error":
		var p errorPayload
		if len(env.Data) > 0 {
			json.Unmarshal(env.Data, &p)
		}
		ev.Type = domain.EventTypeError
		ev.Err = p.Error
		if ev.Err == "" {
			ev.Err = p.Message
		}
		if ev.Err == "" {
			ev.Err = env.Message
		}

	default:
		return degrade(env, ev.Ts)
	}

	return ev
}

// NormalizeLog maps a full authoritative event log to canonical events,
// preserving order.
func NormalizeLog(entries []domain.Envelope) []domain.Event {
	events := make([]domain.Event, 0, len(entries))
	for _, env := range entries {
		events = append(events, NormalizeEnvelope(env))
	}
	return events
}

// degrade turns an unrecognized or malformed envelope into a visible raw
// text event.
func degrade(env domain.Envelope, ts time.Time) domain.Event {
	text := env.Message
	if text == "" && len(env.Data) > 0 {
		text = string(env.Data)
	}
	if text == "" {
		text = env.Type
	}
	return domain.Event{Type: domain.EventTypeRaw, Ts: ts, Text: text}
}

// parseTs accepts the two timestamp shapes the backend emits: RFC3339
// strings (full-log entries, some push frames) and unix milliseconds.
func parseTs(env domain.Envelope) time.Time {
	if env.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, env.Timestamp); err == nil {
			return t
		}
	}
	if len(env.Ts) == 0 {
		return time.Time{}
	}
	var ms int64
	if err := json.Unmarshal(env.Ts, &ms); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	var s string
	if err := json.Unmarshal(env.Ts, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}
