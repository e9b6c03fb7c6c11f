package reconcile

import (
	"reflect"
	"testing"

	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
)

func sampleEvents() []domain.Event {
	return []domain.Event{
		{Type: domain.EventTypeUserPrompt, Text: "hi"},
		{Type: domain.EventTypeToolStart, ToolID: "t1", Title: "search"},
		{Type: domain.EventTypeToolLog, ToolID: "t1", Line: "a"},
		{Type: domain.EventTypeToolLog, ToolID: "t1", Line: "b"},
		{Type: domain.EventTypeToolDone, ToolID: "t1"},
		{Type: domain.EventTypeMessageDelta, Text: "hello"},
		{Type: domain.EventTypeDone},
	}
}

func TestApplySampleSequence(t *testing.T) {
	tr := Apply(nil, "r1", sampleEvents())

	if len(tr.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(tr.Messages))
	}
	user := tr.Messages[0]
	if user.Role != domain.RoleUser || user.Content != "hi" {
		t.Fatalf("unexpected user message: %+v", user)
	}
	asst := tr.Assistant()
	if asst == nil {
		t.Fatalf("expected assistant message")
	}
	if asst.Content != "hello" {
		t.Fatalf("expected assistant content %q, got %q", "hello", asst.Content)
	}
	if asst.Status != domain.MessageStatusDone {
		t.Fatalf("expected done, got %s", asst.Status)
	}
	if len(asst.Tools) != 1 {
		t.Fatalf("expected 1 tool event, got %d", len(asst.Tools))
	}
	tool := asst.Tools[0]
	if tool.ID != "t1" || tool.Status != domain.ToolStatusDone {
		t.Fatalf("unexpected tool event: %+v", tool)
	}
	if !reflect.DeepEqual(tool.Lines, []string{"a", "b"}) {
		t.Fatalf("unexpected tool lines: %v", tool.Lines)
	}
}

func TestApplyDeterministic(t *testing.T) {
	a := Apply(nil, "r1", sampleEvents())
	b := Apply(nil, "r1", sampleEvents())
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same event sequence produced different transcripts")
	}
}

func TestToolStartIdempotent(t *testing.T) {
	events := []domain.Event{
		{Type: domain.EventTypeToolStart, ToolID: "t1", Title: "search"},
		{Type: domain.EventTypeToolStart, ToolID: "t1", Title: "search"},
	}
	tr := Apply(nil, "r1", events)
	asst := tr.Assistant()
	if asst == nil || len(asst.Tools) != 1 {
		t.Fatalf("duplicate tool_start created a second tool event")
	}
}

func TestUserPromptIdempotent(t *testing.T) {
	events := []domain.Event{
		{Type: domain.EventTypeUserPrompt, Text: "hi"},
		{Type: domain.EventTypeUserPrompt, Text: "hi again"},
	}
	tr := Apply(nil, "r1", events)
	if len(tr.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(tr.Messages))
	}
	if tr.Messages[0].Content != "hi" {
		t.Fatalf("replay overwrote user prompt: %q", tr.Messages[0].Content)
	}
}

func TestMonotonicAccumulation(t *testing.T) {
	tr := Apply(nil, "r1", []domain.Event{
		{Type: domain.EventTypeToolStart, ToolID: "t1"},
		{Type: domain.EventTypeToolLog, ToolID: "t1", Line: "a"},
		{Type: domain.EventTypeMessageDelta, Text: "he"},
	})
	prevContent := len(tr.Assistant().Content)
	prevLines := len(tr.Assistant().Tools[0].Lines)

	tr = Apply(tr, "r1", []domain.Event{
		{Type: domain.EventTypeToolLog, ToolID: "t1", Line: "b"},
		{Type: domain.EventTypeMessageDelta, Text: "llo"},
	})
	if len(tr.Assistant().Content) < prevContent {
		t.Fatalf("assistant content shrank")
	}
	if len(tr.Assistant().Tools[0].Lines) < prevLines {
		t.Fatalf("tool line count shrank")
	}
	if tr.Assistant().Content != "hello" {
		t.Fatalf("deltas not appended in order: %q", tr.Assistant().Content)
	}
}

func TestApplyDoesNotMutatePrior(t *testing.T) {
	prior := Apply(nil, "r1", []domain.Event{
		{Type: domain.EventTypeMessageDelta, Text: "he"},
	})
	Apply(prior, "r1", []domain.Event{
		{Type: domain.EventTypeMessageDelta, Text: "llo"},
	})
	if prior.Assistant().Content != "he" {
		t.Fatalf("prior snapshot mutated: %q", prior.Assistant().Content)
	}
}

func TestToolLogUnknownIDIgnored(t *testing.T) {
	tr := Apply(nil, "r1", []domain.Event{
		{Type: domain.EventTypeToolStart, ToolID: "t1"},
		{Type: domain.EventTypeToolLog, ToolID: "t9", Line: "orphan"},
	})
	if got := len(tr.Assistant().Tools); got != 1 {
		t.Fatalf("expected 1 tool event, got %d", got)
	}
	if got := len(tr.Assistant().Tools[0].Lines); got != 0 {
		t.Fatalf("orphan line was attributed: %d lines", got)
	}
}

func TestToolErrorAppendsExplanation(t *testing.T) {
	tr := Apply(nil, "r1", []domain.Event{
		{Type: domain.EventTypeToolStart, ToolID: "t1"},
		{Type: domain.EventTypeToolError, ToolID: "t1", Err: "timeout"},
	})
	tool := tr.Assistant().Tools[0]
	if tool.Status != domain.ToolStatusError {
		t.Fatalf("expected error status, got %s", tool.Status)
	}
	if len(tool.Lines) != 1 || tool.Lines[0] != "error: timeout" {
		t.Fatalf("unexpected lines: %v", tool.Lines)
	}
}

func TestTerminalErrorSurfaced(t *testing.T) {
	tr := Apply(nil, "r1", []domain.Event{
		{Type: domain.EventTypeMessageDelta, Text: "partial"},
		{Type: domain.EventTypeError, Err: "backend exploded"},
	})
	asst := tr.Assistant()
	if asst.Status != domain.MessageStatusError {
		t.Fatalf("expected error status, got %s", asst.Status)
	}
	if asst.Content != "partial\nbackend exploded" {
		t.Fatalf("unexpected content: %q", asst.Content)
	}
}

func TestRawEventVisible(t *testing.T) {
	tr := Apply(nil, "r1", []domain.Event{
		{Type: domain.EventTypeRaw, Text: "mystery frame"},
	})
	if len(tr.Messages) != 1 || tr.Messages[0].Content != "mystery frame" {
		t.Fatalf("raw frame not surfaced: %+v", tr.Messages)
	}
}

func TestRebuildFromDetail(t *testing.T) {
	detail := &domain.RunDetail{
		RunID: "r1",
		Meta:  domain.RunMeta{Status: "completed"},
		Events: []domain.Envelope{
			{Type: "user_prompt", Message: "hi"},
			{Type: "message_delta", Data: []byte(`{"deltaText":"hello"}`)},
		},
		Result: "hello world",
	}
	tr := RebuildFromDetail(detail)
	if tr.UserMessage() == nil {
		t.Fatalf("user message lost on rebuild")
	}
	asst := tr.Assistant()
	if asst.Status != domain.MessageStatusDone {
		t.Fatalf("expected done, got %s", asst.Status)
	}
	// Streamed content wins over the record-level result.
	if asst.Content != "hello" {
		t.Fatalf("unexpected content: %q", asst.Content)
	}
}

func TestRebuildFromDetailResultOnly(t *testing.T) {
	detail := &domain.RunDetail{
		RunID:  "r1",
		Meta:   domain.RunMeta{Status: "completed"},
		Result: "final answer",
	}
	tr := RebuildFromDetail(detail)
	if got := tr.Assistant().Content; got != "final answer" {
		t.Fatalf("expected result as content, got %q", got)
	}
}

func TestRebuildFromDetailError(t *testing.T) {
	detail := &domain.RunDetail{
		RunID: "r1",
		Meta:  domain.RunMeta{Status: "failed"},
		Error: "agent crashed",
	}
	tr := RebuildFromDetail(detail)
	asst := tr.Assistant()
	if asst.Status != domain.MessageStatusError {
		t.Fatalf("expected error status, got %s", asst.Status)
	}
	if asst.Content != "agent crashed" {
		t.Fatalf("unexpected content: %q", asst.Content)
	}
}
