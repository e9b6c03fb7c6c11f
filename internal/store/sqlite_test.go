package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTranscript(runID string) *domain.Transcript {
	return &domain.Transcript{
		RunID: runID,
		Messages: []*domain.Message{
			{
				ID:      domain.UserMessageID(runID),
				Role:    domain.RoleUser,
				Status:  domain.MessageStatusDone,
				Content: "hi",
			},
			{
				ID:      domain.AssistantMessageID(runID),
				Role:    domain.RoleAssistant,
				Status:  domain.MessageStatusDone,
				Content: "hello",
				Tools: []*domain.ToolEvent{
					{
						ID:        "t1",
						Title:     "search",
						Status:    domain.ToolStatusDone,
						Lines:     []string{"a", "b"},
						UpdatedAt: time.Now().UTC().Truncate(time.Second),
					},
				},
			},
		},
	}
}

func TestSaveAndGetTranscript(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := &domain.Run{RunID: "r1", Status: domain.RunStatusCompleted, StartedAt: time.Now().UTC()}
	if err := s.SaveTranscript(ctx, run, sampleTranscript("r1")); err != nil {
		t.Fatalf("SaveTranscript failed: %v", err)
	}

	tr, err := s.GetTranscript(ctx, "r1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	assert.Len(t, tr.Messages, 2)
	assert.Equal(t, "hi", tr.Messages[0].Content)

	asst := tr.Assistant()
	if assert.NotNil(t, asst) {
		assert.Equal(t, "hello", asst.Content)
		if assert.Len(t, asst.Tools, 1) {
			assert.Equal(t, []string{"a", "b"}, asst.Tools[0].Lines)
			assert.Equal(t, domain.ToolStatusDone, asst.Tools[0].Status)
		}
	}
}

func TestSaveTranscriptReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := &domain.Run{RunID: "r1", Status: domain.RunStatusRunning, StartedAt: time.Now().UTC()}
	if err := s.SaveTranscript(ctx, run, sampleTranscript("r1")); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	// Re-save with more accumulated state; rows are replaced, not appended.
	tr := sampleTranscript("r1")
	tr.Assistant().Content = "hello world"
	ended := time.Now().UTC()
	run.Status = domain.RunStatusCompleted
	run.EndedAt = &ended
	if err := s.SaveTranscript(ctx, run, tr); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := s.GetTranscript(ctx, "r1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, "hello world", got.Assistant().Content)

	stored, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if assert.NotNil(t, stored) {
		assert.Equal(t, domain.RunStatusCompleted, stored.Status)
		assert.NotNil(t, stored.EndedAt)
	}
}

func TestGetRunMissing(t *testing.T) {
	s := newTestStore(t)
	run, err := s.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	assert.Nil(t, run)
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"r1", "r2", "r3"} {
		run := &domain.Run{
			RunID:     id,
			Status:    domain.RunStatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveTranscript(ctx, run, &domain.Transcript{RunID: id}); err != nil {
			t.Fatalf("save %s failed: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if assert.Len(t, runs, 2) {
		assert.Equal(t, "r3", runs[0].RunID)
		assert.Equal(t, "r2", runs[1].RunID)
	}
}
