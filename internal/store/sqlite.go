// Package store archives reconciled transcripts in SQLite so finished runs
// remain inspectable after the watcher exits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
)

// Store is a SQLite-backed transcript archive.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the archive at the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			phase TEXT,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			content TEXT NOT NULL,
			PRIMARY KEY (run_id, message_id),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id, seq)`,
		`CREATE TABLE IF NOT EXISTS tool_events (
			tool_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			title TEXT,
			status TEXT NOT NULL,
			lines TEXT,
			updated_at DATETIME,
			PRIMARY KEY (run_id, message_id, tool_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_events_run ON tool_events(run_id, seq)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveTranscript upserts a run and its reconciled transcript. Existing rows
// for the run are replaced wholesale; the archive mirrors the reconciler's
// full-state semantics.
func (s *Store) SaveTranscript(ctx context.Context, run *domain.Run, tr *domain.Transcript) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var endedAt interface{}
	if run.EndedAt != nil {
		endedAt = run.EndedAt.UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, status, phase, started_at, ended_at, error)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			phase = excluded.phase,
			ended_at = excluded.ended_at,
			error = excluded.error`,
		run.RunID, string(run.Status), string(run.Phase), run.StartedAt.UTC(), endedAt, run.Error)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_events WHERE run_id = ?`, run.RunID); err != nil {
		return fmt.Errorf("failed to clear tool events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE run_id = ?`, run.RunID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	for i, m := range tr.Messages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (message_id, run_id, seq, role, status, content) VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, run.RunID, i, string(m.Role), string(m.Status), m.Content)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		for j, tool := range m.Tools {
			lines, err := json.Marshal(tool.Lines)
			if err != nil {
				return fmt.Errorf("failed to marshal tool lines: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO tool_events (tool_id, run_id, message_id, seq, title, status, lines, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				tool.ID, run.RunID, m.ID, j, tool.Title, string(tool.Status), string(lines), tool.UpdatedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to save tool event: %w", err)
			}
		}
	}

	return tx.Commit()
}

// GetTranscript rebuilds an archived transcript.
func (s *Store) GetTranscript(ctx context.Context, runID string) (*domain.Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, status, content FROM messages WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	tr := &domain.Transcript{RunID: runID}
	for rows.Next() {
		var m domain.Message
		var role, status string
		if err := rows.Scan(&m.ID, &role, &status, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.Role(role)
		m.Status = domain.MessageStatus(status)
		tr.Messages = append(tr.Messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	toolRows, err := s.db.QueryContext(ctx,
		`SELECT tool_id, message_id, title, status, lines, updated_at FROM tool_events WHERE run_id = ? ORDER BY message_id, seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool events: %w", err)
	}
	defer toolRows.Close()

	for toolRows.Next() {
		var tool domain.ToolEvent
		var messageID, status, lines string
		var updatedAt time.Time
		if err := toolRows.Scan(&tool.ID, &messageID, &tool.Title, &status, &lines, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool event: %w", err)
		}
		tool.Status = domain.ToolStatus(status)
		tool.UpdatedAt = updatedAt
		if lines != "" {
			if err := json.Unmarshal([]byte(lines), &tool.Lines); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool lines: %w", err)
			}
		}
		if m := tr.Message(messageID); m != nil {
			m.Tools = append(m.Tools, &tool)
		}
	}
	if err := toolRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tool events: %w", err)
	}

	return tr, nil
}

// GetRun returns an archived run, or nil when absent.
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, status, phase, started_at, ended_at, error FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns archived runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, status, phase, started_at, ended_at, error FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var status, phase string
	var endedAt sql.NullTime
	var errText sql.NullString
	if err := row.Scan(&run.RunID, &status, &phase, &run.StartedAt, &endedAt, &errText); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.Phase = domain.RunPhase(phase)
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	if errText.Valid {
		run.Error = errText.String
	}
	return &run, nil
}
