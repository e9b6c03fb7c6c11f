package domain

import "time"

// Run represents a single tracked execution of a remote agent task.
type Run struct {
	RunID     string     `json:"run_id"`
	Status    RunStatus  `json:"status"`
	Phase     RunPhase   `json:"phase,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// RunMeta is the metadata block of the authoritative run record. Unknown
// fields are ignored; only the pieces the client acts on are decoded.
type RunMeta struct {
	Status string `json:"status"`
	Task   string `json:"task,omitempty"`
}

// RunDetail is the full authoritative run record fetched on poll and
// catch-up. Events carries the complete ordered event log.
type RunDetail struct {
	RunID  string     `json:"run_id"`
	Meta   RunMeta    `json:"meta"`
	Events []Envelope `json:"events"`
	Result string     `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// TerminalStatus maps the backend status string of a run record onto the
// client-side RunStatus, or "" if the record is not terminal.
func (d *RunDetail) TerminalStatus() RunStatus {
	switch d.Meta.Status {
	case "completed", "done":
		return RunStatusCompleted
	case "failed", "error":
		return RunStatusFailed
	case "cancelled":
		return RunStatusCancelled
	}
	return ""
}
