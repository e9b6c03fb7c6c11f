// Package lifecycle tracks run status transitions and mediates
// cancellation. The controller is a plain state machine; it performs no I/O
// and owns no timers, so transitions are directly testable.
package lifecycle

import (
	"time"

	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
)

// Controller tracks one run's lifecycle:
// idle -> initiating -> running -> {completed | failed | cancelled},
// with cancelling and disconnected as observable side states.
type Controller struct {
	status domain.RunStatus
	phase  domain.RunPhase

	cancelRequestedAt time.Time
	cancelTimeout     time.Duration

	now func() time.Time
}

// New creates a controller in the idle state. cancelTimeout bounds how long
// a requested cancellation waits for a genuine terminal event.
func New(cancelTimeout time.Duration) *Controller {
	return &Controller{
		status:        domain.RunStatusIdle,
		cancelTimeout: cancelTimeout,
		now:           time.Now,
	}
}

// Status returns the current lifecycle status.
func (c *Controller) Status() domain.RunStatus { return c.status }

// Phase returns the current running sub-label, if any.
func (c *Controller) Phase() domain.RunPhase { return c.phase }

// StartRequested moves idle to initiating.
func (c *Controller) StartRequested() {
	if c.status == domain.RunStatusIdle {
		c.status = domain.RunStatusInitiating
	}
}

// EventReceived moves initiating to running on the first delivered event.
func (c *Controller) EventReceived() {
	if c.status == domain.RunStatusInitiating {
		c.status = domain.RunStatusRunning
	}
}

// SetPhase records a running sub-label (planning, executing, reviewing,
// auditing). Phases are display-only and never change transport or
// reconciliation behavior.
func (c *Controller) SetPhase(label string) {
	switch domain.RunPhase(label) {
	case domain.RunPhasePlanning, domain.RunPhaseExecuting, domain.RunPhaseReviewing, domain.RunPhaseAuditing:
		c.phase = domain.RunPhase(label)
	}
}

// RequestCancel marks the run cancelling and reports whether a cancel call
// should be issued. Cancellation is optimistic: the status flips locally
// before the backend has acknowledged anything, and the run keeps being
// observed until a genuine terminal event or the bounded timeout.
func (c *Controller) RequestCancel() bool {
	if c.status.Terminal() || c.status == domain.RunStatusCancelling {
		return false
	}
	c.status = domain.RunStatusCancelling
	c.cancelRequestedAt = c.now()
	return true
}

// Terminal records a genuine terminal status from the transport. The
// terminal event always wins a race with an in-flight cancel request.
func (c *Controller) Terminal(status domain.RunStatus) {
	if c.status.Terminal() || !status.Terminal() {
		return
	}
	c.status = status
}

// Disconnected marks the run unreachable after bounded retries, distinct
// from failed: the backend did not reject the task, the client lost it.
func (c *Controller) Disconnected() {
	if c.status.Terminal() {
		return
	}
	c.status = domain.RunStatusDisconnected
}

// CancelExpired reports whether a pending cancellation has outlived its
// bounded timeout without a terminal event.
func (c *Controller) CancelExpired() bool {
	return c.status == domain.RunStatusCancelling &&
		c.now().Sub(c.cancelRequestedAt) >= c.cancelTimeout
}

// ExpireCancel resolves an expired cancellation to the local cancelled
// state.
func (c *Controller) ExpireCancel() {
	if c.CancelExpired() {
		c.status = domain.RunStatusCancelled
	}
}
