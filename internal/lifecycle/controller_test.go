package lifecycle

import (
	"testing"
	"time"

	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
)

func TestHappyPathTransitions(t *testing.T) {
	c := New(time.Second)
	if c.Status() != domain.RunStatusIdle {
		t.Fatalf("expected idle, got %s", c.Status())
	}
	c.StartRequested()
	if c.Status() != domain.RunStatusInitiating {
		t.Fatalf("expected initiating, got %s", c.Status())
	}
	c.EventReceived()
	if c.Status() != domain.RunStatusRunning {
		t.Fatalf("expected running, got %s", c.Status())
	}
	c.Terminal(domain.RunStatusCompleted)
	if c.Status() != domain.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", c.Status())
	}
}

func TestTerminalIsSticky(t *testing.T) {
	c := New(time.Second)
	c.StartRequested()
	c.EventReceived()
	c.Terminal(domain.RunStatusFailed)
	c.Terminal(domain.RunStatusCompleted)
	if c.Status() != domain.RunStatusFailed {
		t.Fatalf("terminal status overwritten: %s", c.Status())
	}
	c.Disconnected()
	if c.Status() != domain.RunStatusFailed {
		t.Fatalf("disconnected overwrote terminal: %s", c.Status())
	}
}

func TestCancelBeforeTerminal(t *testing.T) {
	c := New(time.Minute)
	c.StartRequested()
	c.EventReceived()

	if !c.RequestCancel() {
		t.Fatalf("expected cancel to be issued")
	}
	if c.Status() != domain.RunStatusCancelling {
		t.Fatalf("expected cancelling, got %s", c.Status())
	}
	// A second request while one is pending issues nothing.
	if c.RequestCancel() {
		t.Fatalf("duplicate cancel issued")
	}
	if c.CancelExpired() {
		t.Fatalf("cancel expired immediately")
	}
}

func TestTerminalWinsCancellationRace(t *testing.T) {
	c := New(time.Minute)
	c.StartRequested()
	c.EventReceived()
	c.RequestCancel()

	c.Terminal(domain.RunStatusCompleted)
	if c.Status() != domain.RunStatusCompleted {
		t.Fatalf("expected terminal event to win, got %s", c.Status())
	}
	// The late cancel acknowledgement is a no-op.
	if c.RequestCancel() {
		t.Fatalf("cancel issued after terminal state")
	}
}

func TestCancelTimeoutExpiry(t *testing.T) {
	c := New(10 * time.Second)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.StartRequested()
	c.EventReceived()
	c.RequestCancel()

	base = base.Add(5 * time.Second)
	c.ExpireCancel()
	if c.Status() != domain.RunStatusCancelling {
		t.Fatalf("cancel resolved before timeout: %s", c.Status())
	}

	base = base.Add(6 * time.Second)
	if !c.CancelExpired() {
		t.Fatalf("expected cancel to be expired")
	}
	c.ExpireCancel()
	if c.Status() != domain.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", c.Status())
	}
}

func TestPhaseLabels(t *testing.T) {
	c := New(time.Second)
	c.StartRequested()
	c.EventReceived()

	c.SetPhase("planning")
	if c.Phase() != domain.RunPhasePlanning {
		t.Fatalf("expected planning, got %s", c.Phase())
	}
	c.SetPhase("auditing")
	if c.Phase() != domain.RunPhaseAuditing {
		t.Fatalf("expected auditing, got %s", c.Phase())
	}
	// Unknown labels are ignored, not stored.
	c.SetPhase("daydreaming")
	if c.Phase() != domain.RunPhaseAuditing {
		t.Fatalf("unknown phase stored: %s", c.Phase())
	}
	// Phase changes never affect status.
	if c.Status() != domain.RunStatusRunning {
		t.Fatalf("phase changed status: %s", c.Status())
	}
}

func TestDisconnectedIsNotTerminal(t *testing.T) {
	c := New(time.Second)
	c.StartRequested()
	c.EventReceived()
	c.Disconnected()
	if c.Status() != domain.RunStatusDisconnected {
		t.Fatalf("expected disconnected, got %s", c.Status())
	}
	if c.Status().Terminal() {
		t.Fatalf("disconnected must not be terminal")
	}
	// A later authoritative terminal still lands.
	c.Terminal(domain.RunStatusCompleted)
	if c.Status() != domain.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", c.Status())
	}
}
