// Package transport owns event delivery for a run: it tries the push
// channel first and falls back to polling the authoritative run record.
// Exactly one delivery channel is active per handle at any time, and all
// sink callbacks for a handle are invoked from a single goroutine in
// arrival order.
package transport

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/heidi-dang/Agents-loop-logic/internal/config"
	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
	"github.com/heidi-dang/Agents-loop-logic/internal/gateway"
	"github.com/heidi-dang/Agents-loop-logic/internal/reconcile"
)

// Gateway is the slice of the backend client the manager consumes.
type Gateway interface {
	GetRunDetails(ctx context.Context, runID string) (*domain.RunDetail, error)
	OpenStream(ctx context.Context, runID string) (gateway.Stream, error)
	OpenSocket(ctx context.Context, runID string) (gateway.Stream, error)
}

// Sink receives delivery callbacks for one run. Implementations need no
// locking against the manager: callbacks never overlap.
type Sink interface {
	// HandleDeltas delivers normalized push events in arrival order.
	HandleDeltas(events []domain.Event)
	// HandleFullLog delivers the authoritative run record fetched on poll.
	// Prior delta-accumulated state must be replaced, not merged.
	HandleFullLog(detail *domain.RunDetail)
	// HandleTerminal reports a genuine terminal status observed on either
	// channel. It is the last callback for the handle.
	HandleTerminal(status domain.RunStatus)
	// HandleDisconnected reports that both push and the bounded number of
	// consecutive poll attempts failed.
	HandleDisconnected()
}

// Options configures a manager.
type Options struct {
	Push            config.PushTransport
	PollInterval    time.Duration
	MaxPollFailures int
}

// Manager opens delivery handles for runs.
type Manager struct {
	gw   Gateway
	opts Options
}

// NewManager creates a manager. Zero option fields fall back to the
// defaults: SSE push, 1s poll cadence, 5 consecutive poll failures.
func NewManager(gw Gateway, opts Options) *Manager {
	if opts.Push == "" {
		opts.Push = config.PushSSE
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxPollFailures <= 0 {
		opts.MaxPollFailures = 5
	}
	return &Manager{gw: gw, opts: opts}
}

// Handle is one run's active delivery channel.
type Handle struct {
	runID     string
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Open starts delivery for a run. The returned handle must be closed; it
// also closes itself after signalling a terminal or disconnected state.
func (m *Manager) Open(ctx context.Context, runID string, sink Sink) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{runID: runID, cancel: cancel, done: make(chan struct{})}
	go m.deliver(ctx, runID, sink, h)
	return h
}

// Close stops delivery and releases the active stream or poll timer. Safe
// to call multiple times and after errors.
func (h *Handle) Close() {
	h.closeOnce.Do(h.cancel)
}

// Done is closed once delivery has fully stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (m *Manager) deliver(ctx context.Context, runID string, sink Sink, h *Handle) {
	defer close(h.done)
	defer h.Close()

	if m.runPush(ctx, runID, sink) {
		return
	}
	if ctx.Err() != nil {
		return
	}
	// Push failed: fall back to polling on this same tick. The first fetch
	// fires immediately, not after a poll interval.
	m.runPoll(ctx, runID, sink)
}

// runPush drives the push channel. It returns true when delivery finished
// for good (terminal observed or context done) and false when the channel
// failed and the poll fallback should take over.
func (m *Manager) runPush(ctx context.Context, runID string, sink Sink) bool {
	var stream gateway.Stream
	var err error
	if m.opts.Push == config.PushWebSocket {
		stream, err = m.gw.OpenSocket(ctx, runID)
	} else {
		stream, err = m.gw.OpenStream(ctx, runID)
	}
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		log.Printf("WARN: push transport failed to open for %s: %v", runID, err)
		return false
	}
	defer stream.Close()

	// Recv does not observe the context on every transport; closing the
	// stream from the side unblocks it.
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	for {
		frame, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			// Any transport-level error, including a drop before the first
			// frame or an EOF without a terminal event, hands over to the
			// poll fallback so the run can be caught up from the record.
			log.Printf("WARN: push transport dropped for %s: %v", runID, err)
			return false
		}

		ev := reconcile.Normalize(frame)
		sink.HandleDeltas([]domain.Event{ev})

		switch ev.Type {
		case domain.EventTypeDone:
			sink.HandleTerminal(domain.RunStatusCompleted)
			return true
		case domain.EventTypeError:
			sink.HandleTerminal(domain.RunStatusFailed)
			return true
		}
	}
}

// runPoll re-fetches the full run record on a fixed cadence and feeds it as
// a full-log replacement. It never diffs against previously seen events.
func (m *Manager) runPoll(ctx context.Context, runID string, sink Sink) {
	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		detail, err := m.gw.GetRunDetails(ctx, runID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			log.Printf("WARN: poll failed for %s (%d/%d): %v", runID, failures, m.opts.MaxPollFailures, err)
			if failures >= m.opts.MaxPollFailures {
				sink.HandleDisconnected()
				return
			}
		} else {
			failures = 0
			sink.HandleFullLog(detail)
			if st := detail.TerminalStatus(); st != "" {
				sink.HandleTerminal(st)
				return
			}
		}

		timer.Reset(m.opts.PollInterval)
	}
}
