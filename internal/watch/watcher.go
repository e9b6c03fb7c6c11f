// Package watch ties the pieces together for one run: it starts the run at
// the gateway, opens a transport handle, folds delivered events into
// transcript state, tracks lifecycle, and archives the final transcript.
// Each watcher is fully isolated; concurrent runs share no mutable state.
package watch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/heidi-dang/Agents-loop-logic/internal/config"
	"github.com/heidi-dang/Agents-loop-logic/internal/domain"
	"github.com/heidi-dang/Agents-loop-logic/internal/gateway"
	"github.com/heidi-dang/Agents-loop-logic/internal/lifecycle"
	"github.com/heidi-dang/Agents-loop-logic/internal/reconcile"
	"github.com/heidi-dang/Agents-loop-logic/internal/store"
	"github.com/heidi-dang/Agents-loop-logic/internal/transport"
)

// Gateway is the full backend surface the watcher consumes.
type Gateway interface {
	transport.Gateway
	StartRun(ctx context.Context, req *gateway.StartRequest) (*gateway.StartResponse, error)
	StartLoop(ctx context.Context, req *gateway.StartRequest) (*gateway.StartResponse, error)
	CancelRun(ctx context.Context, runID string) error
}

// Options tunes one watcher.
type Options struct {
	// Loop starts a plan/execute/audit loop run instead of a single pass.
	Loop bool

	// OnUpdate is invoked after each reconciliation pass with the new
	// transcript state. The transcript is never mutated after delivery.
	OnUpdate func(*domain.Transcript)

	// OnStatus is invoked on lifecycle changes.
	OnStatus func(status domain.RunStatus, phase domain.RunPhase)

	// Archive, when set, receives the final transcript on termination.
	Archive *store.Store
}

// Watcher observes one run from start to terminal state.
type Watcher struct {
	runID     string
	gw        Gateway
	cfg       *config.Config
	opts      Options
	startedAt time.Time

	handle *transport.Handle

	mu          sync.Mutex
	ctrl        *lifecycle.Controller
	tr          *domain.Transcript
	cancelTimer *time.Timer

	done     chan struct{}
	doneOnce sync.Once
}

// Start starts a run and begins watching it. The returned watcher must be
// closed unless it finishes on its own (Done is closed either way).
func Start(ctx context.Context, gw Gateway, cfg *config.Config, prompt string, opts Options) (*Watcher, error) {
	ctrl := lifecycle.New(cfg.CancelTimeout)
	ctrl.StartRequested()

	req := &gateway.StartRequest{Prompt: prompt}
	var resp *gateway.StartResponse
	var err error
	if opts.Loop {
		resp, err = gw.StartLoop(ctx, req)
	} else {
		resp, err = gw.StartRun(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	if resp.RunID == "" {
		return nil, fmt.Errorf("backend returned no run id")
	}

	w := &Watcher{
		runID:     resp.RunID,
		gw:        gw,
		cfg:       cfg,
		opts:      opts,
		startedAt: time.Now().UTC(),
		ctrl:      ctrl,
		tr:        &domain.Transcript{RunID: resp.RunID},
		done:      make(chan struct{}),
	}

	m := transport.NewManager(gw, transport.Options{
		Push:            cfg.Push,
		PollInterval:    cfg.PollInterval,
		MaxPollFailures: cfg.MaxPollFailures,
	})
	w.handle = m.Open(ctx, w.runID, w)
	return w, nil
}

// RunID returns the backend-assigned run identifier.
func (w *Watcher) RunID() string { return w.runID }

// Transcript returns the latest reconciled transcript state. The returned
// value is frozen; later passes publish fresh copies.
func (w *Watcher) Transcript() *domain.Transcript {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tr
}

// Status returns the current lifecycle status and running sub-label.
func (w *Watcher) Status() (domain.RunStatus, domain.RunPhase) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctrl.Status(), w.ctrl.Phase()
}

// Done is closed once the run reached a terminal state, went disconnected,
// or the watcher was closed.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Close releases the transport handle. Idempotent.
func (w *Watcher) Close() {
	w.handle.Close()
	w.signalDone()
}

// Cancel requests cancellation. It never blocks on the backend: the local
// status flips to cancelling immediately and a best-effort cancel call is
// issued in the background. The watcher keeps observing the transport until
// a genuine terminal event arrives or the bounded timeout elapses.
func (w *Watcher) Cancel() {
	w.mu.Lock()
	if !w.ctrl.RequestCancel() {
		w.mu.Unlock()
		return
	}
	w.cancelTimer = time.AfterFunc(w.cfg.CancelTimeout, w.onCancelTimeout)
	status, phase := w.ctrl.Status(), w.ctrl.Phase()
	w.mu.Unlock()

	w.emitStatus(status, phase)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CancelTimeout)
		defer cancel()
		if err := w.gw.CancelRun(ctx, w.runID); err != nil {
			log.Printf("WARN: cancel request for %s failed: %v", w.runID, err)
		}
	}()
}

func (w *Watcher) onCancelTimeout() {
	w.mu.Lock()
	w.ctrl.ExpireCancel()
	status := w.ctrl.Status()
	w.mu.Unlock()

	if status != domain.RunStatusCancelled {
		return
	}
	w.handle.Close()
	w.archive(status)
	w.emitStatus(status, "")
	w.signalDone()
}

// HandleDeltas implements transport.Sink.
func (w *Watcher) HandleDeltas(events []domain.Event) {
	w.mu.Lock()
	if w.ctrl.Status().Terminal() {
		w.mu.Unlock()
		return
	}
	w.ctrl.EventReceived()
	for _, ev := range events {
		if ev.Type == domain.EventTypeRunState {
			w.ctrl.SetPhase(ev.State)
		}
	}
	w.tr = reconcile.Apply(w.tr, w.runID, events)
	tr := w.tr
	status, phase := w.ctrl.Status(), w.ctrl.Phase()
	w.mu.Unlock()

	w.emitUpdate(tr)
	w.emitStatus(status, phase)
}

// HandleFullLog implements transport.Sink. Prior delta-accumulated state is
// discarded and rebuilt from the authoritative record in one pass.
func (w *Watcher) HandleFullLog(detail *domain.RunDetail) {
	w.mu.Lock()
	if w.ctrl.Status().Terminal() {
		w.mu.Unlock()
		return
	}
	w.ctrl.EventReceived()
	// The full log carries run_state entries too; the latest one is the
	// current sub-label.
	for _, ev := range reconcile.NormalizeLog(detail.Events) {
		if ev.Type == domain.EventTypeRunState {
			w.ctrl.SetPhase(ev.State)
		}
	}
	w.tr = reconcile.RebuildFromDetail(detail)
	tr := w.tr
	status, phase := w.ctrl.Status(), w.ctrl.Phase()
	w.mu.Unlock()

	w.emitUpdate(tr)
	w.emitStatus(status, phase)
}

// HandleTerminal implements transport.Sink. The terminal event wins any
// in-flight cancellation race.
func (w *Watcher) HandleTerminal(status domain.RunStatus) {
	w.mu.Lock()
	w.ctrl.Terminal(status)
	if w.cancelTimer != nil {
		w.cancelTimer.Stop()
		w.cancelTimer = nil
	}
	final, phase := w.ctrl.Status(), w.ctrl.Phase()
	w.mu.Unlock()

	w.archive(final)
	w.emitStatus(final, phase)
	w.signalDone()
}

// HandleDisconnected implements transport.Sink.
func (w *Watcher) HandleDisconnected() {
	w.mu.Lock()
	w.ctrl.Disconnected()
	status, phase := w.ctrl.Status(), w.ctrl.Phase()
	w.mu.Unlock()

	w.emitStatus(status, phase)
	w.signalDone()
}

func (w *Watcher) archive(status domain.RunStatus) {
	if w.opts.Archive == nil {
		return
	}
	w.mu.Lock()
	tr := w.tr
	phase := w.ctrl.Phase()
	w.mu.Unlock()

	ended := time.Now().UTC()
	run := &domain.Run{
		RunID:     w.runID,
		Status:    status,
		Phase:     phase,
		StartedAt: w.startedAt,
		EndedAt:   &ended,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.opts.Archive.SaveTranscript(ctx, run, tr); err != nil {
		log.Printf("ERROR: failed to archive transcript for %s: %v", w.runID, err)
	}
}

func (w *Watcher) emitUpdate(tr *domain.Transcript) {
	if w.opts.OnUpdate != nil {
		w.opts.OnUpdate(tr)
	}
}

func (w *Watcher) emitStatus(status domain.RunStatus, phase domain.RunPhase) {
	if w.opts.OnStatus != nil {
		w.opts.OnStatus(status, phase)
	}
}

func (w *Watcher) signalDone() {
	w.doneOnce.Do(func() { close(w.done) })
}
