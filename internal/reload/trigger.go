package reload

import (
	"context"
	"fmt"
	"sync"
)

// RunFunc is one pipeline execution.
type RunFunc func(ctx context.Context) error

// flight is one execution and everyone waiting on it.
type flight struct {
	ctx  context.Context
	done chan struct{}
	err  error
}

func newFlight(ctx context.Context) *flight {
	return &flight{ctx: context.WithoutCancel(ctx), done: make(chan struct{})}
}

// Trigger serializes reloads. At most one run is in flight; triggers that
// arrive meanwhile share a single follow-up run, which starts when the
// current one finishes.
type Trigger struct {
	run     RunFunc
	metrics Metrics

	mu      sync.Mutex
	running *flight
	pending *flight
}

// NewTrigger wraps run. metrics may be nil.
func NewTrigger(run RunFunc, metrics Metrics) *Trigger {
	return &Trigger{run: run, metrics: metrics}
}

// OrchestratorRun adapts o.Run to a RunFunc.
func OrchestratorRun(o *Orchestrator) RunFunc {
	return func(ctx context.Context) error {
		_, err := o.Run(ctx)
		return err
	}
}

// Reload requests a run and waits for the run that covers this request.
// Runs are never cancelled once started: ctx only bounds the wait, and a
// run executes with ctx's values but without its cancellation.
func (t *Trigger) Reload(ctx context.Context) error {
	t.mu.Lock()
	var f *flight
	switch {
	case t.running == nil:
		f = newFlight(ctx)
		t.running = f
		go t.loop(f)
	case t.pending == nil:
		f = newFlight(ctx)
		t.pending = f
	default:
		f = t.pending
		if t.metrics != nil {
			t.metrics.IncReloadCoalesced()
		}
	}
	t.mu.Unlock()

	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports whether a run is executing.
func (t *Trigger) InFlight() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running != nil
}

func (t *Trigger) loop(f *flight) {
	for f != nil {
		f.err = t.exec(f.ctx)
		close(f.done)

		t.mu.Lock()
		f = t.pending
		t.pending = nil
		t.running = f
		t.mu.Unlock()
	}
}

func (t *Trigger) exec(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reload panic: %v", r)
		}
	}()
	return t.run(ctx)
}
