package backend

import (
	"context"
	"sync"
)

type run struct {
	cancel context.CancelFunc
}

// Tracker maps job IDs to the cancel functions of their in-flight runs.
type Tracker struct {
	mu   sync.Mutex
	runs map[string]*run
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[string]*run)}
}

// Begin derives a cancellable context for the job's run. The returned end
// function must be called when the run is over.
func (t *Tracker) Begin(parent context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	r := &run{cancel: cancel}

	t.mu.Lock()
	if prev, ok := t.runs[jobID]; ok {
		prev.cancel()
	}
	t.runs[jobID] = r
	t.mu.Unlock()

	return ctx, func() {
		t.mu.Lock()
		// A newer run may have replaced this one.
		if t.runs[jobID] == r {
			delete(t.runs, jobID)
		}
		t.mu.Unlock()
		cancel()
	}
}

// Cancel interrupts the job's run. It reports whether a run was found.
func (t *Tracker) Cancel(jobID string) bool {
	t.mu.Lock()
	r, ok := t.runs[jobID]
	t.mu.Unlock()
	if ok {
		r.cancel()
	}
	return ok
}

// Active returns the number of tracked runs.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs)
}
