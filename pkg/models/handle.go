package models

import (
	"context"
	"sync"
)

// RunHandle ties a running agent to its worker goroutine: a context cancel
// for cooperative stop, a buffered resume signal for halt-wait, and a done
// channel closed when the run exits.
type RunHandle struct {
	cancel   context.CancelFunc
	resumeCh chan struct{}
	doneCh   chan struct{}
	doneOnce sync.Once
}

// NewRunHandle creates a handle around the run's cancel function.
func NewRunHandle(cancel context.CancelFunc) *RunHandle {
	return &RunHandle{
		cancel:   cancel,
		resumeCh: make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
}

// Cancel cancels the run context. Safe to call repeatedly.
func (h *RunHandle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Resume delivers a resume signal to a worker parked at a halt boundary.
// The buffer holds one signal, so a send just before the worker parks is
// not lost. Returns false when an undelivered signal is already pending.
func (h *RunHandle) Resume() bool {
	select {
	case h.resumeCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// ResumeCh is the channel the worker selects on during halt-wait.
func (h *RunHandle) ResumeCh() <-chan struct{} { return h.resumeCh }

// Done is closed when the worker goroutine exits.
func (h *RunHandle) Done() <-chan struct{} { return h.doneCh }

// MarkDone closes Done. Called by the run pool when the worker returns.
func (h *RunHandle) MarkDone() {
	h.doneOnce.Do(func() { close(h.doneCh) })
}
