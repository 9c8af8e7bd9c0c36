package scaling

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// delayedWork runs fn after a delay and keeps at most one run scheduled.
// fn returns the delay until its next run, or false to stop. A cancel makes
// every run scheduled before it a no-op, including the re-arm of a run that
// is already executing, and flush waits for such a run to return.
type delayedWork struct {
	clock clock.WithDelayedExecution
	fn    func() (time.Duration, bool)

	// held for the whole execution of fn
	runMu sync.Mutex

	mu    sync.Mutex
	gen   uint64
	timer clock.Timer
}

func newDelayedWork(clk clock.WithDelayedExecution, fn func() (time.Duration, bool)) *delayedWork {
	return &delayedWork{
		clock: clk,
		fn:    fn,
	}
}

// queue replaces any scheduled run with one after delay.
func (w *delayedWork) queue(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
	w.scheduleLocked(w.gen, delay)
}

func (w *delayedWork) cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
}

func (w *delayedWork) flush() {
	w.runMu.Lock()
	defer w.runMu.Unlock()
}

func (w *delayedWork) stopLocked() {
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *delayedWork) scheduleLocked(gen uint64, delay time.Duration) {
	w.timer = w.clock.AfterFunc(delay, func() {
		go w.run(gen)
	})
}

func (w *delayedWork) run(gen uint64) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.mu.Unlock()

	next, rearm := w.fn()

	w.mu.Lock()
	defer w.mu.Unlock()
	if rearm && w.gen == gen {
		w.scheduleLocked(gen, next)
	}
}
