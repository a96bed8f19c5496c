package unit

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Worker is the reference ("simple") Handle implementation described in the
// specification's Worker Unit capability contract: a single-goroutine actor
// holding state, evaluating delivered closures against it one at a time, and
// self-terminating after ttl idle.
//
// Custom Kind implementations are not required to use Worker - it exists so
// a Kind only has to provide an init function and let this package handle
// the actor plumbing, TTL bookkeeping, and clean shutdown.
type Worker struct {
	state    any
	ttl      time.Duration
	clock    clockz.Clock
	closures chan Closure
	done     chan struct{}
	stopOnce sync.Once
}

// WorkerOption configures a Worker at construction time.
type WorkerOption func(*Worker)

// WithWorkerClock overrides the clock a Worker uses for its idle timer.
// Tests use clockz.NewFakeClock() to make TTL expiry deterministic.
func WithWorkerClock(clock clockz.Clock) WorkerOption {
	return func(w *Worker) { w.clock = clock }
}

// NewWorker starts a Worker actor holding state, idling out after ttl with
// no delivered closures. A ttl of zero disables idle expiry.
func NewWorker(state any, ttl time.Duration, opts ...WorkerOption) *Worker {
	w := &Worker{
		state:    state,
		ttl:      ttl,
		clock:    clockz.RealClock,
		closures: make(chan Closure, 16),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Deliver enqueues closure for execution against the worker's state.
// Deliver is non-blocking unless the closure queue is saturated, mirroring
// the specification's "enqueue ... non-blocking" contract under bounded
// buffering.
func (w *Worker) Deliver(closure Closure) error {
	select {
	case <-w.done:
		return ErrRouterClosed
	default:
	}
	select {
	case w.closures <- closure:
		return nil
	case <-w.done:
		return ErrRouterClosed
	}
}

// Stop terminates the worker immediately, running no further closures.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Done reports a channel that closes when the worker has terminated, either
// by idle TTL expiry or by an explicit Stop.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run() {
	defer w.stopOnce.Do(func() {})

	if w.ttl <= 0 {
		for {
			select {
			case c, ok := <-w.closures:
				if !ok {
					return
				}
				c(w.state)
			case <-w.done:
				return
			}
		}
	}

	timer := w.clock.After(w.ttl)
	for {
		select {
		case c, ok := <-w.closures:
			if !ok {
				return
			}
			c(w.state)
			timer = w.clock.After(w.ttl)
		case <-timer:
			w.Stop()
			return
		case <-w.done:
			return
		}
	}
}
