package diag

import (
	"context"
	"sync"
)

// futureState is the lifecycle of a Future.
type futureState int

const (
	stateIdle futureState = iota
	stateRunning
	stateSettled
)

// String returns a string representation of the state.
func (s futureState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateRunning:
		return "Running"
	case stateSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// Future is the single-settlement result of a test run.
//
// A Future moves from Idle to Running when its probe starts and to Settled
// on the first resolve or reject. Every later settlement attempt is ignored,
// so a probe that emits more events after its terminal event cannot change
// the outcome.
type Future[T any] struct {
	mu    sync.Mutex
	state futureState
	value T
	err   error
	done  chan struct{}
	hooks []func()
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// start moves an idle future to Running.
func (f *Future[T]) start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != stateIdle {
		return false
	}
	f.state = stateRunning
	return true
}

// resolve settles the future with v. It reports whether this call settled it.
func (f *Future[T]) resolve(v T) bool {
	return f.settle(v, nil)
}

// reject settles the future with err. It reports whether this call settled it.
func (f *Future[T]) reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.state == stateSettled {
		f.mu.Unlock()
		return false
	}
	f.state = stateSettled
	f.value = v
	f.err = err
	hooks := f.hooks
	f.hooks = nil
	close(f.done)
	f.mu.Unlock()

	for _, h := range hooks {
		h()
	}
	return true
}

// onSettle registers fn to run once the future settles. If the future has
// already settled, fn runs immediately.
func (f *Future[T]) onSettle(fn func()) {
	f.mu.Lock()
	if f.state != stateSettled {
		f.hooks = append(f.hooks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn()
}

// Done returns a channel that is closed when the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has settled.
func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateSettled
}

// Result returns the settled value and error without blocking.
// It returns ErrPending if the future has not settled.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != stateSettled {
		var zero T
		return zero, ErrPending
	}
	return f.value, f.err
}

// Wait blocks until the future settles or ctx is done. Giving up on the wait
// does not stop the underlying test.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
