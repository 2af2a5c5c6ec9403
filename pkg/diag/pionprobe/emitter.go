package pionprobe

import "sync"

// emitter serializes event delivery for one probe and enforces that nothing
// is delivered after the terminal event.
type emitter struct {
	mu       sync.Mutex
	finished bool
}

// emit runs fn unless the terminal event has been delivered.
func (e *emitter) emit(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return
	}
	fn()
}

// terminate runs fn as the terminal event. It reports false, without
// running fn, if a terminal event was already delivered.
func (e *emitter) terminate(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return false
	}
	e.finished = true
	fn()
	return true
}

func (e *emitter) done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}
