// Package internal provides internal utilities for the diag package.
package internal

import (
	"sort"
	"sync"
	"time"
)

// Clock is an interface for obtaining time and scheduling deferred calls.
// This abstraction allows for deterministic testing of time-bounded runners.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine once d has elapsed.
	// The returned Timer can disarm the call before it fires.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending call scheduled with Clock.AfterFunc.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call
	// was still pending.
	Stop() bool
}

// MonotonicClock is a Clock implementation backed by the time package.
type MonotonicClock struct{}

// Now returns the current system time with monotonic clock reading.
func (MonotonicClock) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules f with time.AfterFunc.
func (MonotonicClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MockClock is a Clock implementation for testing that allows manual control
// of time progression. Scheduled calls fire synchronously inside Advance.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
	seq     uint64
}

type mockTimer struct {
	clock    *MockClock
	deadline time.Time
	seq      uint64
	f        func()
	pending  bool
}

// NewMockClock creates a new MockClock initialized to the given time.
// If t is zero, it initializes to a reasonable default start time.
func NewMockClock(t time.Time) *MockClock {
	if t.IsZero() {
		t = time.Unix(1000000000, 0) // 2001-09-09
	}
	return &MockClock{current: t}
}

// Now returns the mock clock's current time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// AfterFunc registers f to run once the clock has been advanced by d.
func (m *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &mockTimer{
		clock:    m,
		deadline: m.current.Add(d),
		seq:      m.seq,
		f:        f,
		pending:  true,
	}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward by the given duration and runs every
// timer whose deadline has been reached, in deadline order.
// Panics if d is negative to maintain monotonicity.
func (m *MockClock) Advance(d time.Duration) {
	if d < 0 {
		panic("MockClock.Advance: duration must be non-negative")
	}

	m.mu.Lock()
	m.current = m.current.Add(d)
	var due []*mockTimer
	kept := m.timers[:0]
	for _, t := range m.timers {
		if !t.pending {
			continue
		}
		if !t.deadline.After(m.current) {
			t.pending = false
			due = append(due, t)
			continue
		}
		kept = append(kept, t)
	}
	m.timers = kept
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	// Run outside the lock so callbacks may schedule or stop timers.
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *MockClock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.pending {
			n++
		}
	}
	return n
}

func (t *mockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.pending
	t.pending = false
	return was
}
