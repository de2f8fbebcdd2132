// Package schedule provides an injectable timer capability.
//
// Components that need delayed actions (rate-limit flushes, idle
// debounce) depend on the Scheduler interface rather than calling
// time.AfterFunc directly, so tests can drive time manually with
// FakeScheduler instead of sleeping.
package schedule

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled action.
type Timer interface {
	// Stop cancels the action if it has not fired yet.
	// Returns true if the call prevented the action from firing.
	Stop() bool
}

// Scheduler arms delayed actions.
// Implementations must be safe for concurrent use.
type Scheduler interface {
	// AfterFunc runs fn after d elapses and returns a cancellation handle.
	AfterFunc(d time.Duration, fn func()) Timer
}

// StdScheduler schedules actions with the runtime timer (time.AfterFunc).
type StdScheduler struct{}

// NewStdScheduler returns a Scheduler backed by time.AfterFunc.
func NewStdScheduler() StdScheduler {
	return StdScheduler{}
}

// AfterFunc implements Scheduler.
func (StdScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return stdTimer{t: time.AfterFunc(d, fn)}
}

type stdTimer struct {
	t *time.Timer
}

func (s stdTimer) Stop() bool {
	return s.t.Stop()
}

// FakeScheduler is a manually advanced Scheduler for tests.
// Actions fire synchronously from Advance in deadline order.
type FakeScheduler struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	pending map[int]*fakeTimer
}

// NewFakeScheduler creates a FakeScheduler starting at the given time.
func NewFakeScheduler(start time.Time) *FakeScheduler {
	return &FakeScheduler{
		now:     start,
		pending: make(map[int]*fakeTimer),
	}
}

// AfterFunc implements Scheduler.
func (f *FakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	t := &fakeTimer{
		sched:    f,
		id:       f.nextID,
		deadline: f.now.Add(d),
		fn:       fn,
	}
	f.pending[t.id] = t
	return t
}

// Now returns the fake scheduler's current time.
// Hand this to components that take an injected clock so scheduled
// deadlines and observed time stay consistent.
func (f *FakeScheduler) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d, firing due actions in
// deadline order. Actions scheduled while firing are honored if they
// fall within the advanced window.
func (f *FakeScheduler) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		t := f.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	f.mu.Lock()
	f.now = target
	f.mu.Unlock()
}

// Pending returns the number of timers that have not fired or been stopped.
func (f *FakeScheduler) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// nextDue pops the earliest timer with deadline <= target, advancing
// the clock to its deadline. Returns nil when nothing is due.
func (f *FakeScheduler) nextDue(target time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due *fakeTimer
	for _, t := range f.pending {
		if t.deadline.After(target) {
			continue
		}
		if due == nil || t.deadline.Before(due.deadline) {
			due = t
		}
	}
	if due == nil {
		return nil
	}
	delete(f.pending, due.id)
	if due.deadline.After(f.now) {
		f.now = due.deadline
	}
	return due
}

type fakeTimer struct {
	sched    *FakeScheduler
	id       int
	deadline time.Time
	fn       func()
}

func (t *fakeTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if _, ok := t.sched.pending[t.id]; !ok {
		return false
	}
	delete(t.sched.pending, t.id)
	return true
}
