// Package scheduler provides the one-shot, cancellable timers the node
// package arms for election and replication ticks, and for addNode
// catch-up round deadlines.
// It is an explicit collaborator, not inline time.AfterFunc calls, so the
// decision engine can be driven by a deterministic fake in tests.
package scheduler

import (
	"sync"
	"time"
)

// Handle is a cancellable timer handle. Cancel is idempotent and safe to
// call even after the timer has already fired.
type Handle interface {
	Cancel()
}

// Scheduler arms one-shot timers that invoke fn after d elapses. Timers
// are never automatically re-armed; the caller (the node's serial
// executor) explicitly re-arms on every role transition and every tick.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Handle
}

type realScheduler struct{}

// NewRealScheduler returns a Scheduler backed by time.AfterFunc.
func NewRealScheduler() Scheduler {
	return realScheduler{}
}

type realHandle struct {
	timer *time.Timer
}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Handle {
	return &realHandle{timer: time.AfterFunc(d, fn)}
}

func (h *realHandle) Cancel() {
	h.timer.Stop()
}

// FakeScheduler is a deterministic Scheduler for tests: it never fires on
// its own. The test fires the most recently armed timer by calling
// FireLatest, driving election and replication timeouts synchronously.
type FakeScheduler struct {
	mu      sync.Mutex
	pending []*fakeHandle
}

// NewFakeScheduler returns a Scheduler under direct test control.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{}
}

type fakeHandle struct {
	sched     *FakeScheduler
	fn        func()
	cancelled bool
	fired     bool
}

func (s *FakeScheduler) AfterFunc(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &fakeHandle{sched: s, fn: fn}
	s.pending = append(s.pending, h)
	return h
}

func (h *fakeHandle) Cancel() {
	h.sched.mu.Lock()
	defer h.sched.mu.Unlock()
	h.cancelled = true
}

// FireLatest invokes the most recently armed, still-live timer's callback
// synchronously and returns true if one was found.
func (s *FakeScheduler) FireLatest() bool {
	s.mu.Lock()
	var target *fakeHandle
	for i := len(s.pending) - 1; i >= 0; i-- {
		h := s.pending[i]
		if !h.cancelled && !h.fired {
			target = h
			break
		}
	}
	if target != nil {
		target.fired = true
	}
	s.mu.Unlock()

	if target == nil {
		return false
	}
	target.fn()
	return true
}

// Pending returns the number of armed timers that are neither cancelled
// nor fired yet.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.pending {
		if !h.cancelled && !h.fired {
			n++
		}
	}
	return n
}
