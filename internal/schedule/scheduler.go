// Package schedule debounces analysis requests.
//
// A Scheduler belongs to one event loop. Timer callbacks never touch the
// scheduler; they hand their generation to the loop through notify, and the
// loop calls Fire. A call superseded by a newer Schedule never dispatches.
package schedule

import (
	"time"
)

// DefaultQuantum is the quiet period an edit burst must end with before
// analysis runs.
const DefaultQuantum = time.Second

// Scheduler collapses bursts of Schedule calls into one trailing dispatch
// carrying the most recent value.
type Scheduler[T any] struct {
	quantum  time.Duration
	clock    Clock
	notify   func(gen uint64)
	dispatch func(T)

	// timer state: the armed timer, its generation, and the value it will
	// dispatch.
	timer   Timer
	gen     uint64
	armed   bool
	pending T
}

// New builds a scheduler. notify runs on the timer's goroutine and must only
// forward gen to the owning loop. dispatch runs on the loop.
func New[T any](quantum time.Duration, clock Clock, notify func(gen uint64), dispatch func(T)) *Scheduler[T] {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler[T]{quantum: quantum, clock: clock, notify: notify, dispatch: dispatch}
}

// Quantum is the debounce window.
func (s *Scheduler[T]) Quantum() time.Duration { return s.quantum }

// Schedule replaces any pending call with one for v, due a full quantum from
// now.
func (s *Scheduler[T]) Schedule(v T) {
	s.stop()
	s.gen++
	gen := s.gen
	s.pending = v
	s.armed = true
	s.timer = s.clock.AfterFunc(s.quantum, func() {
		s.notify(gen)
	})
}

// Fire dispatches the pending value when gen is the current armed
// generation. It reports whether a dispatch happened.
func (s *Scheduler[T]) Fire(gen uint64) bool {
	if !s.armed || gen != s.gen {
		return false
	}
	v := s.pending
	s.clear()
	s.dispatch(v)
	return true
}

// Immediate drops any pending call and dispatches v now.
func (s *Scheduler[T]) Immediate(v T) {
	s.Cancel()
	s.dispatch(v)
}

// Cancel drops any pending call.
func (s *Scheduler[T]) Cancel() {
	s.stop()
	s.clear()
}

// Pending reports whether a debounced call is waiting.
func (s *Scheduler[T]) Pending() bool { return s.armed }

func (s *Scheduler[T]) stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler[T]) clear() {
	var zero T
	s.pending = zero
	s.armed = false
	s.timer = nil
}
