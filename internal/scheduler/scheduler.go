// Package scheduler owns the timers of one room session. Every timer is
// registered under a key; closing the scheduler cancels all of them and
// refuses new ones, so a callback can never fire against a room that is no
// longer active.
package scheduler

import (
	"sync"
	"time"
)

type entry struct {
	timer Timer
	seq   uint64
}

// Scheduler is an arena of keyed timers.
type Scheduler struct {
	clock  Clock
	mu     sync.Mutex
	timers map[string]entry
	seq    uint64
	closed bool
}

// New creates an empty scheduler. A nil clock means the wall clock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{clock: clock, timers: make(map[string]entry)}
}

// Now returns the scheduler's notion of the current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// After runs fn once after d. A timer already registered under key is
// replaced. It returns false if the scheduler is closed.
func (s *Scheduler) After(key string, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if e, ok := s.timers[key]; ok {
		e.timer.Stop()
	}
	s.seq++
	seq := s.seq
	t := s.clock.AfterFunc(d, func() {
		if !s.claim(key, seq) {
			return
		}
		fn()
	})
	s.timers[key] = entry{timer: t, seq: seq}
	return true
}

// Every runs fn every d until the key is cancelled or the scheduler closes.
func (s *Scheduler) Every(key string, d time.Duration, fn func()) bool {
	var tick func()
	tick = func() {
		// re-arm first so fn may cancel the key
		s.After(key, d, tick)
		fn()
	}
	return s.After(key, d, tick)
}

// Cancel stops the timer under key. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, key)
	return true
}

// Pending reports whether a timer is registered under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// CancelAll stops every pending timer but keeps the scheduler usable.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAllLocked()
}

// Close stops every pending timer and rejects future registrations.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopAllLocked()
}

// Closed reports whether Close was called.
func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scheduler) stopAllLocked() {
	for key, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, key)
	}
}

// claim removes the entry if it is still the one that fired.
func (s *Scheduler) claim(key string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok || e.seq != seq {
		return false
	}
	delete(s.timers, key)
	return true
}
