package scheduler

import (
	"sort"
	"sync"
	"time"
)

// ManualClock is a Clock that only moves when Advance is called. Callbacks
// run synchronously on the goroutine calling Advance.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock   *ManualClock
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, firing due timers in order. Timers
// scheduled by callbacks fire too if they fall within the window.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}
	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
}

// Delays returns the remaining delay of every live timer, soonest first.
func (c *ManualClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.live() {
		out = append(out, t.at.Sub(c.now))
	}
	return out
}

func (c *ManualClock) nextDue(target time.Time) *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := c.live()
	if len(live) == 0 || live[0].at.After(target) {
		return nil
	}
	t := live[0]
	t.fired = true
	if t.at.After(c.now) {
		c.now = t.at
	}
	return t
}

func (c *ManualClock) live() []*manualTimer {
	kept := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			kept = append(kept, t)
		}
	}
	c.timers = kept
	sorted := append([]*manualTimer(nil), kept...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].at.Equal(sorted[j].at) {
			return sorted[i].seq < sorted[j].seq
		}
		return sorted[i].at.Before(sorted[j].at)
	})
	return sorted
}
