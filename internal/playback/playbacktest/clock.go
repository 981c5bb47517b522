// Package playbacktest runs playback controllers against a clockwork fake clock.
package playbacktest

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// settleTimeout bounds how long Advance waits for fired callbacks.
const settleTimeout = 5 * time.Second

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// Clock is a clockwork fake clock whose Advance returns only after the AfterFunc callbacks
// it fired have finished. Advance stops at every timer deadline on the way, so a callback
// that schedules another one sees the same times it would see on a real clock.
type Clock struct {
	fakeClock
	tb testing.TB

	mu     sync.Mutex
	timers map[*timer]struct{}
}

// NewClock returns a Clock set to start.
func NewClock(tb testing.TB, start time.Time) *Clock {
	return &Clock{
		fakeClock: clockwork.NewFakeClockAt(start),
		tb:        tb,
		timers:    make(map[*timer]struct{}),
	}
}

type timer struct {
	clockwork.Timer
	c        *Clock
	deadline time.Time
	running  bool
}

// AfterFunc schedules f on the fake clock and tracks it until it has run or been stopped.
func (c *Clock) AfterFunc(d time.Duration, f func()) clockwork.Timer {
	t := &timer{c: c}
	c.mu.Lock()
	t.deadline = c.fakeClock.Now().Add(d)
	c.timers[t] = struct{}{}
	c.mu.Unlock()

	t.Timer = c.fakeClock.AfterFunc(d, func() {
		c.mu.Lock()
		t.running = true
		c.mu.Unlock()
		f()
		c.mu.Lock()
		delete(c.timers, t)
		c.mu.Unlock()
	})
	return t
}

func (t *timer) Stop() bool {
	stopped := t.Timer.Stop()
	if stopped {
		t.c.mu.Lock()
		delete(t.c.timers, t)
		t.c.mu.Unlock()
	}
	return stopped
}

func (t *timer) Reset(d time.Duration) bool {
	t.c.mu.Lock()
	t.deadline = t.c.fakeClock.Now().Add(d)
	t.running = false
	t.c.timers[t] = struct{}{}
	t.c.mu.Unlock()
	return t.Timer.Reset(d)
}

// Advance moves the clock forward by d, one timer deadline at a time, waiting after each
// step until every callback due so far has returned.
func (c *Clock) Advance(d time.Duration) {
	c.tb.Helper()
	target := c.Now().Add(d)
	for {
		next, ok := c.nextDeadline()
		if !ok || next.After(target) {
			break
		}
		c.fakeClock.Advance(next.Sub(c.Now()))
		c.settle()
	}
	if rest := target.Sub(c.Now()); rest > 0 {
		c.fakeClock.Advance(rest)
	}
	c.settle()
}

// Pending returns the number of callbacks that have not fired yet.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for t := range c.timers {
		if !t.running {
			n++
		}
	}
	return n
}

func (c *Clock) nextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next time.Time
	found := false
	for t := range c.timers {
		if t.running {
			continue
		}
		if !found || t.deadline.Before(next) {
			next, found = t.deadline, true
		}
	}
	return next, found
}

// settle waits until no tracked callback is due or running.
func (c *Clock) settle() {
	c.tb.Helper()
	deadline := time.Now().Add(settleTimeout)
	for {
		if c.idle() {
			return
		}
		if time.Now().After(deadline) {
			c.tb.Fatalf("playbacktest: callbacks still running after %s", settleTimeout)
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *Clock) idle() bool {
	now := c.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.timers {
		if !t.deadline.After(now) {
			return false
		}
	}
	return true
}
