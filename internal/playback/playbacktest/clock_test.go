package playbacktest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type log struct {
	mu  sync.Mutex
	got []string
}

func (l *log) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, s)
}

func (l *log) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

func TestClock_AdvanceRunsDueCallbacksInOrder(t *testing.T) {
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	c := NewClock(t, start)

	var l log
	c.AfterFunc(2*time.Second, func() { l.add("b") })
	c.AfterFunc(time.Second, func() { l.add("a") })
	c.AfterFunc(5*time.Second, func() { l.add("late") })

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, l.list())
	assert.Equal(t, start.Add(2*time.Second), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestClock_ChainedCallbacksSeeTheirDeadline(t *testing.T) {
	epoch := time.Unix(0, 0)
	c := NewClock(t, epoch)

	var mu sync.Mutex
	var at []time.Duration
	var tick func()
	tick = func() {
		mu.Lock()
		at = append(at, c.Now().Sub(epoch))
		mu.Unlock()
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3500 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, at)
	assert.Equal(t, 1, c.Pending())
}

func TestClock_Stop(t *testing.T) {
	c := NewClock(t, time.Unix(0, 0))
	var l log
	timer := c.AfterFunc(time.Second, func() { l.add("fired") })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(time.Minute)
	assert.Empty(t, l.list())
	assert.Zero(t, c.Pending())
}
