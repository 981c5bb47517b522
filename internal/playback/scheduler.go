package playback

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler groups the delayed and periodic callbacks of one controller so they can be
// cancelled together. Stop cancels everything scheduled so far; a callback already past
// its timer when Stop runs is dropped before it reaches fn.
type Scheduler struct {
	clock  clockwork.Clock
	mu     sync.Mutex
	gen    uint64
	nextID uint64
	timers map[uint64]clockwork.Timer
}

// NewScheduler returns a Scheduler that uses c for time.
func NewScheduler(c clockwork.Clock) *Scheduler {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Scheduler{clock: c, timers: make(map[uint64]clockwork.Timer)}
}

// After runs fn once after d.
func (s *Scheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(s.gen, d, fn)
}

// Every runs fn every d until Stop.
func (s *Scheduler) Every(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.gen
	var tick func()
	tick = func() {
		fn()
		s.mu.Lock()
		s.scheduleLocked(gen, d, tick)
		s.mu.Unlock()
	}
	s.scheduleLocked(gen, d, tick)
}

// Stop cancels every pending callback. The Scheduler can be reused afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of callbacks waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) scheduleLocked(gen uint64, d time.Duration, fn func()) {
	if gen != s.gen {
		return
	}
	s.nextID++
	id := s.nextID
	s.timers[id] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
}
