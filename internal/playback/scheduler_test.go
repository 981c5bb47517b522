package playback

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-signage/backend/internal/playback/playbacktest"
)

func TestScheduler_AfterAndEvery(t *testing.T) {
	fake := playbacktest.NewClock(t, t0)
	s := NewScheduler(fake)

	var once, ticks int
	s.After(time.Second, func() { once++ })
	s.Every(2*time.Second, func() { ticks++ })
	assert.Equal(t, 2, s.Pending())

	fake.Advance(5 * time.Second)
	assert.Equal(t, 1, once)
	assert.Equal(t, 2, ticks)
	assert.Equal(t, 1, s.Pending())
}

func TestScheduler_StopCancelsAll(t *testing.T) {
	fake := playbacktest.NewClock(t, t0)
	s := NewScheduler(fake)

	var fired int
	s.After(time.Second, func() { fired++ })
	s.Every(time.Second, func() { fired++ })
	s.Stop()

	fake.Advance(time.Minute)
	assert.Zero(t, fired)
	assert.Zero(t, s.Pending())
	assert.Zero(t, fake.Pending())

	// Reusable after Stop.
	s.After(time.Second, func() { fired++ })
	fake.Advance(time.Second)
	assert.Equal(t, 1, fired)
}

func TestScheduler_StopFromInsidePeriodicCallback(t *testing.T) {
	fake := playbacktest.NewClock(t, t0)
	s := NewScheduler(fake)

	var ticks int
	s.Every(time.Second, func() {
		ticks++
		s.Stop()
	})
	fake.Advance(10 * time.Second)
	assert.Equal(t, 1, ticks)
	assert.Zero(t, fake.Pending())
}

func TestScheduler_RealClock(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	var fired atomic.Int32
	s.After(5*time.Millisecond, func() { fired.Add(1) })
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)

	s.After(20*time.Millisecond, func() { fired.Add(1) })
	s.Stop()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}
