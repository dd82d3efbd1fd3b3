package scheduler

import (
	"testing"
	"time"

	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerStopWithoutStart(t *testing.T) {
	r, _ := newRunner(&stubJob{}, &stubJob{})
	m := NewManager(r, Intervals{})

	assert.False(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManagerRunsCycleOnTicker(t *testing.T) {
	acc := &stubJob{}
	enf := &stubJob{}
	r, _ := newRunner(acc, enf)
	fc := r.deps.Clock.(*clock.FakeClock)
	interval := 10 * time.Minute
	m := NewManager(r, Intervals{Cycle: interval})

	m.Start()
	m.Start()
	assert.True(t, m.IsRunning())
	require.Eventually(t, func() bool {
		fc.Advance(interval)
		return enf.Calls() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	m.Stop()
	assert.False(t, m.IsRunning())

	calls := acc.Calls()
	fc.Advance(3 * interval)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, acc.Calls(), "no runs after Stop")
}

func TestManagerWaitsForInterval(t *testing.T) {
	acc := &stubJob{}
	r, _ := newRunner(acc, &stubJob{})
	m := NewManager(r, Intervals{Cycle: time.Hour})

	m.Start()
	defer m.Stop()
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, acc.Calls())
}
