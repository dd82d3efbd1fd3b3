// Package clock lets time-dependent components run against a controllable
// time source in tests.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source every engine component reads
type Clock = clockwork.Clock

// FakeClock is a manually driven Clock
type FakeClock = clockwork.FakeClock

// Real returns the wall clock
func Real() Clock { return clockwork.NewRealClock() }

// Fake returns a clock frozen at initial. It only moves on Advance.
func Fake(initial time.Time) *FakeClock {
	return clockwork.NewFakeClockAt(initial)
}
