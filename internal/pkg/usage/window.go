// Package usage turns cumulative accounting totals into per-window
// consumption counters.
package usage

import (
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
)

// Window names a consumption counter
type Window string

const (
	WindowDay      Window = "day"
	WindowWeek     Window = "week"
	WindowThisWeek Window = "this_week"
	WindowMonth    Window = "month"
)

// Observation is what applying one accounting total did to a record
type Observation struct {
	Seeded  bool     `json:"seeded"`
	Delta   int64    `json:"delta"`
	Anomaly bool     `json:"anomaly"`
	Resets  []Window `json:"resets,omitempty"`
}

// Seed initializes every counter with the observed lifetime total and
// anchors all windows at now.
func Seed(rec *models.UsageRecord, observed int64, now time.Time) {
	rec.UsedToday = observed
	rec.UsedWeek = observed
	rec.UsedThisWeek = observed
	rec.UsedMonth = observed
	rec.UsedTotal = observed
	rec.ObservedTotal = observed
	rec.DayResetAt = now
	rec.WeekResetAt = now
	rec.ThisWeekResetAt = StartOfWeek(now)
	rec.MonthResetAt = now
	rec.LastObservedAt = &now
}

// Rebase anchors the accounting baseline at observed without adding
// anything to the counters. Used when a record restarts for a user whose
// accounting history predates it.
func Rebase(rec *models.UsageRecord, observed int64, now time.Time) {
	rec.ObservedTotal = observed
	rec.LastObservedAt = &now
}

// Observe applies an accounting total to rec. Elapsed windows reset first,
// then the positive delta against the stored baseline is added to every
// counter. A total lower than the baseline is recorded as an anomaly and
// becomes the new baseline without touching the counters.
func Observe(rec *models.UsageRecord, observed int64, now time.Time) Observation {
	if !rec.IsSeeded() {
		Seed(rec, observed, now)
		return Observation{Seeded: true, Delta: observed}
	}

	obs := Observation{Resets: ResetElapsed(rec, now)}
	switch delta := observed - rec.ObservedTotal; {
	case delta > 0:
		rec.UsedToday += delta
		rec.UsedWeek += delta
		rec.UsedThisWeek += delta
		rec.UsedMonth += delta
		rec.UsedTotal += delta
		obs.Delta = delta
	case delta < 0:
		rec.AnomalyCount++
		rec.LastAnomalyAt = &now
		obs.Anomaly = true
	}
	rec.ObservedTotal = observed
	rec.LastObservedAt = &now
	return obs
}

// ResetElapsed zeroes every window whose period has elapsed and advances its
// anchor by whole periods so the schedule does not drift.
func ResetElapsed(rec *models.UsageRecord, now time.Time) []Window {
	var resets []Window
	if advance(&rec.DayResetAt, models.DayPeriod, now) {
		rec.UsedToday = 0
		resets = append(resets, WindowDay)
	}
	if advance(&rec.WeekResetAt, models.WeekPeriod, now) {
		rec.UsedWeek = 0
		resets = append(resets, WindowWeek)
	}
	if start := StartOfWeek(now); start.After(rec.ThisWeekResetAt) {
		rec.UsedThisWeek = 0
		rec.ThisWeekResetAt = start
		resets = append(resets, WindowThisWeek)
	}
	if advance(&rec.MonthResetAt, models.MonthPeriod, now) {
		rec.UsedMonth = 0
		resets = append(resets, WindowMonth)
	}
	return resets
}

func advance(anchor *time.Time, period time.Duration, now time.Time) bool {
	elapsed := now.Sub(*anchor)
	if elapsed < period {
		return false
	}
	*anchor = anchor.Add(period * (elapsed / period))
	return true
}

// StartOfWeek returns Monday 00:00 of the ISO week containing t, in t's location
func StartOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, t.Location())
}
