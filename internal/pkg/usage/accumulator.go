package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/app/repository"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/batch"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
)

// TotalsSource reads lifetime accounting totals per username
type TotalsSource interface {
	LifetimeTotals(ctx context.Context, usernames []string) (map[string]int64, error)
}

// Accumulator folds accounting totals into usage records
type Accumulator struct {
	subscribers repository.SubscriberRepository
	usage       repository.UsageRepository
	totals      TotalsSource
	workers     int
	clock       clock.Clock
}

func NewAccumulator(subs repository.SubscriberRepository, usage repository.UsageRepository, totals TotalsSource, workers int, c clock.Clock) *Accumulator {
	if workers <= 0 {
		workers = 1
	}
	if c == nil {
		c = clock.Real()
	}
	return &Accumulator{subscribers: subs, usage: usage, totals: totals, workers: workers, clock: c}
}

// Run updates the usage record of every activated subscriber from one
// batched accounting read.
func (a *Accumulator) Run(ctx context.Context) (batch.Summary, error) {
	col := batch.NewCollector("accumulate", a.clock.Now())

	subs, err := a.subscribers.ListActivated(ctx)
	if err != nil {
		return col.Finish(a.clock.Now()), fmt.Errorf("list activated subscribers: %w", err)
	}
	if len(subs) == 0 {
		return col.Finish(a.clock.Now()), nil
	}

	usernames := make([]string, 0, len(subs))
	for _, s := range subs {
		usernames = append(usernames, s.Username)
	}
	totals, err := a.totals.LifetimeTotals(ctx, usernames)
	if err != nil {
		return col.Finish(a.clock.Now()), fmt.Errorf("read accounting totals: %w", err)
	}

	batch.Run(ctx, a.workers, subs, func(ctx context.Context, s models.Subscriber) {
		obs, err := a.Apply(ctx, s, totals[s.Username])
		if err != nil {
			col.Fail("user:"+s.Username, err)
			return
		}
		if obs.Anomaly {
			col.Count("anomalies", 1)
		}
		if obs.Seeded {
			col.Count("seeded", 1)
		}
		col.Succeed()
	})
	return col.Finish(a.clock.Now()), nil
}

// Apply folds one observed total into the subscriber's record, creating it
// on first sight. A lost optimistic write is retried once on fresh state.
func (a *Accumulator) Apply(ctx context.Context, sub models.Subscriber, observed int64) (Observation, error) {
	for attempt := 0; ; attempt++ {
		obs, err := a.apply(ctx, sub, observed)
		if errors.Is(err, repository.ErrConflict) && attempt == 0 {
			continue
		}
		return obs, err
	}
}

func (a *Accumulator) apply(ctx context.Context, sub models.Subscriber, observed int64) (Observation, error) {
	now := a.clock.Now()
	rec, err := a.usage.GetBySubscriberID(ctx, sub.ID)
	if repository.IsNotFound(err) {
		activated := now
		if sub.ActivatedAt != nil {
			activated = *sub.ActivatedAt
		}
		rec = models.NewUsageRecord(sub.ID, sub.Username, activated)
		Seed(rec, observed, now)
		if err := a.usage.Create(ctx, rec); err != nil {
			return Observation{}, fmt.Errorf("create usage record: %w", err)
		}
		return Observation{Seeded: true, Delta: observed}, nil
	}
	if err != nil {
		return Observation{}, fmt.Errorf("load usage record: %w", err)
	}

	obs := Observe(rec, observed, now)
	if obs.Anomaly {
		metrics.ObserveAnomaly()
		log.Warnf("[Usage] Accounting total of %s went backwards to %d; baseline rebased", sub.Username, observed)
	}
	if err := a.usage.Save(ctx, rec); err != nil {
		return Observation{}, err
	}
	return obs, nil
}
