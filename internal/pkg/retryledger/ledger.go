// Package retryledger is the durable queue of pushes that failed. Records are
// retried with exponential backoff until they resolve or run out of attempts.
package retryledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/app/repository"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/batch"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
)

var (
	ErrTerminal  = errors.New("sync failure is already terminal")
	ErrNoHandler = errors.New("no retry handler registered")
)

// ResolvedByRetry marks records closed by a successful retry
const ResolvedByRetry = "retry"

// Backoff computes the delay before the next attempt
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// Delay returns min(Base * Factor^retryCount, Max)
func (b Backoff) Delay(retryCount int) time.Duration {
	d := float64(b.Base) * math.Pow(b.Factor, float64(retryCount))
	if b.Max > 0 && (d > float64(b.Max) || math.IsInf(d, 0)) {
		return b.Max
	}
	return time.Duration(d)
}

// Options tune the ledger
type Options struct {
	MaxRetries int
	Backoff    Backoff
	Retention  time.Duration
	BatchSize  int
	Workers    int
	Clock      clock.Clock
}

// Entry describes a failed push to record
type Entry struct {
	EntityType models.EntityType
	EntityID   uint
	EntityKey  string
	Kind       models.SyncKind
	Provider   string
	Err        error
	// Transient is false for explicit provider rejections
	Transient bool
}

// Handler replays one failed operation. It must not record new failures.
type Handler func(ctx context.Context, f *models.SyncFailure) error

// Ledger records, retries and expires sync failures
type Ledger struct {
	repo     repository.SyncFailureRepository
	opts     Options
	clock    clock.Clock
	handlers map[models.SyncKind]Handler
}

func New(repo repository.SyncFailureRepository, opts Options) *Ledger {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff.Base = time.Minute
	}
	if opts.Backoff.Factor < 1 {
		opts.Backoff.Factor = 2
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	return &Ledger{repo: repo, opts: opts, clock: c, handlers: make(map[models.SyncKind]Handler)}
}

// Register binds the replay function for a sync kind. Call during wiring only.
func (l *Ledger) Register(kind models.SyncKind, h Handler) {
	l.handlers[kind] = h
}

// Record stores a failure. An open record for the same entity and kind is
// refreshed instead of duplicated.
func (l *Ledger) Record(ctx context.Context, e Entry) (*models.SyncFailure, error) {
	now := l.clock.Now()
	msg := "unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}

	existing, err := l.repo.FindOpen(ctx, e.EntityType, e.EntityID, e.Kind)
	if err != nil {
		return nil, fmt.Errorf("find open sync failure: %w", err)
	}
	if existing != nil {
		if existing.Status == models.SyncFailurePending {
			existing.ErrorMessage = msg
			existing.Provider = e.Provider
			existing.Transient = e.Transient
			if err := l.repo.Transition(ctx, existing, models.SyncFailurePending); err != nil && !errors.Is(err, repository.ErrConflict) {
				return nil, fmt.Errorf("refresh sync failure %d: %w", existing.ID, err)
			}
		}
		return existing, nil
	}

	f := &models.SyncFailure{
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		EntityKey:    e.EntityKey,
		Kind:         e.Kind,
		Provider:     e.Provider,
		ErrorMessage: msg,
		Transient:    e.Transient,
		Status:       models.SyncFailurePending,
		MaxRetries:   l.opts.MaxRetries,
		NextRetryAt:  now.Add(l.opts.Backoff.Delay(0)),
	}
	if err := l.repo.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("create sync failure: %w", err)
	}
	metrics.ObserveFailureRecorded(string(e.Kind), e.Provider, f.Class())
	log.Warnf("[RetryLedger] Recorded %s %s failure for %s %s at %s: %s", f.Class(), e.Kind, e.EntityType, e.EntityKey, e.Provider, msg)
	return f, nil
}

// ProcessDue claims and replays due records. Records of the same entity run
// sequentially; different entities run in parallel.
func (l *Ledger) ProcessDue(ctx context.Context) (batch.Summary, error) {
	now := l.clock.Now()
	col := batch.NewCollector("retry", now)

	due, err := l.repo.ListDue(ctx, now, l.opts.BatchSize)
	if err != nil {
		return col.Finish(l.clock.Now()), fmt.Errorf("list due sync failures: %w", err)
	}

	groups := groupByEntity(due)
	batch.Run(ctx, l.opts.Workers, groups, func(ctx context.Context, records []models.SyncFailure) {
		for i := range records {
			l.process(ctx, &records[i], col)
		}
	})
	return col.Finish(l.clock.Now()), nil
}

func groupByEntity(list []models.SyncFailure) [][]models.SyncFailure {
	index := make(map[string]int)
	var groups [][]models.SyncFailure
	for _, f := range list {
		key := fmt.Sprintf("%s/%d", f.EntityType, f.EntityID)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], f)
	}
	return groups
}

func (l *Ledger) process(ctx context.Context, f *models.SyncFailure, col *batch.Collector) {
	entity := fmt.Sprintf("%s:%s", f.Kind, f.EntityKey)
	now := l.clock.Now()

	claimed, err := l.repo.Claim(ctx, f.ID, now)
	if err != nil {
		col.Fail(entity, fmt.Errorf("claim: %w", err))
		return
	}
	if !claimed {
		col.Count("skipped_claimed", 1)
		return
	}
	f.Status = models.SyncFailureRetrying
	f.LastAttemptAt = &now

	runErr := ErrNoHandler
	if h, ok := l.handlers[f.Kind]; ok {
		runErr = h(ctx, f)
	}

	finished := l.clock.Now()
	if runErr == nil {
		f.Status = models.SyncFailureResolved
		f.ResolvedAt = &finished
		f.ResolvedBy = ResolvedByRetry
		if err := l.repo.Transition(ctx, f, models.SyncFailureRetrying); err != nil {
			col.Fail(entity, fmt.Errorf("mark resolved: %w", err))
			return
		}
		metrics.ObserveRetry("resolved")
		log.Infof("[RetryLedger] Resolved %s for %s after %d retries", f.Kind, f.EntityKey, f.RetryCount)
		col.Succeed()
		return
	}

	f.RetryCount++
	f.ErrorMessage = runErr.Error()
	if f.RetryCount >= f.MaxRetries {
		f.Status = models.SyncFailureFailed
		metrics.ObserveRetry("failed")
		log.Errorf("[RetryLedger] Giving up on %s for %s after %d retries: %v", f.Kind, f.EntityKey, f.RetryCount, runErr)
	} else {
		f.Status = models.SyncFailurePending
		f.NextRetryAt = finished.Add(l.opts.Backoff.Delay(f.RetryCount))
		metrics.ObserveRetry("rescheduled")
		log.Warnf("[RetryLedger] Retry %d/%d of %s for %s failed: %v", f.RetryCount, f.MaxRetries, f.Kind, f.EntityKey, runErr)
	}
	if err := l.repo.Transition(ctx, f, models.SyncFailureRetrying); err != nil {
		col.Fail(entity, fmt.Errorf("reschedule: %w", err))
		return
	}
	col.Fail(entity, runErr)
}

// Ignore closes a non-terminal record on operator request
func (l *Ledger) Ignore(ctx context.Context, id uint, by string) (*models.SyncFailure, error) {
	f, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.IsTerminal() {
		return nil, ErrTerminal
	}
	from := f.Status
	now := l.clock.Now()
	f.Status = models.SyncFailureIgnored
	f.ResolvedAt = &now
	f.ResolvedBy = by
	if err := l.repo.Transition(ctx, f, from); err != nil {
		return nil, err
	}
	log.Infof("[RetryLedger] Failure %d ignored by %s", f.ID, by)
	return f, nil
}

// List returns records filtered by status, newest first
func (l *Ledger) List(ctx context.Context, status models.SyncFailureStatus, offset, limit int) ([]models.SyncFailure, error) {
	return l.repo.List(ctx, status, offset, limit)
}

// Cleanup purges resolved and failed records older than the retention window
func (l *Ledger) Cleanup(ctx context.Context) (int64, error) {
	if l.opts.Retention <= 0 {
		return 0, nil
	}
	n, err := l.repo.PurgeTerminal(ctx, l.clock.Now().Add(-l.opts.Retention))
	if err != nil {
		return 0, fmt.Errorf("purge sync failures: %w", err)
	}
	if n > 0 {
		log.Infof("[RetryLedger] Purged %d terminal sync failures", n)
	}
	return n, nil
}
