package enforcement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/app/repository"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/batch"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/entitlements"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/metrics"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/syncer"
	"github.com/gofiber/fiber/v2/log"
)

// ErrNotDisabled is returned when reactivating a subscriber without an open disconnection
var ErrNotDisabled = errors.New("subscriber is not disabled")

// AccessApplier pushes the enabled or disabled state to the providers
type AccessApplier interface {
	ApplyAccessState(ctx context.Context, call syncer.Call, subscriberID uint) (*syncer.AccessResult, error)
}

// Engine evaluates usage against policy limits
type Engine struct {
	subscribers    repository.SubscriberRepository
	usage          repository.UsageRepository
	disconnections repository.DisconnectionRepository
	resolver       *entitlements.Resolver
	access         AccessApplier
	workers        int
	clock          clock.Clock
}

// Deps wires an Engine
type Deps struct {
	Subscribers    repository.SubscriberRepository
	Usage          repository.UsageRepository
	Disconnections repository.DisconnectionRepository
	Resolver       *entitlements.Resolver
	Access         AccessApplier
	Workers        int
	Clock          clock.Clock
}

func NewEngine(d Deps) *Engine {
	if d.Workers <= 0 {
		d.Workers = 1
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	return &Engine{
		subscribers:    d.Subscribers,
		usage:          d.Usage,
		disconnections: d.Disconnections,
		resolver:       d.Resolver,
		access:         d.Access,
		workers:        d.Workers,
		clock:          d.Clock,
	}
}

// Outcome is what evaluating one subscriber did
type Outcome string

const (
	OutcomeWithinLimits    Outcome = "within_limits"
	OutcomeDisabled        Outcome = "disabled"
	OutcomeAlreadyDisabled Outcome = "already_disabled"
	OutcomeNoUsage         Outcome = "no_usage"
)

// Run evaluates every activated subscriber
func (e *Engine) Run(ctx context.Context) (batch.Summary, error) {
	col := batch.NewCollector("enforce", e.clock.Now())
	subs, err := e.subscribers.ListActivated(ctx)
	if err != nil {
		return col.Finish(e.clock.Now()), fmt.Errorf("list activated subscribers: %w", err)
	}

	batch.Run(ctx, e.workers, subs, func(ctx context.Context, s models.Subscriber) {
		outcome, err := e.Check(ctx, &s)
		if err != nil {
			col.Fail("user:"+s.Username, err)
			return
		}
		col.Count(string(outcome), 1)
		col.Succeed()
	})
	return col.Finish(e.clock.Now()), nil
}

// Check evaluates one subscriber and disables them on the first breached limit.
// A subscriber already disabled is never disabled twice.
func (e *Engine) Check(ctx context.Context, sub *models.Subscriber) (Outcome, error) {
	rec, err := e.usage.GetBySubscriberID(ctx, sub.ID)
	if repository.IsNotFound(err) {
		return OutcomeNoUsage, nil
	}
	if err != nil {
		return "", fmt.Errorf("load usage: %w", err)
	}
	if rec.Exceeded {
		return OutcomeAlreadyDisabled, nil
	}

	res, err := e.resolver.Resolve(ctx, sub)
	if err != nil {
		return "", err
	}
	if !res.Found() {
		return "", syncer.ErrNoEffectivePolicy
	}

	now := e.clock.Now()
	breach, ok := Evaluate(res.Policy, rec, now)
	if !ok {
		return OutcomeWithinLimits, nil
	}

	d := &models.Disconnection{
		SubscriberID:   sub.ID,
		Username:       sub.Username,
		Reason:         breach.Reason,
		Description:    breach.Description,
		UsedBytes:      breach.Used,
		LimitBytes:     breach.Limit,
		DisconnectedAt: now,
	}
	if err := e.disconnections.Open(ctx, d); err != nil {
		if errors.Is(err, repository.ErrAlreadyDisconnected) {
			return OutcomeAlreadyDisabled, nil
		}
		return "", fmt.Errorf("record disconnection: %w", err)
	}
	metrics.ObserveDisconnection(string(breach.Reason))
	log.Infof("[Enforcement] Disabling %s: %s", sub.Username, breach.Description)

	// The disconnection is committed; a failed push is in the retry ledger.
	if _, err := e.access.ApplyAccessState(ctx, syncer.Call{Origin: syncer.OriginEnforcement}, sub.ID); err != nil {
		return OutcomeDisabled, err
	}
	return OutcomeDisabled, nil
}

// Reactivate closes the open disconnection and re-enables the subscriber.
// Usage counters are kept; an unchanged limit will trip again next cycle.
func (e *Engine) Reactivate(ctx context.Context, subscriberID uint, by string) (*models.Disconnection, error) {
	closed, err := e.disconnections.Close(ctx, subscriberID, by, e.clock.Now())
	if errors.Is(err, repository.ErrNotDisconnected) {
		return nil, ErrNotDisabled
	}
	if err != nil {
		return nil, fmt.Errorf("close disconnection: %w", err)
	}
	log.Infof("[Enforcement] %s re-enabled by %s", closed.Username, by)

	if _, err := e.access.ApplyAccessState(ctx, syncer.Operator(), subscriberID); err != nil {
		return closed, err
	}
	return closed, nil
}
