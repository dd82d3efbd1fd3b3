// Package operator implements the administrator commands. Every command
// commits its state change first and then calls the orchestrator
// explicitly; nothing syncs as a side effect of saving a row.
package operator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/app/repository"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/enforcement"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/entitlements"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/retryledger"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/syncer"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/usage"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/verify"
	"github.com/gofiber/fiber/v2/log"
)

// ErrInvalidInput is returned for commands that make no sense in the current state
var ErrInvalidInput = errors.New("invalid input")

// Deps wires a Service
type Deps struct {
	Policies       repository.PolicyRepository
	Cohorts        repository.CohortRepository
	Subscribers    repository.SubscriberRepository
	Usage          repository.UsageRepository
	Disconnections repository.DisconnectionRepository
	Totals         usage.TotalsSource
	Resolver       *entitlements.Resolver
	Syncer         *syncer.Orchestrator
	Enforcement    *enforcement.Engine
	Ledger         *retryledger.Ledger
	Verifier       *verify.Verifier
	Clock          clock.Clock
}

// Service executes operator commands
type Service struct {
	Deps
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Resolver == nil {
		d.Resolver = entitlements.NewResolver(d.Policies, d.Cohorts)
	}
	return &Service{Deps: d}
}

// ActivateUser validates that the subscriber can be provisioned, marks them
// activated, starts a fresh usage record and pushes them to the providers.
// Validation failures leave every record untouched.
func (s *Service) ActivateUser(ctx context.Context, subscriberID uint) (*syncer.UserResult, error) {
	sub, err := s.subscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if sub.Activated {
		return nil, fmt.Errorf("%w: %s is already activated", ErrInvalidInput, sub.Username)
	}
	if !sub.HasCredential() {
		return nil, syncer.ErrMissingCredential
	}
	res, err := s.Resolver.Resolve(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !res.Found() {
		return nil, syncer.ErrNoEffectivePolicy
	}
	if err := res.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", syncer.ErrInvalidPolicy, err)
	}

	now := s.Clock.Now()
	fresh, existing, err := s.freshUsage(ctx, sub, now)
	if err != nil {
		return nil, err
	}

	sub.Activated = true
	sub.ActivatedAt = &now
	if err := s.Subscribers.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("activate %s: %w", sub.Username, err)
	}
	if existing {
		err = s.Usage.Save(ctx, fresh)
	} else {
		err = s.Usage.Create(ctx, fresh)
	}
	if err != nil {
		return nil, fmt.Errorf("reset usage record for %s: %w", sub.Username, err)
	}
	log.Infof("[Operator] Activated %s on %s policy %d", sub.Username, res.Kind, res.Policy.ID)

	return s.Syncer.SyncUser(ctx, syncer.Operator(), sub.ID)
}

// freshUsage builds the zeroed usage record for an activation. A first
// activation stays unseeded so the first accounting read seeds it. A
// re-activation replaces an earlier record; its accounting history is still
// in the AAA store, so the baseline is anchored at the current total and
// only traffic after now is counted.
func (s *Service) freshUsage(ctx context.Context, sub *models.Subscriber, now time.Time) (*models.UsageRecord, bool, error) {
	fresh := models.NewUsageRecord(sub.ID, sub.Username, now)
	rec, err := s.Usage.GetBySubscriberID(ctx, sub.ID)
	if repository.IsNotFound(err) {
		return fresh, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load usage record for %s: %w", sub.Username, err)
	}
	fresh.ID = rec.ID
	fresh.Version = rec.Version
	fresh.CreatedAt = rec.CreatedAt

	baseline := rec.ObservedTotal
	if s.Totals != nil {
		totals, err := s.Totals.LifetimeTotals(ctx, []string{sub.Username})
		if err != nil {
			return nil, false, fmt.Errorf("read accounting total of %s: %w", sub.Username, err)
		}
		baseline = totals[sub.Username]
	}
	usage.Rebase(fresh, baseline, now)
	return fresh, true, nil
}

// DeactivateUser clears the activation flag and removes every provider-side
// credential. An open disconnection is closed since there is nothing left to
// keep disabled.
func (s *Service) DeactivateUser(ctx context.Context, subscriberID uint, actor string) error {
	sub, err := s.subscriber(ctx, subscriberID)
	if err != nil {
		return err
	}
	if !sub.Activated {
		return fmt.Errorf("%w: %s is not activated", ErrInvalidInput, sub.Username)
	}

	sub.Activated = false
	if err := s.Subscribers.Update(ctx, sub); err != nil {
		return fmt.Errorf("deactivate %s: %w", sub.Username, err)
	}
	if err := s.Usage.SetActive(ctx, sub.ID, false); err != nil && !repository.IsNotFound(err) {
		return fmt.Errorf("deactivate usage of %s: %w", sub.Username, err)
	}
	_, err = s.Disconnections.Close(ctx, sub.ID, actor, s.Clock.Now())
	if err != nil && !errors.Is(err, repository.ErrNotDisconnected) {
		return fmt.Errorf("close disconnection of %s: %w", sub.Username, err)
	}
	log.Infof("[Operator] Deactivated %s by %s", sub.Username, actor)

	return s.Syncer.RemoveUser(ctx, syncer.Operator(), sub.ID)
}

// ReactivateUser lifts an enforcement disconnection. Usage counters are kept.
func (s *Service) ReactivateUser(ctx context.Context, subscriberID uint, actor string) (*models.Disconnection, error) {
	sub, err := s.subscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if !sub.Activated {
		return nil, syncer.ErrNotActivated
	}
	return s.Enforcement.Reactivate(ctx, sub.ID, actor)
}

// AssignPolicyToUser sets or clears (nil) the direct policy of a subscriber
// and pushes the new entitlement when the subscriber is activated.
func (s *Service) AssignPolicyToUser(ctx context.Context, subscriberID uint, policyID *uint) (*syncer.UserResult, error) {
	sub, err := s.subscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if policyID != nil {
		if _, err := s.assignablePolicy(ctx, *policyID); err != nil {
			return nil, err
		}
	}

	if sub.Activated {
		next := *sub
		next.PolicyID = policyID
		res, err := s.Resolver.Resolve(ctx, &next)
		if err != nil {
			return nil, err
		}
		if !res.Found() {
			return nil, syncer.ErrNoEffectivePolicy
		}
	}

	sub.PolicyID = policyID
	if err := s.Subscribers.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("assign policy to %s: %w", sub.Username, err)
	}
	if !sub.Activated {
		return nil, nil
	}
	return s.Syncer.SyncUser(ctx, syncer.Operator(), sub.ID)
}

// AssignPolicyToCohort sets or clears (nil) the cohort policy and resyncs
// the cohort. Members with a direct policy keep it.
func (s *Service) AssignPolicyToCohort(ctx context.Context, cohortID uint, policyID *uint) (syncer.BulkResult, error) {
	cohort, err := s.Cohorts.GetByID(ctx, cohortID)
	if repository.IsNotFound(err) {
		return syncer.BulkResult{}, fmt.Errorf("%w: %d", syncer.ErrCohortNotFound, cohortID)
	}
	if err != nil {
		return syncer.BulkResult{}, err
	}
	if policyID != nil {
		if _, err := s.assignablePolicy(ctx, *policyID); err != nil {
			return syncer.BulkResult{}, err
		}
	}

	cohort.PolicyID = policyID
	if err := s.Cohorts.Update(ctx, cohort); err != nil {
		return syncer.BulkResult{}, fmt.Errorf("assign policy to cohort %s: %w", cohort.Name, err)
	}
	return s.Syncer.SyncCohort(ctx, syncer.Call{Origin: syncer.OriginBulk}, cohort.ID)
}

func (s *Service) assignablePolicy(ctx context.Context, id uint) (*models.Policy, error) {
	p, err := s.Policies.GetByID(ctx, id)
	if repository.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %d", syncer.ErrPolicyNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, fmt.Errorf("%w: policy %d is inactive", ErrInvalidInput, id)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", syncer.ErrInvalidPolicy, err)
	}
	return p, nil
}

func (s *Service) ForceResyncProfile(ctx context.Context, policyID uint) (*syncer.ProfileResult, error) {
	return s.Syncer.SyncProfile(ctx, syncer.Operator(), policyID)
}

func (s *Service) ForceResyncUser(ctx context.Context, subscriberID uint) (*syncer.UserResult, error) {
	return s.Syncer.SyncUser(ctx, syncer.Operator(), subscriberID)
}

func (s *Service) ForceResyncCohort(ctx context.Context, cohortID uint) (syncer.BulkResult, error) {
	return s.Syncer.SyncCohort(ctx, syncer.Call{Origin: syncer.OriginBulk}, cohortID)
}

// ForceResyncAll pushes profiles, users or both depending on scope
func (s *Service) ForceResyncAll(ctx context.Context, scope string) (syncer.BulkResult, error) {
	sc, err := syncer.ParseScope(scope)
	if err != nil {
		return syncer.BulkResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.Syncer.SyncAll(ctx, syncer.Call{Origin: syncer.OriginBulk}, sc)
}

// IgnoreFailure closes an open sync failure without retrying it
func (s *Service) IgnoreFailure(ctx context.Context, id uint, actor string) (*models.SyncFailure, error) {
	f, err := s.Ledger.Ignore(ctx, id, actor)
	if errors.Is(err, retryledger.ErrTerminal) {
		return nil, fmt.Errorf("%w: failure %d is already closed", ErrInvalidInput, id)
	}
	return f, err
}

// ListFailures returns sync failures, optionally filtered by status
func (s *Service) ListFailures(ctx context.Context, status string, offset, limit int) ([]models.SyncFailure, error) {
	st := models.SyncFailureStatus(status)
	switch st {
	case "", models.SyncFailurePending, models.SyncFailureRetrying, models.SyncFailureResolved,
		models.SyncFailureFailed, models.SyncFailureIgnored:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.Ledger.List(ctx, st, offset, limit)
}

// ListDisconnections returns the disconnection log of a subscriber, newest first
func (s *Service) ListDisconnections(ctx context.Context, subscriberID uint) ([]models.Disconnection, error) {
	if _, err := s.subscriber(ctx, subscriberID); err != nil {
		return nil, err
	}
	return s.Disconnections.ListBySubscriber(ctx, subscriberID)
}

func (s *Service) VerifyUser(ctx context.Context, subscriberID uint) (*verify.Result, error) {
	return s.Verifier.VerifyUser(ctx, subscriberID)
}

func (s *Service) VerifyAll(ctx context.Context) (*verify.Report, error) {
	return s.Verifier.VerifyAll(ctx)
}

func (s *Service) subscriber(ctx context.Context, id uint) (*models.Subscriber, error) {
	sub, err := s.Subscribers.GetByID(ctx, id)
	if repository.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %d", syncer.ErrSubscriberNotFound, id)
	}
	return sub, err
}
