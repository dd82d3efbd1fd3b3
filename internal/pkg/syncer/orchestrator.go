// Package syncer pushes policies and subscriber state to the AAA store and
// the router. Provider failures are recorded in the retry ledger and returned
// as *SyncError values.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/app/repository"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/aaa"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/attrmap"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/batch"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/entitlements"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/metrics"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/retryledger"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/routeragent"
	"github.com/gofiber/fiber/v2/log"
)

// Origin says who triggered a sync call
type Origin string

const (
	OriginOperator    Origin = "operator"
	OriginBulk        Origin = "bulk"
	OriginEnforcement Origin = "enforcement"
	OriginRetry       Origin = "retry"
)

// Call carries the call context down the sync path. Retries replay through
// the same operations but must not write new ledger records.
type Call struct {
	Origin    Origin
	FailureID uint
}

func (c Call) recordsFailures() bool {
	return c.Origin != OriginRetry
}

// Operator returns the call context for operator-initiated work
func Operator() Call { return Call{Origin: OriginOperator} }

// Recorder persists failed pushes
type Recorder interface {
	Record(ctx context.Context, e retryledger.Entry) (*models.SyncFailure, error)
}

// Deps wires an Orchestrator
type Deps struct {
	Policies       repository.PolicyRepository
	Cohorts        repository.CohortRepository
	Subscribers    repository.SubscriberRepository
	Disconnections repository.DisconnectionRepository
	Resolver       *entitlements.Resolver
	AAA            aaa.Store
	Router         routeragent.Client
	Ledger         Recorder
	Workers        int
	Clock          clock.Clock
}

// Orchestrator implements every provider push
type Orchestrator struct {
	policies       repository.PolicyRepository
	cohorts        repository.CohortRepository
	subscribers    repository.SubscriberRepository
	disconnections repository.DisconnectionRepository
	resolver       *entitlements.Resolver
	aaa            aaa.Store
	router         routeragent.Client
	ledger         Recorder
	workers        int
	clock          clock.Clock
}

func New(d Deps) *Orchestrator {
	if d.Workers <= 0 {
		d.Workers = 1
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Resolver == nil {
		d.Resolver = entitlements.NewResolver(d.Policies, d.Cohorts)
	}
	return &Orchestrator{
		policies:       d.Policies,
		cohorts:        d.Cohorts,
		subscribers:    d.Subscribers,
		disconnections: d.Disconnections,
		resolver:       d.Resolver,
		aaa:            d.AAA,
		router:         d.Router,
		ledger:         d.Ledger,
		workers:        d.Workers,
		clock:          d.Clock,
	}
}

// ProfileResult describes a profile push
type ProfileResult struct {
	PolicyID  uint         `json:"policy_id"`
	GroupName string       `json:"group_name"`
	Changes   attrmap.Diff `json:"changes"`
}

// UserResult describes a user push
type UserResult struct {
	SubscriberID uint              `json:"subscriber_id"`
	Username     string            `json:"username"`
	GroupName    string            `json:"group_name"`
	Resolution   entitlements.Kind `json:"resolution"`
	Disabled     bool              `json:"disabled"`
	Change       aaa.UserChange    `json:"change"`
}

// AccessResult describes an access state push
type AccessResult struct {
	SubscriberID uint   `json:"subscriber_id"`
	Username     string `json:"username"`
	Disabled     bool   `json:"disabled"`
}

// BulkResult is the outcome of a multi-entity sync
type BulkResult struct {
	Attempted int             `json:"attempted"`
	Succeeded int             `json:"succeeded"`
	Failed    []batch.Failure `json:"failed"`
}

func bulkFromSummary(s batch.Summary) BulkResult {
	return BulkResult{Attempted: s.Processed, Succeeded: s.Succeeded, Failed: s.Failed}
}

func (o *Orchestrator) fail(ctx context.Context, call Call, kind models.SyncKind, et models.EntityType, id uint, key, provider string, err error) error {
	metrics.ObserveSync(string(kind), false)
	se := &SyncError{Kind: kind, Entity: key, Provider: provider, FailureID: call.FailureID, Err: err}
	if !call.recordsFailures() || o.ledger == nil {
		return se
	}
	rec, lerr := o.ledger.Record(ctx, retryledger.Entry{
		EntityType: et,
		EntityID:   id,
		EntityKey:  key,
		Kind:       kind,
		Provider:   provider,
		Err:        err,
		Transient:  !routeragent.IsPermanent(err),
	})
	if lerr != nil {
		log.Errorf("[Syncer] Could not record %s failure for %s: %v", kind, key, lerr)
		return se
	}
	se.FailureID = rec.ID
	return se
}

func (o *Orchestrator) loadPolicy(ctx context.Context, id uint) (*models.Policy, error) {
	p, err := o.policies.GetByID(ctx, id)
	if repository.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %d", ErrPolicyNotFound, id)
	}
	return p, err
}

func (o *Orchestrator) loadSubscriber(ctx context.Context, id uint) (*models.Subscriber, error) {
	s, err := o.subscribers.GetByID(ctx, id)
	if repository.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %d", ErrSubscriberNotFound, id)
	}
	return s, err
}

// SyncProfile pushes one policy as an AAA group and a router profile.
// Re-running it against unchanged providers writes nothing.
func (o *Orchestrator) SyncProfile(ctx context.Context, call Call, policyID uint) (*ProfileResult, error) {
	policy, err := o.loadPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	return o.syncProfile(ctx, call, policy)
}

func (o *Orchestrator) syncProfile(ctx context.Context, call Call, policy *models.Policy) (*ProfileResult, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	m := attrmap.Map(policy)

	diff, err := o.aaa.ReconcileGroup(ctx, m.GroupName, m.AAA)
	if err != nil {
		return nil, o.fail(ctx, call, models.SyncKindProfile, models.EntityPolicy, policy.ID, m.GroupName, models.ProviderAAA, err)
	}
	if err := o.router.UpsertProfile(ctx, m.Router); err != nil {
		return nil, o.fail(ctx, call, models.SyncKindProfile, models.EntityPolicy, policy.ID, m.GroupName, models.ProviderRouter, err)
	}

	now := o.clock.Now()
	if err := o.policies.MarkSynced(ctx, policy.ID, m.GroupName, now); err != nil {
		return nil, fmt.Errorf("mark policy %d synced: %w", policy.ID, err)
	}
	policy.GroupName = m.GroupName
	policy.LastSyncedAt = &now

	metrics.ObserveSync(string(models.SyncKindProfile), true)
	if !diff.Empty() {
		log.Infof("[Syncer] Profile %s updated (%d attribute writes)", m.GroupName, diff.Size())
	}
	return &ProfileResult{PolicyID: policy.ID, GroupName: m.GroupName, Changes: diff}, nil
}

// SyncUser resolves the effective policy and pushes membership, credential
// and hotspot user. Group attributes are never written here except for a
// policy that was never pushed before.
func (o *Orchestrator) SyncUser(ctx context.Context, call Call, subscriberID uint) (*UserResult, error) {
	sub, err := o.loadSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if !sub.Activated {
		return nil, ErrNotActivated
	}
	if !sub.HasCredential() {
		return nil, ErrMissingCredential
	}
	res, err := o.resolver.Resolve(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !res.Found() {
		return nil, ErrNoEffectivePolicy
	}
	policy := res.Policy

	if policy.LastSyncedAt == nil {
		if _, err := o.syncProfile(ctx, call, policy); err != nil {
			return nil, err
		}
	}

	open, err := o.disconnections.FindOpen(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("load disconnection state of %s: %w", sub.Username, err)
	}
	disabled := open != nil
	group := attrmap.GroupName(policy.ID, policy.Name)

	checks := attrmap.UserCheckAttributes(policy, sub.Password, !disabled)
	change, err := o.aaa.ReconcileUser(ctx, sub.Username, group, checks)
	if err != nil {
		return nil, o.fail(ctx, call, models.SyncKindUser, models.EntitySubscriber, sub.ID, sub.Username, models.ProviderAAA, err)
	}
	err = o.router.UpsertUser(ctx, routeragent.HotspotUser{
		Name:            sub.Username,
		Password:        sub.Password,
		Profile:         group,
		Disabled:        disabled,
		LimitBytesTotal: attrmap.ByteLimit(policy),
	})
	if err != nil {
		return nil, o.fail(ctx, call, models.SyncKindUser, models.EntitySubscriber, sub.ID, sub.Username, models.ProviderRouter, err)
	}

	metrics.ObserveSync(string(models.SyncKindUser), true)
	return &UserResult{
		SubscriberID: sub.ID,
		Username:     sub.Username,
		GroupName:    group,
		Resolution:   res.Kind,
		Disabled:     disabled,
		Change:       change,
	}, nil
}

// ApplyAccessState pushes the enabled or disabled state implied by the
// subscriber's disconnection log. A disabled subscriber also loses any live
// session.
func (o *Orchestrator) ApplyAccessState(ctx context.Context, call Call, subscriberID uint) (*AccessResult, error) {
	sub, err := o.loadSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if !sub.Activated {
		return nil, ErrNotActivated
	}
	open, err := o.disconnections.FindOpen(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("load disconnection state of %s: %w", sub.Username, err)
	}
	disabled := open != nil

	if err := o.aaa.SetCredentialEnabled(ctx, sub.Username, !disabled); err != nil {
		return nil, o.fail(ctx, call, models.SyncKindUserAccess, models.EntitySubscriber, sub.ID, sub.Username, models.ProviderAAA, err)
	}
	if err := o.router.SetUserDisabled(ctx, sub.Username, disabled); err != nil {
		return nil, o.fail(ctx, call, models.SyncKindUserAccess, models.EntitySubscriber, sub.ID, sub.Username, models.ProviderRouter, err)
	}
	if disabled {
		if err := o.router.DisconnectSession(ctx, sub.Username); err != nil {
			return nil, o.fail(ctx, call, models.SyncKindUserAccess, models.EntitySubscriber, sub.ID, sub.Username, models.ProviderRouter, err)
		}
	}

	metrics.ObserveSync(string(models.SyncKindUserAccess), true)
	return &AccessResult{SubscriberID: sub.ID, Username: sub.Username, Disabled: disabled}, nil
}

// RemoveUser deletes the subscriber's credentials and hotspot user and drops
// any live session.
func (o *Orchestrator) RemoveUser(ctx context.Context, call Call, subscriberID uint) error {
	sub, err := o.loadSubscriber(ctx, subscriberID)
	if err != nil {
		return err
	}
	if err := o.aaa.RemoveUser(ctx, sub.Username); err != nil {
		return o.fail(ctx, call, models.SyncKindUserRemove, models.EntitySubscriber, sub.ID, sub.Username, models.ProviderAAA, err)
	}
	if err := o.router.RemoveUser(ctx, sub.Username); err != nil {
		return o.fail(ctx, call, models.SyncKindUserRemove, models.EntitySubscriber, sub.ID, sub.Username, models.ProviderRouter, err)
	}
	if err := o.router.DisconnectSession(ctx, sub.Username); err != nil {
		return o.fail(ctx, call, models.SyncKindUserRemove, models.EntitySubscriber, sub.ID, sub.Username, models.ProviderRouter, err)
	}
	metrics.ObserveSync(string(models.SyncKindUserRemove), true)
	return nil
}

// Scope selects what SyncAll pushes
type Scope string

const (
	ScopeProfiles Scope = "profiles"
	ScopeUsers    Scope = "users"
	ScopeAll      Scope = "all"
)

// ParseScope maps an operator supplied scope, defaulting to all
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeProfiles, ScopeUsers:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown sync scope %q", s)
}

// SyncAll pushes every active policy and/or every activated subscriber.
// One entity failing never stops the others.
func (o *Orchestrator) SyncAll(ctx context.Context, call Call, scope Scope) (BulkResult, error) {
	col := batch.NewCollector("sync_all", o.clock.Now())
	if scope == ScopeAll || scope == ScopeProfiles {
		policies, err := o.policies.ListActive(ctx)
		if err != nil {
			return BulkResult{}, fmt.Errorf("list policies: %w", err)
		}
		o.syncProfiles(ctx, call, policies, col)
	}
	if scope == ScopeAll || scope == ScopeUsers {
		subs, err := o.subscribers.ListActivated(ctx)
		if err != nil {
			return BulkResult{}, fmt.Errorf("list subscribers: %w", err)
		}
		o.syncUsers(ctx, call, subs, col)
	}
	return bulkFromSummary(col.Finish(o.clock.Now())), nil
}

// SyncCohort pushes the cohort's policy and then every activated member
func (o *Orchestrator) SyncCohort(ctx context.Context, call Call, cohortID uint) (BulkResult, error) {
	cohort, err := o.cohorts.GetByID(ctx, cohortID)
	if repository.IsNotFound(err) {
		return BulkResult{}, fmt.Errorf("%w: %d", ErrCohortNotFound, cohortID)
	}
	if err != nil {
		return BulkResult{}, err
	}

	col := batch.NewCollector("sync_cohort", o.clock.Now())
	if cohort.PolicyID != nil {
		policy, err := o.loadPolicy(ctx, *cohort.PolicyID)
		if err != nil {
			col.Fail(fmt.Sprintf("policy:%d", *cohort.PolicyID), err)
		} else if policy.IsActive {
			o.syncProfiles(ctx, call, []models.Policy{*policy}, col)
		}
	}
	subs, err := o.subscribers.ListActivatedByCohort(ctx, cohortID)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list cohort members: %w", err)
	}
	o.syncUsers(ctx, call, subs, col)
	return bulkFromSummary(col.Finish(o.clock.Now())), nil
}

func (o *Orchestrator) syncProfiles(ctx context.Context, call Call, policies []models.Policy, col *batch.Collector) {
	batch.Run(ctx, o.workers, policies, func(ctx context.Context, p models.Policy) {
		if _, err := o.syncProfile(ctx, call, &p); err != nil {
			col.Fail("policy:"+attrmap.GroupName(p.ID, p.Name), err)
			return
		}
		col.Succeed()
	})
}

func (o *Orchestrator) syncUsers(ctx context.Context, call Call, subs []models.Subscriber, col *batch.Collector) {
	batch.Run(ctx, o.workers, subs, func(ctx context.Context, s models.Subscriber) {
		if _, err := o.SyncUser(ctx, call, s.ID); err != nil {
			col.Fail("user:"+s.Username, err)
			return
		}
		col.Succeed()
	})
}

// RegisterRetryHandlers binds every sync kind to its replay on l
func (o *Orchestrator) RegisterRetryHandlers(l *retryledger.Ledger) {
	l.Register(models.SyncKindProfile, func(ctx context.Context, f *models.SyncFailure) error {
		_, err := o.SyncProfile(ctx, Call{Origin: OriginRetry, FailureID: f.ID}, f.EntityID)
		return err
	})
	l.Register(models.SyncKindUser, func(ctx context.Context, f *models.SyncFailure) error {
		_, err := o.SyncUser(ctx, Call{Origin: OriginRetry, FailureID: f.ID}, f.EntityID)
		return obsoleteIfDeactivated(err)
	})
	l.Register(models.SyncKindUserAccess, func(ctx context.Context, f *models.SyncFailure) error {
		_, err := o.ApplyAccessState(ctx, Call{Origin: OriginRetry, FailureID: f.ID}, f.EntityID)
		return obsoleteIfDeactivated(err)
	})
	l.Register(models.SyncKindUserRemove, func(ctx context.Context, f *models.SyncFailure) error {
		sub, err := o.loadSubscriber(ctx, f.EntityID)
		if err != nil {
			return err
		}
		if sub.Activated {
			// reactivated since the removal failed; nothing left to remove
			return nil
		}
		return o.RemoveUser(ctx, Call{Origin: OriginRetry, FailureID: f.ID}, f.EntityID)
	})
}

// A subscriber deactivated after the failure has nothing left to push.
func obsoleteIfDeactivated(err error) error {
	if errors.Is(err, ErrNotActivated) {
		return nil
	}
	return err
}

// IsSyncError reports whether err came from a provider push
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}
