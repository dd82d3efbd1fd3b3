package operator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/attrmap"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/enforcement"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/entitlements"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/fakes"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/retryledger"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/syncer"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/usage"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	db     *fakes.DB
	aaa    *fakes.AAA
	router *fakes.Router
	clock  *clock.FakeClock
	svc    *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{db: fakes.NewDB(), aaa: fakes.NewAAA(), router: fakes.NewRouter(), clock: clock.Fake(start)}
	repos := h.db.Repositories()
	resolver := entitlements.NewResolver(repos.Policy, repos.Cohort)
	ledger := retryledger.New(repos.SyncFailure, retryledger.Options{Clock: h.clock})
	orch := syncer.New(syncer.Deps{
		Policies: repos.Policy, Cohorts: repos.Cohort, Subscribers: repos.Subscriber,
		Disconnections: repos.Disconnection, Resolver: resolver,
		AAA: h.aaa, Router: h.router, Ledger: ledger, Clock: h.clock,
	})
	orch.RegisterRetryHandlers(ledger)
	h.svc = NewService(Deps{
		Policies:       repos.Policy,
		Cohorts:        repos.Cohort,
		Subscribers:    repos.Subscriber,
		Usage:          repos.Usage,
		Disconnections: repos.Disconnection,
		Totals:         h.aaa,
		Resolver:       resolver,
		Syncer:         orch,
		Enforcement: enforcement.NewEngine(enforcement.Deps{
			Subscribers: repos.Subscriber, Usage: repos.Usage, Disconnections: repos.Disconnection,
			Resolver: resolver, Access: orch, Clock: h.clock,
		}),
		Ledger: ledger,
		Verifier: verify.New(verify.Deps{
			Subscribers: repos.Subscriber, Audits: repos.Verification, Resolver: resolver,
			AAA: h.aaa, Router: h.router, Clock: h.clock,
		}),
		Clock: h.clock,
	})
	return h
}

func (h *harness) policy(t *testing.T, name string) *models.Policy {
	t.Helper()
	p := &models.Policy{Name: name, BandwidthDownMbps: 10, BandwidthUpMbps: 5, QuotaType: models.QuotaTypeUnlimited, IsActive: true}
	require.NoError(t, h.db.Repositories().Policy.Create(context.Background(), p))
	return p
}

func (h *harness) subscriber(t *testing.T, name, password string, policyID *uint) *models.Subscriber {
	t.Helper()
	s := &models.Subscriber{Username: name, Password: password, PolicyID: policyID}
	require.NoError(t, h.db.Repositories().Subscriber.Create(context.Background(), s))
	return s
}

func TestActivateUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.policy(t, "Basic")
	sub := h.subscriber(t, "alice", "secret", &p.ID)

	res, err := h.svc.ActivateUser(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, attrmap.GroupName(p.ID, p.Name), res.GroupName)

	stored, _ := h.db.Repositories().Subscriber.GetByID(ctx, sub.ID)
	assert.True(t, stored.Activated)
	require.NotNil(t, stored.ActivatedAt)
	assert.True(t, start.Equal(*stored.ActivatedAt))

	rec, err := h.db.Repositories().Usage.GetBySubscriberID(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, start.Equal(rec.ActivationDate))
	assert.Zero(t, rec.UsedTotal)

	u, ok := h.router.User("alice")
	require.True(t, ok)
	assert.Equal(t, "secret", u.Password)
	assert.Equal(t, res.GroupName, h.aaa.Membership["alice"])
}

func TestActivateUserRejectsWithoutMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.policy(t, "Basic")

	t.Run("no effective policy", func(t *testing.T) {
		sub := h.subscriber(t, "nopolicy", "secret", nil)
		_, err := h.svc.ActivateUser(ctx, sub.ID)
		assert.ErrorIs(t, err, syncer.ErrNoEffectivePolicy)
		stored, _ := h.db.Repositories().Subscriber.GetByID(ctx, sub.ID)
		assert.False(t, stored.Activated)
		_, err = h.db.Repositories().Usage.GetBySubscriberID(ctx, sub.ID)
		assert.Error(t, err)
	})

	t.Run("missing credential", func(t *testing.T) {
		sub := h.subscriber(t, "nopass", " ", &p.ID)
		_, err := h.svc.ActivateUser(ctx, sub.ID)
		assert.ErrorIs(t, err, syncer.ErrMissingCredential)
		stored, _ := h.db.Repositories().Subscriber.GetByID(ctx, sub.ID)
		assert.False(t, stored.Activated)
	})

	assert.Zero(t, h.router.CallCount("UpsertUser"))
	assert.Zero(t, h.aaa.CallCount("ReconcileUser"))
}

func TestActivateUserTwice(t *testing.T) {
	h := newHarness(t)
	p := h.policy(t, "Basic")
	sub := h.subscriber(t, "alice", "secret", &p.ID)
	_, err := h.svc.ActivateUser(context.Background(), sub.ID)
	require.NoError(t, err)

	_, err = h.svc.ActivateUser(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestActivateUserProviderFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.policy(t, "Basic")
	sub := h.subscriber(t, "alice", "secret", &p.ID)
	h.router.Fail("UpsertUser", errors.New("router offline"))

	_, err := h.svc.ActivateUser(ctx, sub.ID)
	require.Error(t, err)
	assert.True(t, syncer.IsSyncError(err))

	stored, _ := h.db.Repositories().Subscriber.GetByID(ctx, sub.ID)
	assert.True(t, stored.Activated)
	failures := h.db.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, models.SyncKindUser, failures[0].Kind)
}

func TestDeactivateRemovesCredentials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.policy(t, "Basic")
	sub := h.subscriber(t, "alice", "secret", &p.ID)
	_, err := h.svc.ActivateUser(ctx, sub.ID)
	require.NoError(t, err)

	require.NoError(t, h.svc.DeactivateUser(ctx, sub.ID, "admin"))

	_, ok := h.router.User("alice")
	assert.False(t, ok)
	assert.Empty(t, h.aaa.Checks("alice"))
	assert.Empty(t, h.aaa.Membership["alice"])
	rec, _ := h.db.Repositories().Usage.GetBySubscriberID(ctx, sub.ID)
	assert.False(t, rec.IsActive)

	assert.ErrorIs(t, h.svc.DeactivateUser(ctx, sub.ID, "admin"), ErrInvalidInput)
}

func TestActivateAgainIgnoresEarlierAccounting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	repos := h.db.Repositories()
	daily := int64(1 << 30)
	p := &models.Policy{Name: "Daily", BandwidthDownMbps: 10, BandwidthUpMbps: 5, QuotaType: models.QuotaTypeUnlimited, DailyLimitBytes: &daily, IsActive: true}
	require.NoError(t, repos.Policy.Create(ctx, p))
	sub := h.subscriber(t, "alice", "secret", &p.ID)
	acc := usage.NewAccumulator(repos.Subscriber, repos.Usage, h.aaa, 1, h.clock)
	enf := enforcement.NewEngine(enforcement.Deps{
		Subscribers: repos.Subscriber, Usage: repos.Usage, Disconnections: repos.Disconnection,
		Resolver: entitlements.NewResolver(repos.Policy, repos.Cohort), Access: h.svc.Syncer, Clock: h.clock,
	})

	_, err := h.svc.ActivateUser(ctx, sub.ID)
	require.NoError(t, err)
	h.aaa.SetTotal("alice", 5<<30)
	require.NoError(t, h.svc.DeactivateUser(ctx, sub.ID, "admin"))

	h.clock.Advance(time.Hour)
	_, err = h.svc.ActivateUser(ctx, sub.ID)
	require.NoError(t, err)

	rec, err := repos.Usage.GetBySubscriberID(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, rec.IsSeeded())
	assert.Equal(t, int64(5<<30), rec.ObservedTotal)
	assert.Zero(t, rec.UsedToday)

	_, err = acc.Run(ctx)
	require.NoError(t, err)
	rec, _ = repos.Usage.GetBySubscriberID(ctx, sub.ID)
	assert.Zero(t, rec.UsedToday)
	assert.Zero(t, rec.UsedTotal)

	stored, _ := repos.Subscriber.GetByID(ctx, sub.ID)
	outcome, err := enf.Check(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, enforcement.OutcomeWithinLimits, outcome)

	h.aaa.SetTotal("alice", 5<<30+1<<20)
	_, err = acc.Run(ctx)
	require.NoError(t, err)
	rec, _ = repos.Usage.GetBySubscriberID(ctx, sub.ID)
	assert.Equal(t, int64(1<<20), rec.UsedToday)
	assert.Equal(t, int64(1<<20), rec.UsedTotal)
}

func TestReactivateUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.policy(t, "Basic")
	sub := h.subscriber(t, "alice", "secret", &p.ID)
	_, err := h.svc.ActivateUser(ctx, sub.ID)
	require.NoError(t, err)

	_, err = h.svc.ReactivateUser(ctx, sub.ID, "admin")
	assert.ErrorIs(t, err, enforcement.ErrNotDisabled)

	require.NoError(t, h.db.Repositories().Disconnection.Open(ctx, &models.Disconnection{
		SubscriberID: sub.ID, Username: "alice", Reason: models.ReasonDailyLimit, DisconnectedAt: start,
	}))
	d, err := h.svc.ReactivateUser(ctx, sub.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", d.ReconnectedBy)
}

func TestAssignPolicyToUserOverridesCohort(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cohortPolicy := h.policy(t, "Cohort")
	direct := h.policy(t, "Premium")
	c := &models.Cohort{Name: "2026", PolicyID: &cohortPolicy.ID, IsActive: true}
	require.NoError(t, h.db.Repositories().Cohort.Create(ctx, c))
	sub := &models.Subscriber{Username: "alice", Password: "secret", CohortID: &c.ID}
	require.NoError(t, h.db.Repositories().Subscriber.Create(ctx, sub))
	_, err := h.svc.ActivateUser(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, attrmap.GroupName(cohortPolicy.ID, cohortPolicy.Name), h.aaa.Membership["alice"])

	res, err := h.svc.AssignPolicyToUser(ctx, sub.ID, &direct.ID)
	require.NoError(t, err)
	assert.Equal(t, attrmap.GroupName(direct.ID, direct.Name), res.GroupName)
	assert.Equal(t, res.GroupName, h.aaa.Membership["alice"])

	res, err = h.svc.AssignPolicyToUser(ctx, sub.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, attrmap.GroupName(cohortPolicy.ID, cohortPolicy.Name), res.GroupName)
}

func TestAssignPolicyRejectsUnknownOrInactive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.policy(t, "Basic")
	sub := h.subscriber(t, "alice", "secret", &p.ID)

	missing := uint(999)
	_, err := h.svc.AssignPolicyToUser(ctx, sub.ID, &missing)
	assert.ErrorIs(t, err, syncer.ErrPolicyNotFound)

	p.IsActive = false
	require.NoError(t, h.db.Repositories().Policy.Update(ctx, p))
	_, err = h.svc.AssignPolicyToUser(ctx, sub.ID, &p.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAssignPolicyToCohort(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.policy(t, "Cohort")
	c := &models.Cohort{Name: "2026", IsActive: true}
	require.NoError(t, h.db.Repositories().Cohort.Create(ctx, c))
	for _, name := range []string{"alice", "bob"} {
		s := &models.Subscriber{Username: name, Password: "pw", CohortID: &c.ID, Activated: true}
		require.NoError(t, h.db.Repositories().Subscriber.Create(ctx, s))
	}

	res, err := h.svc.AssignPolicyToCohort(ctx, c.ID, &p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, attrmap.GroupName(p.ID, p.Name), h.aaa.Membership["bob"])
}

func TestIgnoreAndListFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.policy(t, "Basic")
	h.router.Fail("UpsertProfile", errors.New("router offline"))
	_, err := h.svc.ForceResyncProfile(ctx, p.ID)
	require.Error(t, err)

	list, err := h.svc.ListFailures(ctx, "pending", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	f, err := h.svc.IgnoreFailure(ctx, list[0].ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailureIgnored, f.Status)

	_, err = h.svc.IgnoreFailure(ctx, list[0].ID, "admin")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.ListFailures(ctx, "bogus", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestForceResyncAllRejectsUnknownScope(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ForceResyncAll(context.Background(), "everything")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
