package verify

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/attrmap"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/entitlements"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/fakes"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/routeragent"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	db       *fakes.DB
	aaa      *fakes.AAA
	router   *fakes.Router
	verifier *Verifier
	policy   *models.Policy
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{db: fakes.NewDB(), aaa: fakes.NewAAA(), router: fakes.NewRouter()}
	repos := h.db.Repositories()
	h.policy = &models.Policy{
		Name:               "Basic",
		BandwidthDownMbps:  10,
		BandwidthUpMbps:    5,
		QuotaType:          models.QuotaTypeUnlimited,
		IdleTimeoutSeconds: 28800,
		IsActive:           true,
	}
	require.NoError(t, repos.Policy.Create(context.Background(), h.policy))
	h.verifier = New(Deps{
		Subscribers: repos.Subscriber,
		Audits:      repos.Verification,
		Resolver:    entitlements.NewResolver(repos.Policy, repos.Cohort),
		AAA:         h.aaa,
		Router:      h.router,
		Workers:     2,
		Clock:       clock.Fake(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)),
	})
	return h
}

func (h *harness) subscriber(t *testing.T, name string) *models.Subscriber {
	t.Helper()
	s := &models.Subscriber{Username: name, Password: "pw", PolicyID: &h.policy.ID, Activated: true}
	require.NoError(t, h.db.Repositories().Subscriber.Create(context.Background(), s))
	h.aaa.Membership[name] = attrmap.GroupName(h.policy.ID, h.policy.Name)
	return s
}

func (h *harness) session(user, rateLimit, idle string) {
	h.router.AddSession(routeragent.Session{
		ID:   "*" + user,
		User: user,
		Fields: map[string]string{
			"profile":      attrmap.GroupName(h.policy.ID, h.policy.Name),
			"rate-limit":   rateLimit,
			"idle-timeout": idle,
			"bytes-in":     "123456",
		},
	})
}

func TestVerifyUserOK(t *testing.T) {
	h := newHarness(t)
	sub := h.subscriber(t, "alice")
	h.session("alice", "10M/5M", "7h38m20s")

	res, err := h.verifier.VerifyUser(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Empty(t, res.Mismatches)

	audits := h.db.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, "OK", audits[0].Status)
	assert.Len(t, audits[0].ID, 26)
	require.NotNil(t, audits[0].SubscriberID)
	assert.Equal(t, sub.ID, *audits[0].SubscriberID)
}

func TestVerifyUserCriticalDrift(t *testing.T) {
	h := newHarness(t)
	sub := h.subscriber(t, "alice")
	h.session("alice", "2M/1M", "8h")

	res, err := h.verifier.VerifyUser(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, attrmap.AttrRateLimit, res.Mismatches[0].Attribute)

	var stored []Mismatch
	require.NoError(t, json.Unmarshal(h.db.Audits()[0].Mismatches, &stored))
	assert.Equal(t, res.Mismatches, stored)
}

func TestVerifyUserWrongGroupIsWarning(t *testing.T) {
	h := newHarness(t)
	sub := h.subscriber(t, "alice")
	h.session("alice", "10M/5M", "8h")
	h.aaa.Membership["alice"] = "p99-legacy"

	res, err := h.verifier.VerifyUser(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, res.Status)
	assert.Equal(t, AttrAAAGroup, res.Mismatches[0].Attribute)
}

func TestVerifyLimitedUserAfterSyncIsOK(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	repos := h.db.Repositories()
	limited := &models.Policy{
		Name:                  "Capped",
		BandwidthDownMbps:     20,
		BandwidthUpMbps:       10,
		QuotaType:             models.QuotaTypeLimited,
		QuotaBytes:            5 << 30,
		SessionTimeoutSeconds: 3600,
		IsActive:              true,
	}
	require.NoError(t, repos.Policy.Create(ctx, limited))
	sub := &models.Subscriber{Username: "alice", Password: "pw", PolicyID: &limited.ID, Activated: true}
	require.NoError(t, repos.Subscriber.Create(ctx, sub))

	orch := syncer.New(syncer.Deps{
		Policies:       repos.Policy,
		Cohorts:        repos.Cohort,
		Subscribers:    repos.Subscriber,
		Disconnections: repos.Disconnection,
		AAA:            h.aaa,
		Router:         h.router,
	})
	synced, err := orch.SyncUser(ctx, syncer.Operator(), sub.ID)
	require.NoError(t, err)

	profile := h.router.Profiles[synced.GroupName]
	user, ok := h.router.User("alice")
	require.True(t, ok)
	assert.Equal(t, int64(5<<30), user.LimitBytesTotal)
	h.router.AddSession(routeragent.Session{
		ID:   "*alice",
		User: "alice",
		Fields: map[string]string{
			"profile":           user.Profile,
			"rate-limit":        profile.RateLimit,
			"session-timeout":   profile.SessionTimeout,
			"limit-bytes-total": strconv.FormatInt(user.LimitBytesTotal, 10),
		},
	})

	res, err := h.verifier.VerifyUser(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status, "mismatches: %+v", res.Mismatches)
	assert.Empty(t, res.Mismatches)
}

func TestVerifyLimitedUserMissingCapIsError(t *testing.T) {
	h := newHarness(t)
	h.policy.QuotaType = models.QuotaTypeLimited
	h.policy.QuotaBytes = 1 << 30
	require.NoError(t, h.db.Repositories().Policy.Update(context.Background(), h.policy))
	sub := h.subscriber(t, "alice")
	h.session("alice", "10M/5M", "8h")

	res, err := h.verifier.VerifyUser(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, attrmap.AttrMaxTotalOctets, res.Mismatches[0].Attribute)
	assert.Equal(t, "1073741824", res.Mismatches[0].Expected)
}

func TestVerifyUserNotConnected(t *testing.T) {
	h := newHarness(t)
	sub := h.subscriber(t, "alice")

	res, err := h.verifier.VerifyUser(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotConnected, res.Status)
}

func TestVerifyUserProviderError(t *testing.T) {
	h := newHarness(t)
	sub := h.subscriber(t, "alice")
	h.router.Fail("GetSession", errors.New("connection refused"))

	res, err := h.verifier.VerifyUser(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProviderError, res.Status)
	assert.Contains(t, res.Detail, "connection refused")
}

func TestVerifyUserUnknownSubscriber(t *testing.T) {
	h := newHarness(t)
	_, err := h.verifier.VerifyUser(context.Background(), 404)
	assert.ErrorIs(t, err, syncer.ErrSubscriberNotFound)
}

func TestVerifyAll(t *testing.T) {
	h := newHarness(t)
	h.subscriber(t, "alice")
	h.subscriber(t, "bob")
	h.subscriber(t, "carol")
	h.session("alice", "10M/5M", "8h")
	h.session("bob", "10M/5M", "6h")
	h.session("mallory", "10M/5M", "8h")

	report, err := h.verifier.VerifyAll(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, "alice", report.Results[0].Username)
	assert.Equal(t, StatusOK, report.Results[0].Status)
	assert.Equal(t, StatusWarning, report.Results[1].Status)
	assert.Equal(t, map[Status]int{StatusOK: 1, StatusWarning: 1}, report.Histogram)
	require.Len(t, report.Unknown, 1)
	assert.Equal(t, "mallory", report.Unknown[0].User)
	assert.Equal(t, 1, h.router.CallCount("ListSessions"))
	assert.Zero(t, h.router.CallCount("GetSession"))

	s := report.Summary(report.CheckedAt)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Counts["unknown_sessions"])
}

func TestVerifyAllRouterDown(t *testing.T) {
	h := newHarness(t)
	h.router.Fail("ListSessions", errors.New("timeout"))

	_, err := h.verifier.VerifyAll(context.Background())
	assert.ErrorIs(t, err, ErrRouterUnavailable)
}

func TestVerifyNeverWrites(t *testing.T) {
	h := newHarness(t)
	sub := h.subscriber(t, "alice")
	h.session("alice", "1M/1M", "1h")

	_, err := h.verifier.VerifyUser(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Zero(t, h.router.CallCount("UpsertProfile"))
	assert.Zero(t, h.router.CallCount("UpsertUser"))
	assert.Zero(t, h.router.CallCount("SetUserDisabled"))
	assert.Zero(t, h.aaa.CallCount("ReconcileGroup"))
	assert.Zero(t, h.aaa.CallCount("ReconcileUser"))
}
