package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/config"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/fakes"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/routeragent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		WorkerCount: 2,
		Retry: config.Retry{
			MaxRetries:    3,
			BackoffBase:   time.Minute,
			BackoffFactor: 2,
			BackoffMax:    time.Hour,
			Retention:     7 * 24 * time.Hour,
			BatchSize:     50,
		},
	}
}

// A full day in the life of one subscriber: activation, usage growth,
// a daily cap breach, a failed router push that the retry job repairs and
// the next day's reset.
func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	db := fakes.NewDB()
	store := fakes.NewAAA()
	router := fakes.NewRouter()
	clk := clock.Fake(time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC))
	e := New(testConfig(), db.Repositories(), store, router, clk)

	limit := int64(1 << 30)
	p := &models.Policy{Name: "Day pass", BandwidthDownMbps: 20, BandwidthUpMbps: 5, QuotaType: models.QuotaTypeUnlimited, DailyLimitBytes: &limit, IsActive: true}
	require.NoError(t, db.Repositories().Policy.Create(ctx, p))
	sub := &models.Subscriber{Username: "guest-7", Password: "pw", PolicyID: &p.ID}
	require.NoError(t, db.Repositories().Subscriber.Create(ctx, sub))

	_, err := e.Operator.ActivateUser(ctx, sub.ID)
	require.NoError(t, err)

	store.SetTotal("guest-7", 100)
	s, err := e.Runner.UsageCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Counts["accumulate.seeded"])

	router.Fail("SetUserDisabled", errors.New("router busy"))
	clk.Advance(time.Hour)
	store.SetTotal("guest-7", 100+limit)
	s, err = e.Runner.UsageCycle(ctx)
	require.NoError(t, err)
	assert.Len(t, s.Failed, 1)
	require.Len(t, db.Disconnections(), 1)
	assert.Equal(t, models.ReasonDailyLimit, db.Disconnections()[0].Reason)

	router.Fail("SetUserDisabled", nil)
	clk.Advance(2 * time.Minute)
	s, err = e.Runner.RetryDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Succeeded)
	u, _ := router.User("guest-7")
	assert.True(t, u.Disabled)
	assert.Equal(t, models.SyncFailureResolved, db.Failures()[0].Status)

	router.AddSession(routeragent.Session{ID: "*1", User: "stranger"})
	s, err = e.Runner.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Counts["unknown_sessions"])

	_, err = e.Operator.ReactivateUser(ctx, sub.ID, "desk")
	require.NoError(t, err)
	u, _ = router.User("guest-7")
	assert.False(t, u.Disabled)
}
