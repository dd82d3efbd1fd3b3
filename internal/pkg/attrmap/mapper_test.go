package attrmap

import (
	"testing"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedPolicy() *models.Policy {
	return &models.Policy{
		ID:                    7,
		Name:                  "Student Standard",
		BandwidthDownMbps:     10,
		BandwidthUpMbps:       5,
		QuotaType:             models.QuotaTypeLimited,
		QuotaBytes:            5 * 1024 * 1024 * 1024,
		SessionTimeoutSeconds: 28800,
		IdleTimeoutSeconds:    900,
		SharedUsers:           2,
		IsActive:              true,
	}
}

func TestMapRateLimitIsDownloadThenUpload(t *testing.T) {
	m := Map(limitedPolicy())

	assert.Equal(t, "10M/5M", m.Router.RateLimit)
	assert.Equal(t, "p7-student-standard", m.Router.Name)
	assert.Equal(t, m.GroupName, m.Router.Name)
	assert.Equal(t, "8h", m.Router.SessionTimeout)
	assert.Equal(t, "15m", m.Router.IdleTimeout)
	assert.Equal(t, 2, m.Router.SharedUsers)
}

func TestGroupAttributesBandwidthInBps(t *testing.T) {
	set := GroupAttributes(limitedPolicy())

	down, ok := set.Get(AttrBandwidthDown)
	require.True(t, ok)
	assert.Equal(t, "10485760", down.Value)
	assert.Equal(t, SourceGroupReply, down.Source)

	up, ok := set.Get(AttrBandwidthUp)
	require.True(t, ok)
	assert.Equal(t, "5242880", up.Value)

	quota, ok := set.Get(AttrMaxTotalOctets)
	require.True(t, ok)
	assert.Equal(t, "5368709120", quota.Value)
	assert.Equal(t, SourceGroupCheck, quota.Source)

	sim, ok := set.Get(AttrSimultaneousUse)
	require.True(t, ok)
	assert.Equal(t, "2", sim.Value)
}

func TestGroupAttributesOmitsZeroAndUnlimitedQuota(t *testing.T) {
	p := &models.Policy{ID: 3, Name: "Open", QuotaType: models.QuotaTypeUnlimited, QuotaBytes: 1 << 30, BandwidthDownMbps: 20}
	set := GroupAttributes(p)

	assert.False(t, set.Has(AttrMaxTotalOctets), "unlimited policies never emit a total octet cap")
	assert.False(t, set.Has(AttrBandwidthUp))
	assert.False(t, set.Has(AttrSessionTimeout))
	assert.False(t, set.Has(AttrIdleTimeout))
	assert.True(t, set.Has(AttrBandwidthDown))

	assert.Equal(t, "20M/0", RouterProfile("p3-open", p).RateLimit)
}

func TestMapIsDeterministic(t *testing.T) {
	p := limitedPolicy()
	assert.Equal(t, Map(p), Map(p))
}

func TestUserCheckAttributes(t *testing.T) {
	p := limitedPolicy()

	enabled := UserCheckAttributes(p, "pw", true)
	assert.Equal(t, []string{AttrCleartextPassword, AttrMaxTotalOctets}, enabled.Names())

	disabled := UserCheckAttributes(p, "pw", false)
	auth, ok := disabled.Get(AttrAuthType)
	require.True(t, ok)
	assert.Equal(t, AuthTypeReject, auth.Value)

	unlimited := &models.Policy{QuotaType: models.QuotaTypeUnlimited}
	assert.Equal(t, []string{AttrCleartextPassword}, UserCheckAttributes(unlimited, "pw", true).Names())
}

func TestRateLimit(t *testing.T) {
	assert.Equal(t, "", RateLimit(0, 0))
	assert.Equal(t, "10M/5M", RateLimit(10, 5))
	assert.Equal(t, "0/2M", RateLimit(0, 2))
}
