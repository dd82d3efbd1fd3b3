package attrmap

import (
	"fmt"
	"strconv"

	"github.com/ManuelReschke/HotspotSync/app/models"
)

// BitsPerMbps converts policy megabits to the bps the AAA attributes carry
const BitsPerMbps = 1 << 20

// HotspotProfile is the router-side rendering of a policy
type HotspotProfile struct {
	Name           string `json:"name"`
	RateLimit      string `json:"rate-limit,omitempty"`
	SessionTimeout string `json:"session-timeout,omitempty"`
	IdleTimeout    string `json:"idle-timeout,omitempty"`
	SharedUsers    int    `json:"shared-users,omitempty"`
}

// Mapping is everything one policy becomes on both providers
type Mapping struct {
	GroupName string
	AAA       AttributeSet
	Router    HotspotProfile
}

// Map renders a policy for both providers. It is pure: the same policy always
// yields the same mapping.
func Map(p *models.Policy) Mapping {
	group := GroupName(p.ID, p.Name)
	return Mapping{
		GroupName: group,
		AAA:       GroupAttributes(p),
		Router:    RouterProfile(group, p),
	}
}

// GroupAttributes returns the AAA group reply and group check attributes.
// Zero-valued settings are omitted rather than emitted as zero.
func GroupAttributes(p *models.Policy) AttributeSet {
	set := AttributeSet{}
	if p.BandwidthDownMbps > 0 {
		set = append(set, reply(AttrBandwidthDown, strconv.FormatInt(int64(p.BandwidthDownMbps)*BitsPerMbps, 10)))
	}
	if p.BandwidthUpMbps > 0 {
		set = append(set, reply(AttrBandwidthUp, strconv.FormatInt(int64(p.BandwidthUpMbps)*BitsPerMbps, 10)))
	}
	if p.SessionTimeoutSeconds > 0 {
		set = append(set, reply(AttrSessionTimeout, strconv.Itoa(p.SessionTimeoutSeconds)))
	}
	if p.IdleTimeoutSeconds > 0 {
		set = append(set, reply(AttrIdleTimeout, strconv.Itoa(p.IdleTimeoutSeconds)))
	}
	if p.SharedUsers > 0 {
		set = append(set, check(SourceGroupCheck, AttrSimultaneousUse, strconv.Itoa(p.SharedUsers)))
	}
	if p.IsLimited() && p.QuotaBytes > 0 {
		set = append(set, check(SourceGroupCheck, AttrMaxTotalOctets, strconv.FormatInt(p.QuotaBytes, 10)))
	}
	return set
}

// UserCheckAttributes returns the per-user check rows the engine owns:
// the credential, the quota cap for limited policies and a Reject marker
// while the subscriber is disabled.
func UserCheckAttributes(p *models.Policy, password string, enabled bool) AttributeSet {
	set := AttributeSet{check(SourceUserCheck, AttrCleartextPassword, password)}
	if p.IsLimited() && p.QuotaBytes > 0 {
		set = append(set, check(SourceUserCheck, AttrMaxTotalOctets, strconv.FormatInt(p.QuotaBytes, 10)))
	}
	if !enabled {
		set = append(set, check(SourceUserCheck, AttrAuthType, AuthTypeReject))
	}
	return set
}

// ManagedUserCheckNames lists the user check attributes reconciliation may touch.
var ManagedUserCheckNames = []string{AttrCleartextPassword, AttrMaxTotalOctets, AttrAuthType}

// RouterProfile renders the hotspot profile pushed to the router.
func RouterProfile(group string, p *models.Policy) HotspotProfile {
	return HotspotProfile{
		Name:           group,
		RateLimit:      RateLimit(p.BandwidthDownMbps, p.BandwidthUpMbps),
		SessionTimeout: FormatDuration(int64(p.SessionTimeoutSeconds)),
		IdleTimeout:    FormatDuration(int64(p.IdleTimeoutSeconds)),
		SharedUsers:    p.SharedUsers,
	}
}

// RateLimit renders the router rate-limit string, download first.
// A zero side renders as "0" which the router reads as unlimited.
func RateLimit(downMbps, upMbps int) string {
	if downMbps <= 0 && upMbps <= 0 {
		return ""
	}
	return mbps(downMbps) + "/" + mbps(upMbps)
}

// SessionAttributes is the attribute set a live session of a subscriber on
// policy p should carry, in engine vocabulary.
func SessionAttributes(group string, p *models.Policy) AttributeSet {
	set := AttributeSet{{Name: AttrHotspotProfile, Op: OpReply, Value: group, Source: SourceRouter}}
	if rl := RateLimit(p.BandwidthDownMbps, p.BandwidthUpMbps); rl != "" {
		set = append(set, Attribute{Name: AttrRateLimit, Op: OpReply, Value: rl, Source: SourceRouter})
	}
	if p.SessionTimeoutSeconds > 0 {
		set = append(set, Attribute{Name: AttrSessionTimeout, Op: OpReply, Value: strconv.Itoa(p.SessionTimeoutSeconds), Source: SourceRouter})
	}
	if p.IdleTimeoutSeconds > 0 {
		set = append(set, Attribute{Name: AttrIdleTimeout, Op: OpReply, Value: strconv.Itoa(p.IdleTimeoutSeconds), Source: SourceRouter})
	}
	if limit := ByteLimit(p); limit > 0 {
		set = append(set, Attribute{Name: AttrMaxTotalOctets, Op: OpReply, Value: strconv.FormatInt(limit, 10), Source: SourceRouter})
	}
	return set
}

// ByteLimit is the total byte cap the router enforces for a subscriber on
// policy p. Zero means no cap.
func ByteLimit(p *models.Policy) int64 {
	if p.IsLimited() && p.QuotaBytes > 0 {
		return p.QuotaBytes
	}
	return 0
}

func mbps(v int) string {
	if v <= 0 {
		return "0"
	}
	return fmt.Sprintf("%dM", v)
}

func reply(name, value string) Attribute {
	return Attribute{Name: name, Op: OpReply, Value: value, Source: SourceGroupReply}
}

func check(src Source, name, value string) Attribute {
	return Attribute{Name: name, Op: OpSet, Value: value, Source: src}
}
