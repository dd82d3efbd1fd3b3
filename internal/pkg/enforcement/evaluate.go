// Package enforcement disables subscribers whose usage crossed a policy limit
// and re-enables them on operator request.
package enforcement

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/dustin/go-humanize"
)

// Breach is the first limit a subscriber crossed
type Breach struct {
	Reason      models.DisconnectionReason
	Used        int64
	Limit       int64
	Description string
}

// Evaluate checks the limits of p against rec in fixed precedence: lifetime
// quota, daily, weekly, monthly, then validity. Byte limits are inclusive.
func Evaluate(p *models.Policy, rec *models.UsageRecord, now time.Time) (Breach, bool) {
	if p.IsLimited() && p.QuotaBytes > 0 && rec.UsedTotal >= p.QuotaBytes {
		return byteBreach(models.ReasonQuotaExceeded, "Data quota exhausted", rec.UsedTotal, p.QuotaBytes), true
	}
	if limit := p.DailyLimitBytes; limit != nil && *limit > 0 && rec.UsedToday >= *limit {
		return byteBreach(models.ReasonDailyLimit, "Daily data limit reached", rec.UsedToday, *limit), true
	}
	if limit := p.WeeklyLimitBytes; limit != nil && *limit > 0 && rec.UsedWeek >= *limit {
		return byteBreach(models.ReasonWeeklyLimit, "Weekly data limit reached", rec.UsedWeek, *limit), true
	}
	if limit := p.MonthlyLimitBytes; limit != nil && *limit > 0 && rec.UsedMonth >= *limit {
		return byteBreach(models.ReasonMonthlyLimit, "Monthly data limit reached", rec.UsedMonth, *limit), true
	}
	if p.ValidityDays > 0 && !rec.ActivationDate.IsZero() {
		expires := rec.ActivationDate.AddDate(0, 0, p.ValidityDays)
		if expires.Before(now) {
			return Breach{
				Reason:      models.ReasonValidityExpired,
				Used:        rec.UsedTotal,
				Description: fmt.Sprintf("Validity of %d days expired on %s", p.ValidityDays, expires.Format(time.RFC3339)),
			}, true
		}
	}
	return Breach{}, false
}

func byteBreach(reason models.DisconnectionReason, label string, used, limit int64) Breach {
	return Breach{
		Reason:      reason,
		Used:        used,
		Limit:       limit,
		Description: fmt.Sprintf("%s: used %s of %s", label, humanize.IBytes(uint64(used)), humanize.IBytes(uint64(limit))),
	}
}
