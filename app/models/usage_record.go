package models

import "time"

const (
	DayPeriod   = 24 * time.Hour
	WeekPeriod  = 7 * DayPeriod
	MonthPeriod = 30 * DayPeriod
)

// UsageRecord holds per-subscriber consumption counters. Every window keeps
// its own reset timestamp; ObservedTotal is the accounting baseline the next
// delta is computed against.
type UsageRecord struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SubscriberID    uint       `gorm:"not null;uniqueIndex" json:"subscriber_id"`
	Username        string     `gorm:"type:varchar(64);not null;index" json:"username"`
	UsedToday       int64      `gorm:"not null;default:0" json:"used_today"`
	UsedWeek        int64      `gorm:"not null;default:0" json:"used_week"`
	UsedThisWeek    int64      `gorm:"not null;default:0" json:"used_this_week"`
	UsedMonth       int64      `gorm:"not null;default:0" json:"used_month"`
	UsedTotal       int64      `gorm:"not null;default:0" json:"used_total"`
	ObservedTotal   int64      `gorm:"not null;default:0" json:"observed_total"`
	DayResetAt      time.Time  `json:"day_reset_at"`
	WeekResetAt     time.Time  `json:"week_reset_at"`
	ThisWeekResetAt time.Time  `json:"this_week_reset_at"`
	MonthResetAt    time.Time  `json:"month_reset_at"`
	ActivationDate  time.Time  `json:"activation_date"`
	LastObservedAt  *time.Time `gorm:"default:null" json:"last_observed_at"`
	Exceeded        bool       `gorm:"not null;default:false;index" json:"exceeded"`
	IsActive        bool       `gorm:"not null;index" json:"is_active"`
	AnomalyCount    int        `gorm:"not null;default:0" json:"anomaly_count"`
	LastAnomalyAt   *time.Time `gorm:"default:null" json:"last_anomaly_at"`
	Version         int        `gorm:"not null;default:0" json:"-"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}

// NewUsageRecord returns an unobserved record anchored at the activation time.
// The first accounting observation seeds it.
func NewUsageRecord(subscriberID uint, username string, activatedAt time.Time) *UsageRecord {
	return &UsageRecord{
		SubscriberID:    subscriberID,
		Username:        username,
		DayResetAt:      activatedAt,
		WeekResetAt:     activatedAt,
		ThisWeekResetAt: activatedAt,
		MonthResetAt:    activatedAt,
		ActivationDate:  activatedAt,
		IsActive:        true,
	}
}

// IsSeeded reports whether the record has seen an accounting observation.
func (u *UsageRecord) IsSeeded() bool {
	return u.LastObservedAt != nil
}
