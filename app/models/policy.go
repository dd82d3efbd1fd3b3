package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	QuotaTypeUnlimited = "unlimited"
	QuotaTypeLimited   = "limited"
)

// Policy is a network access profile: bandwidth caps, quotas, timeouts and
// concurrency limits. It is pushed to the AAA store as one group and to the
// router as one hotspot profile.
type Policy struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	Name                  string     `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=1,max=150"`
	BandwidthUpMbps       int        `gorm:"not null;default:0" json:"bandwidth_up_mbps" validate:"gte=0"`
	BandwidthDownMbps     int        `gorm:"not null;default:0" json:"bandwidth_down_mbps" validate:"gte=0"`
	QuotaType             string     `gorm:"type:varchar(20);not null;default:'unlimited'" json:"quota_type" validate:"oneof=unlimited limited"`
	QuotaBytes            int64      `gorm:"not null;default:0" json:"quota_bytes" validate:"gte=0,required_if=QuotaType limited"`
	DailyLimitBytes       *int64     `gorm:"default:null" json:"daily_limit_bytes,omitempty" validate:"omitempty,gt=0"`
	WeeklyLimitBytes      *int64     `gorm:"default:null" json:"weekly_limit_bytes,omitempty" validate:"omitempty,gt=0"`
	MonthlyLimitBytes     *int64     `gorm:"default:null" json:"monthly_limit_bytes,omitempty" validate:"omitempty,gt=0"`
	ValidityDays          int        `gorm:"not null;default:0" json:"validity_days" validate:"gte=0"`
	SessionTimeoutSeconds int        `gorm:"not null;default:0" json:"session_timeout_seconds" validate:"gte=0"`
	IdleTimeoutSeconds    int        `gorm:"not null;default:0" json:"idle_timeout_seconds" validate:"gte=0"`
	SharedUsers           int        `gorm:"not null" json:"shared_users" validate:"gte=0"`
	IsActive              bool       `gorm:"not null;index" json:"is_active"`
	GroupName             string     `gorm:"type:varchar(64);index" json:"group_name"`
	LastSyncedAt          *time.Time `gorm:"default:null" json:"last_synced_at"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Policy
func (Policy) TableName() string {
	return "policies"
}

// Validate rejects malformed policies before they reach the attribute mapper.
func (p *Policy) Validate() error {
	return validator.New().Struct(p)
}

// IsLimited reports whether the policy carries an absolute byte quota.
func (p *Policy) IsLimited() bool {
	return p.QuotaType == QuotaTypeLimited
}
