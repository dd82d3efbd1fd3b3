package models

import "time"

// DisconnectionReason names the limit that caused a forced disconnect
type DisconnectionReason string

const (
	ReasonQuotaExceeded   DisconnectionReason = "quota_exceeded"
	ReasonDailyLimit      DisconnectionReason = "daily_limit"
	ReasonWeeklyLimit     DisconnectionReason = "weekly_limit"
	ReasonMonthlyLimit    DisconnectionReason = "monthly_limit"
	ReasonValidityExpired DisconnectionReason = "validity_expired"
)

// Disconnection records one forced disable. At most one open record
// (ReconnectedAt == nil) exists per subscriber.
type Disconnection struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	SubscriberID   uint                `gorm:"not null;index" json:"subscriber_id"`
	Username       string              `gorm:"type:varchar(64);not null" json:"username"`
	Reason         DisconnectionReason `gorm:"type:varchar(30);not null;index" json:"reason"`
	Description    string              `gorm:"type:text" json:"description"`
	UsedBytes      int64               `gorm:"not null;default:0" json:"used_bytes"`
	LimitBytes     int64               `gorm:"not null;default:0" json:"limit_bytes"`
	DisconnectedAt time.Time           `gorm:"not null;index" json:"disconnected_at"`
	ReconnectedAt  *time.Time          `gorm:"default:null" json:"reconnected_at"`
	ReconnectedBy  string              `gorm:"type:varchar(100)" json:"reconnected_by"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func (Disconnection) TableName() string {
	return "disconnections"
}

// IsOpen reports whether the subscriber is still disabled by this record
func (d *Disconnection) IsOpen() bool {
	return d.ReconnectedAt == nil
}
