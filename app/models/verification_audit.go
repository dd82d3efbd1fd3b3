package models

import (
	"time"

	"gorm.io/datatypes"
)

// VerificationAudit stores one drift check outcome. IDs are ULIDs so audits
// sort by creation time.
type VerificationAudit struct {
	ID           string         `gorm:"type:char(26);primaryKey" json:"id"`
	SubscriberID *uint          `gorm:"index;default:null" json:"subscriber_id"`
	Username     string         `gorm:"type:varchar(64);index" json:"username"`
	Status       string         `gorm:"type:varchar(20);not null;index" json:"status"`
	Mismatches   datatypes.JSON `json:"mismatches"`
	Detail       string         `gorm:"type:text" json:"detail"`
	CheckedAt    time.Time      `gorm:"not null;index" json:"checked_at"`
}

func (VerificationAudit) TableName() string {
	return "verification_audits"
}
