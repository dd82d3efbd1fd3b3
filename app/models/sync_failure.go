package models

import "time"

// SyncFailureStatus defines the lifecycle states of a failed push
type SyncFailureStatus string

const (
	SyncFailurePending  SyncFailureStatus = "pending"
	SyncFailureRetrying SyncFailureStatus = "retrying"
	SyncFailureResolved SyncFailureStatus = "resolved"
	SyncFailureFailed   SyncFailureStatus = "failed"
	SyncFailureIgnored  SyncFailureStatus = "ignored"
)

// OpenSyncFailureStatuses are the non-terminal states.
var OpenSyncFailureStatuses = []SyncFailureStatus{SyncFailurePending, SyncFailureRetrying}

// SyncKind names the operation a failure record replays
type SyncKind string

const (
	SyncKindProfile    SyncKind = "profile"
	SyncKindUser       SyncKind = "user"
	SyncKindUserAccess SyncKind = "user_access"
	SyncKindUserRemove SyncKind = "user_remove"
)

// EntityType identifies what a failure record points at
type EntityType string

const (
	EntityPolicy     EntityType = "policy"
	EntitySubscriber EntityType = "subscriber"
)

const (
	ProviderAAA    = "aaa"
	ProviderRouter = "router"
)

// SyncFailure is the durable record of a push that did not reach a provider.
type SyncFailure struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	EntityType    EntityType        `gorm:"type:varchar(20);not null;index:idx_sync_failure_entity" json:"entity_type"`
	EntityID      uint              `gorm:"not null;index:idx_sync_failure_entity" json:"entity_id"`
	EntityKey     string            `gorm:"type:varchar(150)" json:"entity_key"`
	Kind          SyncKind          `gorm:"column:sync_kind;type:varchar(20);not null;index:idx_sync_failure_entity" json:"sync_kind"`
	Provider      string            `gorm:"type:varchar(20);not null" json:"provider"`
	ErrorMessage  string            `gorm:"type:text" json:"error_message"`
	Transient     bool              `gorm:"not null" json:"transient"`
	Status        SyncFailureStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_sync_failure_due" json:"status"`
	RetryCount    int               `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries    int               `gorm:"not null;default:3" json:"max_retries"`
	NextRetryAt   time.Time         `gorm:"index:idx_sync_failure_due" json:"next_retry_at"`
	LastAttemptAt *time.Time        `gorm:"default:null" json:"last_attempt_at"`
	ResolvedAt    *time.Time        `gorm:"default:null" json:"resolved_at"`
	ResolvedBy    string            `gorm:"type:varchar(100)" json:"resolved_by"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (SyncFailure) TableName() string {
	return "sync_failures"
}

// Class labels the failure as transient or permanent for logs and metrics
func (f *SyncFailure) Class() string {
	if f.Transient {
		return "transient"
	}
	return "permanent"
}

// IsTerminal reports whether the record left the retry loop for good.
func (f *SyncFailure) IsTerminal() bool {
	switch f.Status {
	case SyncFailureResolved, SyncFailureFailed, SyncFailureIgnored:
		return true
	}
	return false
}

// IsDue reports whether a pending record may be retried at now.
func (f *SyncFailure) IsDue(now time.Time) bool {
	return f.Status == SyncFailurePending && !f.NextRetryAt.After(now)
}
