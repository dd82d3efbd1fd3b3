package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"gorm.io/gorm"
)

var (
	// ErrConflict is returned when an optimistic update lost against a concurrent writer.
	ErrConflict = errors.New("repository: concurrent update conflict")
	// ErrAlreadyDisconnected is returned when an open disconnection already exists.
	ErrAlreadyDisconnected = errors.New("repository: subscriber already has an open disconnection")
	// ErrNotDisconnected is returned when closing a disconnection that is not open.
	ErrNotDisconnected = errors.New("repository: subscriber has no open disconnection")
)

// IsNotFound reports whether err signals a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// PolicyRepository defines the interface for policy operations
type PolicyRepository interface {
	Create(ctx context.Context, policy *models.Policy) error
	GetByID(ctx context.Context, id uint) (*models.Policy, error)
	ListActive(ctx context.Context) ([]models.Policy, error)
	Update(ctx context.Context, policy *models.Policy) error
	MarkSynced(ctx context.Context, id uint, groupName string, at time.Time) error
}

// CohortRepository defines the interface for cohort operations
type CohortRepository interface {
	Create(ctx context.Context, cohort *models.Cohort) error
	GetByID(ctx context.Context, id uint) (*models.Cohort, error)
	Update(ctx context.Context, cohort *models.Cohort) error
}

// SubscriberRepository defines the interface for subscriber operations
type SubscriberRepository interface {
	Create(ctx context.Context, sub *models.Subscriber) error
	GetByID(ctx context.Context, id uint) (*models.Subscriber, error)
	GetByUsername(ctx context.Context, username string) (*models.Subscriber, error)
	ListActivated(ctx context.Context) ([]models.Subscriber, error)
	ListActivatedByCohort(ctx context.Context, cohortID uint) ([]models.Subscriber, error)
	Update(ctx context.Context, sub *models.Subscriber) error
}

// UsageRepository defines the interface for usage counter persistence.
// Save is optimistic: it fails with ErrConflict when the stored version moved.
type UsageRepository interface {
	GetBySubscriberID(ctx context.Context, subscriberID uint) (*models.UsageRecord, error)
	Create(ctx context.Context, rec *models.UsageRecord) error
	Save(ctx context.Context, rec *models.UsageRecord) error
	SetActive(ctx context.Context, subscriberID uint, active bool) error
}

// DisconnectionRepository keeps the disconnection log and the Exceeded flag
// on the usage record in step. Open and Close run in one transaction each.
type DisconnectionRepository interface {
	FindOpen(ctx context.Context, subscriberID uint) (*models.Disconnection, error)
	ListBySubscriber(ctx context.Context, subscriberID uint) ([]models.Disconnection, error)
	Open(ctx context.Context, d *models.Disconnection) error
	Close(ctx context.Context, subscriberID uint, by string, at time.Time) (*models.Disconnection, error)
}

// SyncFailureRepository defines the interface for the retry ledger store
type SyncFailureRepository interface {
	Create(ctx context.Context, f *models.SyncFailure) error
	GetByID(ctx context.Context, id uint) (*models.SyncFailure, error)
	FindOpen(ctx context.Context, entityType models.EntityType, entityID uint, kind models.SyncKind) (*models.SyncFailure, error)
	List(ctx context.Context, status models.SyncFailureStatus, offset, limit int) ([]models.SyncFailure, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.SyncFailure, error)
	Claim(ctx context.Context, id uint, now time.Time) (bool, error)
	Transition(ctx context.Context, f *models.SyncFailure, from models.SyncFailureStatus) error
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

// VerificationAuditRepository defines the interface for drift audit storage
type VerificationAuditRepository interface {
	Append(ctx context.Context, audit *models.VerificationAudit) error
	ListByUsername(ctx context.Context, username string, limit int) ([]models.VerificationAudit, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// JobStatsRepository defines the interface for job run bookkeeping in the cache
type JobStatsRepository interface {
	RecordRun(ctx context.Context, job string, payload []byte, processed, failed int) error
	LastRun(ctx context.Context, job string) ([]byte, error)
	Totals(ctx context.Context) (map[string]string, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Policy        PolicyRepository
	Cohort        CohortRepository
	Subscriber    SubscriberRepository
	Usage         UsageRepository
	Disconnection DisconnectionRepository
	SyncFailure   SyncFailureRepository
	Verification  VerificationAuditRepository
	JobStats      JobStatsRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Policy:        NewPolicyRepository(db),
		Cohort:        NewCohortRepository(db),
		Subscriber:    NewSubscriberRepository(db),
		Usage:         NewUsageRepository(db),
		Disconnection: NewDisconnectionRepository(db),
		SyncFailure:   NewSyncFailureRepository(db),
		Verification:  NewVerificationAuditRepository(db),
		JobStats:      NewJobStatsRepository(),
	}
}
