package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"gorm.io/gorm"
)

// syncFailureRepository implements the SyncFailureRepository interface
type syncFailureRepository struct {
	db *gorm.DB
}

// NewSyncFailureRepository creates a new sync failure repository instance
func NewSyncFailureRepository(db *gorm.DB) SyncFailureRepository {
	return &syncFailureRepository{db: db}
}

func (r *syncFailureRepository) Create(ctx context.Context, f *models.SyncFailure) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *syncFailureRepository) GetByID(ctx context.Context, id uint) (*models.SyncFailure, error) {
	var f models.SyncFailure
	if err := r.db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// FindOpen returns the non-terminal record for (entity, kind) or nil
func (r *syncFailureRepository) FindOpen(ctx context.Context, entityType models.EntityType, entityID uint, kind models.SyncKind) (*models.SyncFailure, error) {
	var f models.SyncFailure
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND sync_kind = ? AND status IN ?",
			entityType, entityID, kind, models.OpenSyncFailureStatuses).
		Order("id ASC").
		First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *syncFailureRepository) List(ctx context.Context, status models.SyncFailureStatus, offset, limit int) ([]models.SyncFailure, error) {
	var list []models.SyncFailure
	q := r.db.WithContext(ctx).Model(&models.SyncFailure{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("id DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, err
}

// ListDue returns pending records whose next retry time has passed, oldest first
func (r *syncFailureRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.SyncFailure, error) {
	var list []models.SyncFailure
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", models.SyncFailurePending, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// Claim atomically moves a due record from pending to retrying.
// Returns false when another worker claimed it first.
func (r *syncFailureRepository) Claim(ctx context.Context, id uint, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.SyncFailure{}).
		Where("id = ? AND status = ? AND next_retry_at <= ?", id, models.SyncFailurePending, now).
		Updates(map[string]interface{}{
			"status":          models.SyncFailureRetrying,
			"last_attempt_at": now,
			"updated_at":      now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// Transition persists f only if the stored status still equals from.
func (r *syncFailureRepository) Transition(ctx context.Context, f *models.SyncFailure, from models.SyncFailureStatus) error {
	tx := r.db.WithContext(ctx).Model(&models.SyncFailure{}).
		Where("id = ? AND status = ?", f.ID, from).
		Updates(map[string]interface{}{
			"status":          f.Status,
			"retry_count":     f.RetryCount,
			"error_message":   f.ErrorMessage,
			"provider":        f.Provider,
			"transient":       f.Transient,
			"next_retry_at":   f.NextRetryAt,
			"last_attempt_at": f.LastAttemptAt,
			"resolved_at":     f.ResolvedAt,
			"resolved_by":     f.ResolvedBy,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// PurgeTerminal deletes resolved and failed records last touched before the cutoff
func (r *syncFailureRepository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]models.SyncFailureStatus{models.SyncFailureResolved, models.SyncFailureFailed}, before).
		Delete(&models.SyncFailure{})
	return tx.RowsAffected, tx.Error
}
