package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"gorm.io/gorm"
)

// disconnectionRepository implements the DisconnectionRepository interface
type disconnectionRepository struct {
	db *gorm.DB
}

// NewDisconnectionRepository creates a new disconnection repository instance
func NewDisconnectionRepository(db *gorm.DB) DisconnectionRepository {
	return &disconnectionRepository{db: db}
}

// FindOpen returns the open disconnection or nil when the subscriber is enabled
func (r *disconnectionRepository) FindOpen(ctx context.Context, subscriberID uint) (*models.Disconnection, error) {
	var d models.Disconnection
	err := r.db.WithContext(ctx).
		Where("subscriber_id = ? AND reconnected_at IS NULL", subscriberID).
		Order("disconnected_at DESC").
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *disconnectionRepository) ListBySubscriber(ctx context.Context, subscriberID uint) ([]models.Disconnection, error) {
	var list []models.Disconnection
	err := r.db.WithContext(ctx).
		Where("subscriber_id = ?", subscriberID).
		Order("disconnected_at DESC").
		Find(&list).Error
	return list, err
}

// Open creates the disconnection and flags the usage record as exceeded.
func (r *disconnectionRepository) Open(ctx context.Context, d *models.Disconnection) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.Disconnection{}).
			Where("subscriber_id = ? AND reconnected_at IS NULL", d.SubscriberID).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrAlreadyDisconnected
		}
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		return tx.Model(&models.UsageRecord{}).
			Where("subscriber_id = ?", d.SubscriberID).
			Updates(map[string]interface{}{
				"exceeded": true,
				"version":  gorm.Expr("version + 1"),
			}).Error
	})
}

// Close marks the open disconnection reconnected and clears the exceeded flag.
// Usage counters are left untouched.
func (r *disconnectionRepository) Close(ctx context.Context, subscriberID uint, by string, at time.Time) (*models.Disconnection, error) {
	var closed models.Disconnection
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("subscriber_id = ? AND reconnected_at IS NULL", subscriberID).
			Order("disconnected_at DESC").
			First(&closed).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotDisconnected
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Disconnection{}).
			Where("subscriber_id = ? AND reconnected_at IS NULL", subscriberID).
			Updates(map[string]interface{}{
				"reconnected_at": at,
				"reconnected_by": by,
			}).Error; err != nil {
			return err
		}
		closed.ReconnectedAt = &at
		closed.ReconnectedBy = by
		return tx.Model(&models.UsageRecord{}).
			Where("subscriber_id = ?", subscriberID).
			Updates(map[string]interface{}{
				"exceeded": false,
				"version":  gorm.Expr("version + 1"),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &closed, nil
}
