package repository

import (
	"context"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"gorm.io/gorm"
)

// usageRepository implements the UsageRepository interface
type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a new usage repository instance
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) GetBySubscriberID(ctx context.Context, subscriberID uint) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	if err := r.db.WithContext(ctx).Where("subscriber_id = ?", subscriberID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *usageRepository) Create(ctx context.Context, rec *models.UsageRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// Save writes counters only when nobody else wrote since rec was read.
// On success rec.Version is advanced.
func (r *usageRepository) Save(ctx context.Context, rec *models.UsageRecord) error {
	tx := r.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(map[string]interface{}{
			"used_today":         rec.UsedToday,
			"used_week":          rec.UsedWeek,
			"used_this_week":     rec.UsedThisWeek,
			"used_month":         rec.UsedMonth,
			"used_total":         rec.UsedTotal,
			"observed_total":     rec.ObservedTotal,
			"day_reset_at":       rec.DayResetAt,
			"week_reset_at":      rec.WeekResetAt,
			"this_week_reset_at": rec.ThisWeekResetAt,
			"month_reset_at":     rec.MonthResetAt,
			"activation_date":    rec.ActivationDate,
			"last_observed_at":   rec.LastObservedAt,
			"is_active":          rec.IsActive,
			"anomaly_count":      rec.AnomalyCount,
			"last_anomaly_at":    rec.LastAnomalyAt,
			"version":            rec.Version + 1,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrConflict
	}
	rec.Version++
	return nil
}

func (r *usageRepository) SetActive(ctx context.Context, subscriberID uint, active bool) error {
	return r.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Where("subscriber_id = ?", subscriberID).
		Updates(map[string]interface{}{
			"is_active": active,
			"version":   gorm.Expr("version + 1"),
		}).Error
}
