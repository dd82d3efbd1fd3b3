package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"gorm.io/gorm"
)

type verificationAuditRepository struct {
	db *gorm.DB
}

// NewVerificationAuditRepository creates a new verification audit repository instance
func NewVerificationAuditRepository(db *gorm.DB) VerificationAuditRepository {
	return &verificationAuditRepository{db: db}
}

func (r *verificationAuditRepository) Append(ctx context.Context, audit *models.VerificationAudit) error {
	return r.db.WithContext(ctx).Create(audit).Error
}

func (r *verificationAuditRepository) ListByUsername(ctx context.Context, username string, limit int) ([]models.VerificationAudit, error) {
	var list []models.VerificationAudit
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("id DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *verificationAuditRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Where("checked_at < ?", before).Delete(&models.VerificationAudit{})
	return tx.RowsAffected, tx.Error
}
