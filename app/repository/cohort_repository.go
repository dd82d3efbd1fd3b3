package repository

import (
	"context"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"gorm.io/gorm"
)

type cohortRepository struct {
	db *gorm.DB
}

// NewCohortRepository creates a new cohort repository instance
func NewCohortRepository(db *gorm.DB) CohortRepository {
	return &cohortRepository{db: db}
}

func (r *cohortRepository) Create(ctx context.Context, cohort *models.Cohort) error {
	return r.db.WithContext(ctx).Create(cohort).Error
}

func (r *cohortRepository) GetByID(ctx context.Context, id uint) (*models.Cohort, error) {
	var cohort models.Cohort
	if err := r.db.WithContext(ctx).First(&cohort, id).Error; err != nil {
		return nil, err
	}
	return &cohort, nil
}

func (r *cohortRepository) Update(ctx context.Context, cohort *models.Cohort) error {
	return r.db.WithContext(ctx).Save(cohort).Error
}
