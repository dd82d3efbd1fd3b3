package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"gorm.io/gorm"
)

// policyRepository implements the PolicyRepository interface
type policyRepository struct {
	db *gorm.DB
}

// NewPolicyRepository creates a new policy repository instance
func NewPolicyRepository(db *gorm.DB) PolicyRepository {
	return &policyRepository{db: db}
}

func (r *policyRepository) Create(ctx context.Context, policy *models.Policy) error {
	return r.db.WithContext(ctx).Create(policy).Error
}

func (r *policyRepository) GetByID(ctx context.Context, id uint) (*models.Policy, error) {
	var policy models.Policy
	if err := r.db.WithContext(ctx).First(&policy, id).Error; err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *policyRepository) ListActive(ctx context.Context) ([]models.Policy, error) {
	var policies []models.Policy
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&policies).Error
	return policies, err
}

func (r *policyRepository) Update(ctx context.Context, policy *models.Policy) error {
	return r.db.WithContext(ctx).Save(policy).Error
}

// MarkSynced stores the derived group name and the time of the last successful push
func (r *policyRepository) MarkSynced(ctx context.Context, id uint, groupName string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Policy{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"group_name":     groupName,
			"last_synced_at": at,
		}).Error
}
