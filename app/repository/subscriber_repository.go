package repository

import (
	"context"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"gorm.io/gorm"
)

// subscriberRepository implements the SubscriberRepository interface
type subscriberRepository struct {
	db *gorm.DB
}

// NewSubscriberRepository creates a new subscriber repository instance
func NewSubscriberRepository(db *gorm.DB) SubscriberRepository {
	return &subscriberRepository{db: db}
}

func (r *subscriberRepository) Create(ctx context.Context, sub *models.Subscriber) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *subscriberRepository) GetByID(ctx context.Context, id uint) (*models.Subscriber, error) {
	var sub models.Subscriber
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriberRepository) GetByUsername(ctx context.Context, username string) (*models.Subscriber, error) {
	var sub models.Subscriber
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriberRepository) ListActivated(ctx context.Context) ([]models.Subscriber, error) {
	var subs []models.Subscriber
	err := r.db.WithContext(ctx).Where("activated = ?", true).Order("id ASC").Find(&subs).Error
	return subs, err
}

func (r *subscriberRepository) ListActivatedByCohort(ctx context.Context, cohortID uint) ([]models.Subscriber, error) {
	var subs []models.Subscriber
	err := r.db.WithContext(ctx).
		Where("activated = ? AND cohort_id = ?", true, cohortID).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *subscriberRepository) Update(ctx context.Context, sub *models.Subscriber) error {
	return r.db.WithContext(ctx).Save(sub).Error
}
