package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Cohort is a named promotion group whose members inherit its policy unless
// they carry a directly assigned one.
type Cohort struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(150);not null;uniqueIndex" json:"name" validate:"required,min=1,max=150"`
	PolicyID  *uint     `gorm:"index;default:null" json:"policy_id"`
	IsActive  bool      `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Cohort) TableName() string {
	return "cohorts"
}

func (c *Cohort) Validate() error {
	return validator.New().Struct(c)
}
