package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Subscriber is a hotspot user. Only activated subscribers may hold
// credentials on the AAA store or the router.
type Subscriber struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Username    string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"username" validate:"required,min=1,max=64"`
	Password    string     `gorm:"type:varchar(253)" json:"-"`
	PolicyID    *uint      `gorm:"index;default:null" json:"policy_id"`
	CohortID    *uint      `gorm:"index;default:null" json:"cohort_id"`
	Activated   bool       `gorm:"not null;default:false;index" json:"activated"`
	ActivatedAt *time.Time `gorm:"default:null" json:"activated_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscriber) TableName() string {
	return "subscribers"
}

func (s *Subscriber) Validate() error {
	return validator.New().Struct(s)
}

// HasCredential reports whether a login secret is available to provision.
func (s *Subscriber) HasCredential() bool {
	return strings.TrimSpace(s.Password) != ""
}
