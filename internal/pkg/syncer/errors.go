package syncer

import (
	"errors"
	"fmt"

	"github.com/ManuelReschke/HotspotSync/app/models"
)

// Validation errors. They are returned before any provider is touched and
// never create a failure record.
var (
	ErrNotActivated       = errors.New("subscriber is not activated")
	ErrMissingCredential  = errors.New("subscriber has no credential")
	ErrNoEffectivePolicy  = errors.New("subscriber has no effective policy")
	ErrPolicyNotFound     = errors.New("policy not found")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrCohortNotFound     = errors.New("cohort not found")
	ErrInvalidPolicy      = errors.New("policy is invalid")
)

// IsValidation reports whether err was rejected before any provider write
func IsValidation(err error) bool {
	for _, v := range []error{ErrNotActivated, ErrMissingCredential, ErrNoEffectivePolicy,
		ErrPolicyNotFound, ErrSubscriberNotFound, ErrCohortNotFound, ErrInvalidPolicy} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// SyncError is the structured result of a push a provider rejected.
// FailureID points at the ledger record when one was written.
type SyncError struct {
	Kind      models.SyncKind `json:"kind"`
	Entity    string          `json:"entity"`
	Provider  string          `json:"provider"`
	FailureID uint            `json:"failure_id,omitempty"`
	Err       error           `json:"-"`
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s %s failed at %s: %v", e.Kind, e.Entity, e.Provider, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
