package entitlements

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/app/repository"
)

type Kind string

const (
	KindNone      Kind = "none"
	KindDirect    Kind = "direct"
	KindInherited Kind = "inherited"
)

// Resolution is the effective policy of one subscriber and where it came from
type Resolution struct {
	Kind     Kind
	Policy   *models.Policy
	CohortID *uint
}

// Found reports whether a policy applies
func (r Resolution) Found() bool {
	return r.Kind != KindNone && r.Policy != nil
}

// Effective combines a subscriber's direct policy with its cohort's policy.
// A direct assignment always wins, even when the referenced policy is
// inactive; in that case nothing applies. Inactive cohorts and inactive
// policies never resolve.
func Effective(sub *models.Subscriber, direct *models.Policy, cohort *models.Cohort, cohortPolicy *models.Policy) Resolution {
	if sub.PolicyID != nil {
		if direct != nil && direct.IsActive {
			return Resolution{Kind: KindDirect, Policy: direct}
		}
		return Resolution{Kind: KindNone}
	}
	if sub.CohortID == nil || cohort == nil || !cohort.IsActive || cohort.PolicyID == nil {
		return Resolution{Kind: KindNone}
	}
	if cohortPolicy == nil || !cohortPolicy.IsActive {
		return Resolution{Kind: KindNone}
	}
	return Resolution{Kind: KindInherited, Policy: cohortPolicy, CohortID: sub.CohortID}
}

// Resolver loads the records Effective needs
type Resolver struct {
	policies repository.PolicyRepository
	cohorts  repository.CohortRepository
}

func NewResolver(policies repository.PolicyRepository, cohorts repository.CohortRepository) *Resolver {
	return &Resolver{policies: policies, cohorts: cohorts}
}

// Resolve returns the effective policy of sub. Dangling references resolve to none.
func (r *Resolver) Resolve(ctx context.Context, sub *models.Subscriber) (Resolution, error) {
	if sub.PolicyID != nil {
		direct, err := r.loadPolicy(ctx, *sub.PolicyID)
		if err != nil {
			return Resolution{}, err
		}
		return Effective(sub, direct, nil, nil), nil
	}
	if sub.CohortID == nil {
		return Resolution{Kind: KindNone}, nil
	}

	cohort, err := r.cohorts.GetByID(ctx, *sub.CohortID)
	if repository.IsNotFound(err) {
		return Resolution{Kind: KindNone}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("load cohort %d: %w", *sub.CohortID, err)
	}
	var cohortPolicy *models.Policy
	if cohort.PolicyID != nil {
		if cohortPolicy, err = r.loadPolicy(ctx, *cohort.PolicyID); err != nil {
			return Resolution{}, err
		}
	}
	return Effective(sub, nil, cohort, cohortPolicy), nil
}

func (r *Resolver) loadPolicy(ctx context.Context, id uint) (*models.Policy, error) {
	p, err := r.policies.GetByID(ctx, id)
	if repository.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load policy %d: %w", id, err)
	}
	return p, nil
}
