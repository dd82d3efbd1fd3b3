// Package aaa reconciles policy and credential state into the FreeRADIUS
// SQL tables and reads lifetime accounting totals back out of them.
package aaa

import (
	"context"
	"errors"

	"github.com/ManuelReschke/HotspotSync/internal/pkg/attrmap"
)

// ErrStore wraps every failure talking to the AAA database
var ErrStore = errors.New("aaa store")

// UserChange reports what reconciling one user wrote
type UserChange struct {
	Checks       attrmap.Diff `json:"checks"`
	GroupChanged bool         `json:"group_changed"`
}

// Empty reports whether reconciliation was a no-op
func (c UserChange) Empty() bool {
	return c.Checks.Empty() && !c.GroupChanged
}

// Store is the AAA side of the sync engine.
type Store interface {
	// GroupAttributes returns the reply and check rows of a group
	GroupAttributes(ctx context.Context, group string) (attrmap.AttributeSet, error)
	// ReconcileGroup makes the group rows equal target and returns what changed
	ReconcileGroup(ctx context.Context, group string, target attrmap.AttributeSet) (attrmap.Diff, error)
	// ReconcileUser sets the single group membership and the managed check rows
	ReconcileUser(ctx context.Context, username, group string, checks attrmap.AttributeSet) (UserChange, error)
	// SetCredentialEnabled adds or removes the Auth-Type Reject marker
	SetCredentialEnabled(ctx context.Context, username string, enabled bool) error
	// RemoveUser deletes every per-user row
	RemoveUser(ctx context.Context, username string) error
	// UserGroup returns the group the user belongs to, or "" when none
	UserGroup(ctx context.Context, username string) (string, error)
	// LifetimeTotals sums input and output octets per username across all sessions
	LifetimeTotals(ctx context.Context, usernames []string) (map[string]int64, error)
}
