// Package routeragent talks to the router management agent: hotspot
// profiles, hotspot users and live sessions over a small JSON API.
package routeragent

import (
	"context"

	"github.com/ManuelReschke/HotspotSync/internal/pkg/attrmap"
)

// HotspotUser is the router-side login of a subscriber. LimitBytesTotal is
// always sent so a zero clears a cap left over from a limited policy.
type HotspotUser struct {
	Name            string `json:"name"`
	Password        string `json:"password"`
	Profile         string `json:"profile"`
	Disabled        bool   `json:"disabled"`
	LimitBytesTotal int64  `json:"limit-bytes-total"`
	Comment         string `json:"comment,omitempty"`
}

// Session is one live hotspot session. Fields holds every attribute the
// router reported, keyed by router field name.
type Session struct {
	ID      string            `json:"id"`
	User    string            `json:"user"`
	Address string            `json:"address"`
	MAC     string            `json:"mac_address"`
	Fields  map[string]string `json:"fields"`
}

// Client is the router side of the sync engine.
type Client interface {
	UpsertProfile(ctx context.Context, profile attrmap.HotspotProfile) error
	UpsertUser(ctx context.Context, user HotspotUser) error
	SetUserDisabled(ctx context.Context, name string, disabled bool) error
	RemoveUser(ctx context.Context, name string) error
	// GetSession returns nil when the user has no live session
	GetSession(ctx context.Context, user string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	// DisconnectSession kicks every live session of user; no session is not an error
	DisconnectSession(ctx context.Context, user string) error
}
