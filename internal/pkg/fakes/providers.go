package fakes

import (
	"context"
	"sort"
	"sync"

	"github.com/ManuelReschke/HotspotSync/internal/pkg/aaa"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/attrmap"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/routeragent"
)

// AAA is an in-memory aaa.Store. Set Err[op] to make an operation fail.
type AAA struct {
	mu         sync.Mutex
	Groups     map[string]attrmap.AttributeSet
	UserChecks map[string]attrmap.AttributeSet
	Membership map[string]string
	Totals     map[string]int64
	Err        map[string]error
	Calls      map[string]int
}

func NewAAA() *AAA {
	return &AAA{
		Groups:     make(map[string]attrmap.AttributeSet),
		UserChecks: make(map[string]attrmap.AttributeSet),
		Membership: make(map[string]string),
		Totals:     make(map[string]int64),
		Err:        make(map[string]error),
		Calls:      make(map[string]int),
	}
}

var _ aaa.Store = (*AAA)(nil)

func (a *AAA) enter(op string) error {
	a.Calls[op]++
	return a.Err[op]
}

// Fail makes op return err until cleared with Fail(op, nil)
func (a *AAA) Fail(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.Err, op)
		return
	}
	a.Err[op] = err
}

// CallCount returns how often op was invoked
func (a *AAA) CallCount(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Calls[op]
}

// SetTotal sets the lifetime accounting total of username
func (a *AAA) SetTotal(username string, total int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Totals[username] = total
}

// Checks returns the stored user check rows of username
func (a *AAA) Checks(username string) attrmap.AttributeSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append(attrmap.AttributeSet{}, a.UserChecks[username]...)
}

// Group returns the stored rows of group
func (a *AAA) Group(group string) attrmap.AttributeSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append(attrmap.AttributeSet{}, a.Groups[group]...)
}

func (a *AAA) GroupAttributes(_ context.Context, group string) (attrmap.AttributeSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("GroupAttributes"); err != nil {
		return nil, err
	}
	return append(attrmap.AttributeSet{}, a.Groups[group]...), nil
}

func (a *AAA) ReconcileGroup(_ context.Context, group string, target attrmap.AttributeSet) (attrmap.Diff, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("ReconcileGroup"); err != nil {
		return attrmap.Diff{}, err
	}
	d := attrmap.ComputeDiff(a.Groups[group], target)
	a.Groups[group] = attrmap.Apply(a.Groups[group], d)
	return d, nil
}

func (a *AAA) ReconcileUser(_ context.Context, username, group string, checks attrmap.AttributeSet) (aaa.UserChange, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("ReconcileUser"); err != nil {
		return aaa.UserChange{}, err
	}
	var change aaa.UserChange
	if a.Membership[username] != group {
		a.Membership[username] = group
		change.GroupChanged = true
	}
	change.Checks = attrmap.ComputeDiff(a.UserChecks[username], checks)
	a.UserChecks[username] = attrmap.Apply(a.UserChecks[username], change.Checks)
	return change, nil
}

func (a *AAA) SetCredentialEnabled(_ context.Context, username string, enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("SetCredentialEnabled"); err != nil {
		return err
	}
	kept := attrmap.AttributeSet{}
	for _, c := range a.UserChecks[username] {
		if c.Name != attrmap.AttrAuthType {
			kept = append(kept, c)
		}
	}
	if !enabled {
		kept = append(kept, attrmap.Attribute{Name: attrmap.AttrAuthType, Op: attrmap.OpSet, Value: attrmap.AuthTypeReject, Source: attrmap.SourceUserCheck})
	}
	a.UserChecks[username] = kept
	return nil
}

func (a *AAA) RemoveUser(_ context.Context, username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("RemoveUser"); err != nil {
		return err
	}
	delete(a.UserChecks, username)
	delete(a.Membership, username)
	return nil
}

func (a *AAA) UserGroup(_ context.Context, username string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("UserGroup"); err != nil {
		return "", err
	}
	return a.Membership[username], nil
}

func (a *AAA) LifetimeTotals(_ context.Context, usernames []string) (map[string]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enter("LifetimeTotals"); err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, u := range usernames {
		if v, ok := a.Totals[u]; ok {
			out[u] = v
		}
	}
	return out, nil
}

// Router is an in-memory routeragent.Client. Set Err[op] to make an operation fail.
type Router struct {
	mu           sync.Mutex
	Profiles     map[string]attrmap.HotspotProfile
	Users        map[string]routeragent.HotspotUser
	Sessions     map[string]routeragent.Session
	Err          map[string]error
	Calls        map[string]int
	Disconnected []string
}

func NewRouter() *Router {
	return &Router{
		Profiles: make(map[string]attrmap.HotspotProfile),
		Users:    make(map[string]routeragent.HotspotUser),
		Sessions: make(map[string]routeragent.Session),
		Err:      make(map[string]error),
		Calls:    make(map[string]int),
	}
}

var _ routeragent.Client = (*Router)(nil)

func (r *Router) enter(op string) error {
	r.Calls[op]++
	return r.Err[op]
}

// Fail makes op return err until cleared with Fail(op, nil)
func (r *Router) Fail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.Err, op)
		return
	}
	r.Err[op] = err
}

// CallCount returns how often op was invoked
func (r *Router) CallCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Calls[op]
}

// User returns the stored hotspot user
func (r *Router) User(name string) (routeragent.HotspotUser, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.Users[name]
	return u, ok
}

// AddSession registers a live session
func (r *Router) AddSession(s routeragent.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sessions[s.User] = s
}

func (r *Router) UpsertProfile(_ context.Context, p attrmap.HotspotProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("UpsertProfile"); err != nil {
		return err
	}
	r.Profiles[p.Name] = p
	return nil
}

func (r *Router) UpsertUser(_ context.Context, u routeragent.HotspotUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("UpsertUser"); err != nil {
		return err
	}
	r.Users[u.Name] = u
	return nil
}

func (r *Router) SetUserDisabled(_ context.Context, name string, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("SetUserDisabled"); err != nil {
		return err
	}
	u, ok := r.Users[name]
	if !ok {
		u = routeragent.HotspotUser{Name: name}
	}
	u.Disabled = disabled
	r.Users[name] = u
	return nil
}

func (r *Router) RemoveUser(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("RemoveUser"); err != nil {
		return err
	}
	delete(r.Users, name)
	return nil
}

func (r *Router) GetSession(_ context.Context, user string) (*routeragent.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("GetSession"); err != nil {
		return nil, err
	}
	s, ok := r.Sessions[user]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *Router) ListSessions(_ context.Context) ([]routeragent.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("ListSessions"); err != nil {
		return nil, err
	}
	out := make([]routeragent.Session, 0, len(r.Sessions))
	for _, s := range r.Sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out, nil
}

func (r *Router) DisconnectSession(_ context.Context, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("DisconnectSession"); err != nil {
		return err
	}
	delete(r.Sessions, user)
	r.Disconnected = append(r.Disconnected, user)
	return nil
}
