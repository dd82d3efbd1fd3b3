package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/app/repository"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/aaa"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/attrmap"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/batch"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/entitlements"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/ids"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/metrics"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/routeragent"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/syncer"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
)

// ErrRouterUnavailable is returned by VerifyAll when sessions cannot be listed
var ErrRouterUnavailable = errors.New("router agent unavailable")

// Result is the verification outcome for one subscriber
type Result struct {
	SubscriberID uint       `json:"subscriber_id,omitempty"`
	Username     string     `json:"username"`
	Status       Status     `json:"status"`
	Mismatches   []Mismatch `json:"mismatches"`
	Detail       string     `json:"detail,omitempty"`
	CheckedAt    time.Time  `json:"checked_at"`
}

// UnknownSession is a live session no subscriber could be found for
type UnknownSession struct {
	ID      string `json:"id"`
	User    string `json:"user"`
	Address string `json:"address,omitempty"`
	MAC     string `json:"mac,omitempty"`
}

// Report is the outcome of a bulk verification
type Report struct {
	Results   []Result         `json:"results"`
	Unknown   []UnknownSession `json:"unknown_sessions"`
	Histogram map[Status]int   `json:"histogram"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Summary folds the report into a batch summary. Drift is counted, not
// failed; only provider errors fail an entity.
func (r *Report) Summary(started time.Time) batch.Summary {
	col := batch.NewCollector("verify", started)
	for _, res := range r.Results {
		if res.Status == StatusProviderError {
			col.Fail("user:"+res.Username, errors.New(res.Detail))
		} else {
			col.Succeed()
		}
		col.Count(string(res.Status), 1)
	}
	if len(r.Unknown) > 0 {
		col.Count("unknown_sessions", len(r.Unknown))
	}
	return col.Finish(r.CheckedAt)
}

// Deps wires a Verifier
type Deps struct {
	Subscribers repository.SubscriberRepository
	Audits      repository.VerificationAuditRepository
	Resolver    *entitlements.Resolver
	AAA         aaa.Store
	Router      routeragent.Client
	Workers     int
	Clock       clock.Clock
}

// Verifier runs read-only drift checks
type Verifier struct {
	subscribers repository.SubscriberRepository
	audits      repository.VerificationAuditRepository
	resolver    *entitlements.Resolver
	aaa         aaa.Store
	router      routeragent.Client
	workers     int
	clock       clock.Clock
}

func New(d Deps) *Verifier {
	if d.Workers <= 0 {
		d.Workers = 1
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	return &Verifier{
		subscribers: d.Subscribers,
		audits:      d.Audits,
		resolver:    d.Resolver,
		aaa:         d.AAA,
		router:      d.Router,
		workers:     d.Workers,
		clock:       d.Clock,
	}
}

// VerifyUser checks the live session of one subscriber. A subscriber without
// a session is NOT_CONNECTED; an unreachable router is PROVIDER_ERROR.
func (v *Verifier) VerifyUser(ctx context.Context, subscriberID uint) (*Result, error) {
	sub, err := v.subscribers.GetByID(ctx, subscriberID)
	if repository.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %d", syncer.ErrSubscriberNotFound, subscriberID)
	}
	if err != nil {
		return nil, err
	}

	res := Result{SubscriberID: sub.ID, Username: sub.Username, Mismatches: []Mismatch{}, CheckedAt: v.clock.Now()}
	session, err := v.router.GetSession(ctx, sub.Username)
	switch {
	case err != nil:
		res.Status = StatusProviderError
		res.Detail = err.Error()
	case session == nil:
		res.Status = StatusNotConnected
	default:
		res = v.verifySession(ctx, sub, *session)
	}
	v.record(ctx, &res)
	return &res, nil
}

// VerifyAll lists live sessions once and verifies each one. Sessions that
// belong to no known subscriber are reported separately.
func (v *Verifier) VerifyAll(ctx context.Context) (*Report, error) {
	sessions, err := v.router.ListSessions(ctx)
	if err != nil {
		metrics.ObserveVerification(string(StatusProviderError))
		return nil, fmt.Errorf("%w: %v", ErrRouterUnavailable, err)
	}

	report := &Report{Results: []Result{}, Unknown: []UnknownSession{}, Histogram: map[Status]int{}}
	var known []sessionOf
	for _, s := range sessions {
		sub, err := v.subscribers.GetByUsername(ctx, s.User)
		if repository.IsNotFound(err) {
			report.Unknown = append(report.Unknown, UnknownSession{ID: s.ID, User: s.User, Address: s.Address, MAC: s.MAC})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup session owner %s: %w", s.User, err)
		}
		known = append(known, sessionOf{sub: sub, session: s})
	}

	results := make([]Result, len(known))
	indexed := make([]int, len(known))
	for i := range indexed {
		indexed[i] = i
	}
	batch.Run(ctx, v.workers, indexed, func(ctx context.Context, i int) {
		res := v.verifySession(ctx, known[i].sub, known[i].session)
		v.record(ctx, &res)
		results[i] = res
	})

	for _, res := range results {
		if res.Username == "" {
			continue
		}
		report.Results = append(report.Results, res)
		report.Histogram[res.Status]++
	}
	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].Username < report.Results[j].Username })
	report.CheckedAt = v.clock.Now()
	if len(report.Unknown) > 0 {
		log.Warnf("[Verify] %d live sessions belong to no known subscriber", len(report.Unknown))
	}
	return report, nil
}

type sessionOf struct {
	sub     *models.Subscriber
	session routeragent.Session
}

func (v *Verifier) verifySession(ctx context.Context, sub *models.Subscriber, s routeragent.Session) Result {
	res := Result{SubscriberID: sub.ID, Username: sub.Username, Mismatches: []Mismatch{}, CheckedAt: v.clock.Now()}

	eff, err := v.resolver.Resolve(ctx, sub)
	if err != nil {
		res.Status = StatusProviderError
		res.Detail = err.Error()
		return res
	}
	if !eff.Found() {
		res.Status = StatusError
		res.Detail = syncer.ErrNoEffectivePolicy.Error()
		return res
	}

	group := attrmap.GroupName(eff.Policy.ID, eff.Policy.Name)
	mismatches := Compare(attrmap.SessionAttributes(group, eff.Policy), Translate(s.Fields))

	current, err := v.aaa.UserGroup(ctx, sub.Username)
	if err != nil {
		res.Status = StatusProviderError
		res.Detail = err.Error()
		return res
	}
	if current != group {
		mismatches = append(mismatches, Mismatch{Attribute: AttrAAAGroup, Expected: group, Actual: current})
		sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Attribute < mismatches[j].Attribute })
	}

	if len(mismatches) > 0 {
		res.Mismatches = mismatches
	}
	res.Status = StatusOf(mismatches)
	return res
}

func (v *Verifier) record(ctx context.Context, res *Result) {
	metrics.ObserveVerification(string(res.Status))
	if res.Status == StatusWarning || res.Status == StatusError {
		log.Warnf("[Verify] %s: %s with %d mismatches", res.Username, res.Status, len(res.Mismatches))
	}
	if v.audits == nil {
		return
	}

	raw, err := json.Marshal(res.Mismatches)
	if err != nil {
		log.Errorf("[Verify] Could not encode mismatches of %s: %v", res.Username, err)
		return
	}
	audit := &models.VerificationAudit{
		ID:         ids.NewAt(res.CheckedAt),
		Username:   res.Username,
		Status:     string(res.Status),
		Mismatches: datatypes.JSON(raw),
		Detail:     res.Detail,
		CheckedAt:  res.CheckedAt,
	}
	if res.SubscriberID != 0 {
		id := res.SubscriberID
		audit.SubscriberID = &id
	}
	if err := v.audits.Append(ctx, audit); err != nil {
		log.Errorf("[Verify] Could not store audit for %s: %v", res.Username, err)
	}
}
