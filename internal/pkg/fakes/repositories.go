// Package fakes provides in-memory repositories and providers for tests.
package fakes

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/models"
	"github.com/ManuelReschke/HotspotSync/app/repository"
	"gorm.io/gorm"
)

// DB is a shared in-memory store behind every fake repository
type DB struct {
	mu             sync.Mutex
	nextID         uint
	policies       map[uint]models.Policy
	cohorts        map[uint]models.Cohort
	subscribers    map[uint]models.Subscriber
	usage          map[uint]models.UsageRecord
	disconnections []models.Disconnection
	failures       map[uint]models.SyncFailure
	audits         []models.VerificationAudit
	jobRuns        map[string][]byte
	jobTotals      map[string]string
}

func NewDB() *DB {
	return &DB{
		policies:    make(map[uint]models.Policy),
		cohorts:     make(map[uint]models.Cohort),
		subscribers: make(map[uint]models.Subscriber),
		usage:       make(map[uint]models.UsageRecord),
		failures:    make(map[uint]models.SyncFailure),
		jobRuns:     make(map[string][]byte),
		jobTotals:   make(map[string]string),
	}
}

func (db *DB) id() uint {
	db.nextID++
	return db.nextID
}

// Repositories returns the full repository set bound to db
func (db *DB) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Policy:        PolicyRepo{db},
		Cohort:        CohortRepo{db},
		Subscriber:    SubscriberRepo{db},
		Usage:         UsageRepo{db},
		Disconnection: DisconnectionRepo{db},
		SyncFailure:   FailureRepo{db},
		Verification:  AuditRepo{db},
		JobStats:      JobStatsRepo{db},
	}
}

// Audits returns a copy of the stored verification audits
func (db *DB) Audits() []models.VerificationAudit {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.VerificationAudit{}, db.audits...)
}

// Failures returns every stored sync failure ordered by id
func (db *DB) Failures() []models.SyncFailure {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]models.SyncFailure, 0, len(db.failures))
	for _, f := range db.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Disconnections returns every stored disconnection in insertion order
func (db *DB) Disconnections() []models.Disconnection {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.Disconnection{}, db.disconnections...)
}

type PolicyRepo struct{ db *DB }

func (r PolicyRepo) Create(_ context.Context, p *models.Policy) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if p.ID == 0 {
		p.ID = r.db.id()
	}
	r.db.policies[p.ID] = *p
	return nil
}

func (r PolicyRepo) GetByID(_ context.Context, id uint) (*models.Policy, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.policies[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r PolicyRepo) ListActive(_ context.Context) ([]models.Policy, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Policy
	for _, p := range r.db.policies {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r PolicyRepo) Update(_ context.Context, p *models.Policy) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.policies[p.ID] = *p
	return nil
}

func (r PolicyRepo) MarkSynced(_ context.Context, id uint, group string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.policies[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.GroupName = group
	p.LastSyncedAt = &at
	r.db.policies[id] = p
	return nil
}

type CohortRepo struct{ db *DB }

func (r CohortRepo) Create(_ context.Context, c *models.Cohort) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if c.ID == 0 {
		c.ID = r.db.id()
	}
	r.db.cohorts[c.ID] = *c
	return nil
}

func (r CohortRepo) GetByID(_ context.Context, id uint) (*models.Cohort, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.cohorts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (r CohortRepo) Update(_ context.Context, c *models.Cohort) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.cohorts[c.ID] = *c
	return nil
}

type SubscriberRepo struct{ db *DB }

func (r SubscriberRepo) Create(_ context.Context, s *models.Subscriber) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if s.ID == 0 {
		s.ID = r.db.id()
	}
	r.db.subscribers[s.ID] = *s
	return nil
}

func (r SubscriberRepo) GetByID(_ context.Context, id uint) (*models.Subscriber, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.subscribers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &s, nil
}

func (r SubscriberRepo) GetByUsername(_ context.Context, username string) (*models.Subscriber, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.subscribers {
		if s.Username == username {
			return &s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r SubscriberRepo) list(match func(models.Subscriber) bool) []models.Subscriber {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Subscriber
	for _, s := range r.db.subscribers {
		if match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r SubscriberRepo) ListActivated(_ context.Context) ([]models.Subscriber, error) {
	return r.list(func(s models.Subscriber) bool { return s.Activated }), nil
}

func (r SubscriberRepo) ListActivatedByCohort(_ context.Context, cohortID uint) ([]models.Subscriber, error) {
	return r.list(func(s models.Subscriber) bool {
		return s.Activated && s.CohortID != nil && *s.CohortID == cohortID
	}), nil
}

func (r SubscriberRepo) Update(_ context.Context, s *models.Subscriber) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.subscribers[s.ID] = *s
	return nil
}

type UsageRepo struct{ db *DB }

func (r UsageRepo) GetBySubscriberID(_ context.Context, subscriberID uint) (*models.UsageRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.usage[subscriberID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (r UsageRepo) Create(_ context.Context, u *models.UsageRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.usage[u.SubscriberID]; ok {
		return gorm.ErrDuplicatedKey
	}
	if u.ID == 0 {
		u.ID = r.db.id()
	}
	r.db.usage[u.SubscriberID] = *u
	return nil
}

func (r UsageRepo) Save(_ context.Context, u *models.UsageRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.usage[u.SubscriberID]
	if !ok || stored.Version != u.Version {
		return repository.ErrConflict
	}
	u.Version++
	u.Exceeded = stored.Exceeded
	r.db.usage[u.SubscriberID] = *u
	return nil
}

func (r UsageRepo) SetActive(_ context.Context, subscriberID uint, active bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.usage[subscriberID]
	if !ok {
		return nil
	}
	u.IsActive = active
	u.Version++
	r.db.usage[subscriberID] = u
	return nil
}

type DisconnectionRepo struct{ db *DB }

func (r DisconnectionRepo) findOpenLocked(subscriberID uint) int {
	for i := len(r.db.disconnections) - 1; i >= 0; i-- {
		d := r.db.disconnections[i]
		if d.SubscriberID == subscriberID && d.IsOpen() {
			return i
		}
	}
	return -1
}

func (r DisconnectionRepo) FindOpen(_ context.Context, subscriberID uint) (*models.Disconnection, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if i := r.findOpenLocked(subscriberID); i >= 0 {
		d := r.db.disconnections[i]
		return &d, nil
	}
	return nil, nil
}

func (r DisconnectionRepo) ListBySubscriber(_ context.Context, subscriberID uint) ([]models.Disconnection, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Disconnection
	for i := len(r.db.disconnections) - 1; i >= 0; i-- {
		if r.db.disconnections[i].SubscriberID == subscriberID {
			out = append(out, r.db.disconnections[i])
		}
	}
	return out, nil
}

func (r DisconnectionRepo) Open(_ context.Context, d *models.Disconnection) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.findOpenLocked(d.SubscriberID) >= 0 {
		return repository.ErrAlreadyDisconnected
	}
	d.ID = r.db.id()
	r.db.disconnections = append(r.db.disconnections, *d)
	if u, ok := r.db.usage[d.SubscriberID]; ok {
		u.Exceeded = true
		u.Version++
		r.db.usage[d.SubscriberID] = u
	}
	return nil
}

func (r DisconnectionRepo) Close(_ context.Context, subscriberID uint, by string, at time.Time) (*models.Disconnection, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	i := r.findOpenLocked(subscriberID)
	if i < 0 {
		return nil, repository.ErrNotDisconnected
	}
	r.db.disconnections[i].ReconnectedAt = &at
	r.db.disconnections[i].ReconnectedBy = by
	if u, ok := r.db.usage[subscriberID]; ok {
		u.Exceeded = false
		u.Version++
		r.db.usage[subscriberID] = u
	}
	d := r.db.disconnections[i]
	return &d, nil
}

type FailureRepo struct{ db *DB }

func (r FailureRepo) Create(_ context.Context, f *models.SyncFailure) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	f.ID = r.db.id()
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	r.db.failures[f.ID] = *f
	return nil
}

func (r FailureRepo) GetByID(_ context.Context, id uint) (*models.SyncFailure, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	f, ok := r.db.failures[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &f, nil
}

func (r FailureRepo) FindOpen(_ context.Context, et models.EntityType, id uint, kind models.SyncKind) (*models.SyncFailure, error) {
	for _, f := range r.db.Failures() {
		if f.EntityType == et && f.EntityID == id && f.Kind == kind && !f.IsTerminal() {
			return &f, nil
		}
	}
	return nil, nil
}

func (r FailureRepo) List(_ context.Context, status models.SyncFailureStatus, offset, limit int) ([]models.SyncFailure, error) {
	var out []models.SyncFailure
	all := r.db.Failures()
	for i := len(all) - 1; i >= 0; i-- {
		if status == "" || all[i].Status == status {
			out = append(out, all[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r FailureRepo) ListDue(_ context.Context, now time.Time, limit int) ([]models.SyncFailure, error) {
	var out []models.SyncFailure
	for _, f := range r.db.Failures() {
		if f.IsDue(now) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r FailureRepo) Claim(_ context.Context, id uint, now time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	f, ok := r.db.failures[id]
	if !ok || !f.IsDue(now) {
		return false, nil
	}
	f.Status = models.SyncFailureRetrying
	f.LastAttemptAt = &now
	r.db.failures[id] = f
	return true, nil
}

func (r FailureRepo) Transition(_ context.Context, f *models.SyncFailure, from models.SyncFailureStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.failures[f.ID]
	if !ok || stored.Status != from {
		return repository.ErrConflict
	}
	f.UpdatedAt = time.Now()
	r.db.failures[f.ID] = *f
	return nil
}

func (r FailureRepo) PurgeTerminal(_ context.Context, before time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, f := range r.db.failures {
		if (f.Status == models.SyncFailureResolved || f.Status == models.SyncFailureFailed) && f.UpdatedAt.Before(before) {
			delete(r.db.failures, id)
			n++
		}
	}
	return n, nil
}

// Touch overrides the last update time of a stored failure
func (db *DB) Touch(id uint, at time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	f := db.failures[id]
	f.UpdatedAt = at
	db.failures[id] = f
}

type AuditRepo struct{ db *DB }

func (r AuditRepo) Append(_ context.Context, a *models.VerificationAudit) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.audits = append(r.db.audits, *a)
	return nil
}

func (r AuditRepo) ListByUsername(_ context.Context, username string, limit int) ([]models.VerificationAudit, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.VerificationAudit
	for i := len(r.db.audits) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.db.audits[i].Username == username {
			out = append(out, r.db.audits[i])
		}
	}
	return out, nil
}

func (r AuditRepo) Purge(_ context.Context, before time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	kept := r.db.audits[:0]
	var n int64
	for _, a := range r.db.audits {
		if a.CheckedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.db.audits = kept
	return n, nil
}

type JobStatsRepo struct{ db *DB }

func (r JobStatsRepo) RecordRun(_ context.Context, job string, payload []byte, processed, failed int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.jobRuns[job] = payload
	r.db.jobTotals[job+":runs"] = incr(r.db.jobTotals[job+":runs"], 1)
	r.db.jobTotals[job+":processed"] = incr(r.db.jobTotals[job+":processed"], processed)
	r.db.jobTotals[job+":failed"] = incr(r.db.jobTotals[job+":failed"], failed)
	return nil
}

func (r JobStatsRepo) LastRun(_ context.Context, job string) ([]byte, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.jobRuns[job], nil
}

func (r JobStatsRepo) Totals(_ context.Context) (map[string]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make(map[string]string, len(r.db.jobTotals))
	for k, v := range r.db.jobTotals {
		out[k] = v
	}
	return out, nil
}

func incr(v string, n int) string {
	cur, _ := strconv.Atoi(v)
	return strconv.Itoa(cur + n)
}
