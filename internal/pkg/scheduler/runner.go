// Package scheduler owns the batch entry points (accumulate, enforce, retry,
// verify, cleanup), their ordering and their bookkeeping.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuelReschke/HotspotSync/app/repository"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/batch"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/metrics"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/verify"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// Job names a batch entry point
type Job string

const (
	JobAccumulate Job = "accumulate"
	JobEnforce    Job = "enforce"
	JobUsageCycle Job = "usage_cycle"
	JobRetry      Job = "retry"
	JobVerify     Job = "verify"
	JobCleanup    Job = "cleanup"
)

// Jobs lists every job in the order an operator would run them by hand
var Jobs = []Job{JobAccumulate, JobEnforce, JobUsageCycle, JobRetry, JobVerify, JobCleanup}

var (
	ErrJobRunning = errors.New("job is already running")
	ErrUnknownJob = errors.New("unknown job")
)

// ParseJob accepts the job name with either "_" or "-" separators
func ParseJob(s string) (Job, error) {
	for _, j := range Jobs {
		if string(j) == s || dashed(j) == s {
			return j, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJob, s)
}

func dashed(j Job) string {
	b := []byte(j)
	for i := range b {
		if b[i] == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

// BatchJob is any engine that processes all entities in one pass
type BatchJob interface {
	Run(ctx context.Context) (batch.Summary, error)
}

// RetryLedger is the part of the retry ledger the scheduler drives
type RetryLedger interface {
	ProcessDue(ctx context.Context) (batch.Summary, error)
	Cleanup(ctx context.Context) (int64, error)
}

// BulkVerifier verifies every live session
type BulkVerifier interface {
	VerifyAll(ctx context.Context) (*verify.Report, error)
}

// Deps wires a Runner
type Deps struct {
	Accumulator    BatchJob
	Enforcer       BatchJob
	Ledger         RetryLedger
	Verifier       BulkVerifier
	Audits         repository.VerificationAuditRepository
	Stats          repository.JobStatsRepository
	AuditRetention time.Duration
	Clock          clock.Clock
}

// Runner executes jobs. A job never overlaps with itself; usage_cycle also
// excludes standalone accumulate and enforce runs.
type Runner struct {
	deps  Deps
	locks map[Job]*sync.Mutex
}

func NewRunner(d Deps) *Runner {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	r := &Runner{deps: d, locks: make(map[Job]*sync.Mutex)}
	for _, j := range []Job{JobAccumulate, JobEnforce, JobRetry, JobVerify, JobCleanup} {
		r.locks[j] = &sync.Mutex{}
	}
	return r
}

func (r *Runner) lockSet(job Job) []Job {
	if job == JobUsageCycle {
		return []Job{JobAccumulate, JobEnforce}
	}
	return []Job{job}
}

func (r *Runner) tryLock(job Job) (func(), bool) {
	var held []*sync.Mutex
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
	for _, j := range r.lockSet(job) {
		mu := r.locks[j]
		if !mu.TryLock() {
			release()
			return nil, false
		}
		held = append(held, mu)
	}
	return release, true
}

// Run executes job once and records its summary
func (r *Runner) Run(ctx context.Context, job Job) (batch.Summary, error) {
	run, ok := r.dispatch(job)
	if !ok {
		return batch.Summary{}, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	release, ok := r.tryLock(job)
	if !ok {
		return batch.Summary{}, fmt.Errorf("%w: %s", ErrJobRunning, job)
	}
	defer release()

	runID := uuid.New().String()
	started := r.deps.Clock.Now()
	log.Infof("[Scheduler] Starting %s (run %s)", job, runID)

	s, err := run(ctx)
	s.Job = string(job)
	s.RunID = runID
	if s.StartedAt.IsZero() {
		s.StartedAt = started
	}
	if s.FinishedAt.IsZero() {
		s.FinishedAt = r.deps.Clock.Now()
	}
	if s.Failed == nil {
		s.Failed = []batch.Failure{}
	}

	metrics.ObserveJob(string(job), s.FinishedAt.Sub(s.StartedAt))
	r.record(ctx, s)
	if err != nil {
		log.Errorf("[Scheduler] %s aborted: %v", job, err)
		return s, err
	}
	log.Infof("[Scheduler] Finished %s: processed=%d succeeded=%d failed=%d", job, s.Processed, s.Succeeded, s.FailedCount())
	return s, nil
}

func (r *Runner) dispatch(job Job) (func(context.Context) (batch.Summary, error), bool) {
	switch job {
	case JobAccumulate:
		return r.deps.Accumulator.Run, true
	case JobEnforce:
		return r.deps.Enforcer.Run, true
	case JobUsageCycle:
		return r.usageCycle, true
	case JobRetry:
		return r.deps.Ledger.ProcessDue, true
	case JobVerify:
		return r.verify, true
	case JobCleanup:
		return r.cleanup, true
	}
	return nil, false
}

func (r *Runner) Accumulate(ctx context.Context) (batch.Summary, error) {
	return r.Run(ctx, JobAccumulate)
}

func (r *Runner) Enforce(ctx context.Context) (batch.Summary, error) {
	return r.Run(ctx, JobEnforce)
}

// UsageCycle accumulates and then enforces. Enforcement is skipped when
// accumulation could not run, so limits are never evaluated on stale counters.
func (r *Runner) UsageCycle(ctx context.Context) (batch.Summary, error) {
	return r.Run(ctx, JobUsageCycle)
}

func (r *Runner) RetryDue(ctx context.Context) (batch.Summary, error) {
	return r.Run(ctx, JobRetry)
}

func (r *Runner) VerifyAll(ctx context.Context) (batch.Summary, error) {
	return r.Run(ctx, JobVerify)
}

func (r *Runner) Cleanup(ctx context.Context) (batch.Summary, error) {
	return r.Run(ctx, JobCleanup)
}

func (r *Runner) usageCycle(ctx context.Context) (batch.Summary, error) {
	acc, err := r.deps.Accumulator.Run(ctx)
	if err != nil {
		acc.Counts = prefixed("accumulate", acc.Counts)
		return acc, fmt.Errorf("accumulate: %w; enforcement skipped", err)
	}
	enf, err := r.deps.Enforcer.Run(ctx)
	out := batch.Summary{
		Processed:  acc.Processed + enf.Processed,
		Succeeded:  acc.Succeeded + enf.Succeeded,
		Failed:     append(append([]batch.Failure{}, acc.Failed...), enf.Failed...),
		Counts:     prefixed("accumulate", acc.Counts),
		StartedAt:  acc.StartedAt,
		FinishedAt: enf.FinishedAt,
	}
	for k, v := range prefixed("enforce", enf.Counts) {
		out.Counts[k] = v
	}
	if err != nil {
		return out, fmt.Errorf("enforce: %w", err)
	}
	return out, nil
}

func prefixed(prefix string, counts map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[prefix+"."+k] = v
	}
	return out
}

func (r *Runner) verify(ctx context.Context) (batch.Summary, error) {
	started := r.deps.Clock.Now()
	report, err := r.deps.Verifier.VerifyAll(ctx)
	if err != nil {
		return batch.Summary{StartedAt: started, Counts: map[string]int{string(verify.StatusProviderError): 1}}, err
	}
	return report.Summary(started), nil
}

func (r *Runner) cleanup(ctx context.Context) (batch.Summary, error) {
	col := batch.NewCollector(string(JobCleanup), r.deps.Clock.Now())
	n, err := r.deps.Ledger.Cleanup(ctx)
	if err != nil {
		col.Fail("sync_failures", err)
	} else {
		col.Count("sync_failures_purged", int(n))
		col.Succeed()
	}

	if r.deps.Audits != nil && r.deps.AuditRetention > 0 {
		n, err := r.deps.Audits.Purge(ctx, r.deps.Clock.Now().Add(-r.deps.AuditRetention))
		if err != nil {
			col.Fail("verification_audits", err)
		} else {
			col.Count("audits_purged", int(n))
			col.Succeed()
		}
	}
	return col.Finish(r.deps.Clock.Now()), nil
}

func (r *Runner) record(ctx context.Context, s batch.Summary) {
	if r.deps.Stats == nil {
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		log.Warnf("[Scheduler] Could not encode %s summary: %v", s.Job, err)
		return
	}
	if err := r.deps.Stats.RecordRun(ctx, s.Job, payload, s.Processed, s.FailedCount()); err != nil {
		log.Warnf("[Scheduler] Could not record %s run: %v", s.Job, err)
	}
}

// Stats is the bookkeeping an operator sees for every job
type Stats struct {
	Last   map[string]*batch.Summary `json:"last"`
	Totals map[string]string         `json:"totals"`
}

// Stats returns the last summary of each job and the cumulative counters
func (r *Runner) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{Last: make(map[string]*batch.Summary), Totals: map[string]string{}}
	if r.deps.Stats == nil {
		return out, nil
	}
	for _, j := range Jobs {
		raw, err := r.deps.Stats.LastRun(ctx, string(j))
		if err != nil {
			return nil, fmt.Errorf("load last %s run: %w", j, err)
		}
		if raw == nil {
			continue
		}
		var s batch.Summary
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode last %s run: %w", j, err)
		}
		out.Last[string(j)] = &s
	}
	totals, err := r.deps.Stats.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("load job totals: %w", err)
	}
	if totals != nil {
		out.Totals = totals
	}
	return out, nil
}
