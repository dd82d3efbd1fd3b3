// Package engine assembles the synchronization, accounting, enforcement and
// verification components from configuration and their collaborators.
package engine

import (
	"github.com/ManuelReschke/HotspotSync/app/repository"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/aaa"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/config"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/enforcement"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/entitlements"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/operator"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/retryledger"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/routeragent"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/scheduler"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/syncer"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/usage"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/verify"
)

// Engine holds every wired component
type Engine struct {
	Repos       *repository.Repositories
	Resolver    *entitlements.Resolver
	Ledger      *retryledger.Ledger
	Syncer      *syncer.Orchestrator
	Accumulator *usage.Accumulator
	Enforcement *enforcement.Engine
	Verifier    *verify.Verifier
	Operator    *operator.Service
	Runner      *scheduler.Runner
}

// New wires the components. The AAA store doubles as the accounting source.
func New(cfg *config.Config, repos *repository.Repositories, store aaa.Store, router routeragent.Client, c clock.Clock) *Engine {
	if c == nil {
		c = clock.Real()
	}
	e := &Engine{Repos: repos}
	e.Resolver = entitlements.NewResolver(repos.Policy, repos.Cohort)
	e.Ledger = retryledger.New(repos.SyncFailure, retryledger.Options{
		MaxRetries: cfg.Retry.MaxRetries,
		Backoff: retryledger.Backoff{
			Base:   cfg.Retry.BackoffBase,
			Factor: cfg.Retry.BackoffFactor,
			Max:    cfg.Retry.BackoffMax,
		},
		Retention: cfg.Retry.Retention,
		BatchSize: cfg.Retry.BatchSize,
		Workers:   cfg.WorkerCount,
		Clock:     c,
	})
	e.Syncer = syncer.New(syncer.Deps{
		Policies:       repos.Policy,
		Cohorts:        repos.Cohort,
		Subscribers:    repos.Subscriber,
		Disconnections: repos.Disconnection,
		Resolver:       e.Resolver,
		AAA:            store,
		Router:         router,
		Ledger:         e.Ledger,
		Workers:        cfg.WorkerCount,
		Clock:          c,
	})
	e.Syncer.RegisterRetryHandlers(e.Ledger)

	e.Accumulator = usage.NewAccumulator(repos.Subscriber, repos.Usage, store, cfg.WorkerCount, c)
	e.Enforcement = enforcement.NewEngine(enforcement.Deps{
		Subscribers:    repos.Subscriber,
		Usage:          repos.Usage,
		Disconnections: repos.Disconnection,
		Resolver:       e.Resolver,
		Access:         e.Syncer,
		Workers:        cfg.WorkerCount,
		Clock:          c,
	})
	e.Verifier = verify.New(verify.Deps{
		Subscribers: repos.Subscriber,
		Audits:      repos.Verification,
		Resolver:    e.Resolver,
		AAA:         store,
		Router:      router,
		Workers:     cfg.WorkerCount,
		Clock:       c,
	})
	e.Operator = operator.NewService(operator.Deps{
		Policies:       repos.Policy,
		Cohorts:        repos.Cohort,
		Subscribers:    repos.Subscriber,
		Usage:          repos.Usage,
		Disconnections: repos.Disconnection,
		Totals:         store,
		Resolver:       e.Resolver,
		Syncer:         e.Syncer,
		Enforcement:    e.Enforcement,
		Ledger:         e.Ledger,
		Verifier:       e.Verifier,
		Clock:          c,
	})
	e.Runner = scheduler.NewRunner(scheduler.Deps{
		Accumulator:    e.Accumulator,
		Enforcer:       e.Enforcement,
		Ledger:         e.Ledger,
		Verifier:       e.Verifier,
		Audits:         repos.Verification,
		Stats:          repos.JobStats,
		AuditRetention: cfg.Retry.Retention,
		Clock:          c,
	})
	return e
}

// Manager returns a ticker manager using the configured intervals
func (e *Engine) Manager(cfg *config.Config) *scheduler.Manager {
	return scheduler.NewManager(e.Runner, scheduler.Intervals{
		Cycle:   cfg.Scheduler.CycleInterval,
		Retry:   cfg.Scheduler.RetryInterval,
		Verify:  cfg.Scheduler.VerifyInterval,
		Cleanup: cfg.Scheduler.CleanupInterval,
	})
}
