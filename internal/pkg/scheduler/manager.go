package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuelReschke/HotspotSync/internal/pkg/clock"
	"github.com/gofiber/fiber/v2/log"
)

// Intervals configures how often the Manager triggers each job. A zero
// interval disables that ticker.
type Intervals struct {
	Cycle   time.Duration
	Retry   time.Duration
	Verify  time.Duration
	Cleanup time.Duration
}

// Manager drives the Runner on tickers inside the long-running process
type Manager struct {
	runner    *Runner
	intervals Intervals
	clock     clock.Clock
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

func NewManager(r *Runner, iv Intervals) *Manager {
	return &Manager{runner: r, intervals: iv, clock: r.deps.Clock}
}

// Start launches one ticker worker per configured job
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	log.Info("[Scheduler] Starting background jobs")

	m.startWorker(ctx, JobUsageCycle, m.intervals.Cycle)
	m.startWorker(ctx, JobRetry, m.intervals.Retry)
	m.startWorker(ctx, JobVerify, m.intervals.Verify)
	m.startWorker(ctx, JobCleanup, m.intervals.Cleanup)

	log.Info("[Scheduler] Started successfully")
}

func (m *Manager) startWorker(ctx context.Context, job Job, interval time.Duration) {
	if interval <= 0 {
		log.Infof("[Scheduler] %s disabled", job)
		return
	}
	m.wg.Add(1)
	go m.worker(ctx, job, interval)
}

func (m *Manager) worker(ctx context.Context, job Job, interval time.Duration) {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	log.Infof("[Scheduler] Started %s worker (interval: %s)", job, interval)

	for {
		select {
		case <-ctx.Done():
			log.Infof("[Scheduler] %s worker stopping", job)
			return
		case <-ticker.Chan():
			if _, err := m.runner.Run(ctx, job); err != nil {
				if errors.Is(err, ErrJobRunning) {
					log.Debugf("[Scheduler] Skipping %s tick: previous run still active", job)
					continue
				}
				log.Errorf("[Scheduler] %s failed: %v", job, err)
			}
		}
	}
}

// Stop cancels running jobs and waits for the workers to exit
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[Scheduler] Stopping background jobs...")
	m.cancel()
	m.wg.Wait()
	m.running = false
	log.Info("[Scheduler] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
