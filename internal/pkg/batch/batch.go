// Package batch runs per-entity work on a bounded worker pool and collects
// the outcome into a summary that never hides individual failures.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Failure names one entity that could not be processed and why
type Failure struct {
	Entity string `json:"entity"`
	Reason string `json:"reason"`
}

// Summary is the result of one batch run
type Summary struct {
	Job        string         `json:"job"`
	RunID      string         `json:"run_id,omitempty"`
	Processed  int            `json:"processed"`
	Succeeded  int            `json:"succeeded"`
	Failed     []Failure      `json:"failed"`
	Counts     map[string]int `json:"counts,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// FailedCount is the number of entities that failed
func (s Summary) FailedCount() int {
	return len(s.Failed)
}

// Run calls fn for every item with at most workers in flight. Items not yet
// started when ctx is cancelled are skipped; they are picked up by the next run.
func Run[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T)) {
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
}

// Collector accumulates a Summary from concurrent workers
type Collector struct {
	mu sync.Mutex
	s  Summary
}

func NewCollector(job string, startedAt time.Time) *Collector {
	return &Collector{s: Summary{Job: job, Failed: []Failure{}, StartedAt: startedAt}}
}

// Succeed counts one processed entity
func (c *Collector) Succeed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Processed++
	c.s.Succeeded++
}

// Fail counts one processed entity that failed
func (c *Collector) Fail(entity string, err error) {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Processed++
	c.s.Failed = append(c.s.Failed, Failure{Entity: entity, Reason: reason})
}

// Count bumps a named counter without touching processed totals
func (c *Collector) Count(key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.Counts == nil {
		c.s.Counts = make(map[string]int)
	}
	c.s.Counts[key] += n
}

// Finish returns the summary with failures sorted by entity
func (c *Collector) Finish(finishedAt time.Time) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.s
	out.Failed = append([]Failure{}, c.s.Failed...)
	sort.Slice(out.Failed, func(i, j int) bool { return out.Failed[i].Entity < out.Failed[j].Entity })
	if c.s.Counts != nil {
		out.Counts = make(map[string]int, len(c.s.Counts))
		for k, v := range c.s.Counts {
			out.Counts[k] = v
		}
	}
	out.FinishedAt = finishedAt
	return out
}
