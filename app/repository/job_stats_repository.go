package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/HotspotSync/internal/pkg/cache"
	"github.com/redis/go-redis/v9"
)

const (
	jobLastKeyPrefix = "jobs:last:"
	jobStatsKey      = "jobs:stats"
	jobLastTTL       = 7 * 24 * time.Hour
)

// jobStatsRepository keeps the last summary per job and running counters in Redis
type jobStatsRepository struct {
	client *redis.Client
}

// NewJobStatsRepository creates a job stats repository on the shared cache client
func NewJobStatsRepository() JobStatsRepository {
	return &jobStatsRepository{}
}

// NewJobStatsRepositoryWithClient binds the repository to an explicit client
func NewJobStatsRepositoryWithClient(client *redis.Client) JobStatsRepository {
	return &jobStatsRepository{client: client}
}

func (r *jobStatsRepository) redis() *redis.Client {
	if r.client != nil {
		return r.client
	}
	return cache.GetClient()
}

// RecordRun stores the encoded summary and bumps the per-job counters in one pipeline.
func (r *jobStatsRepository) RecordRun(ctx context.Context, job string, payload []byte, processed, failed int) error {
	pipe := r.redis().TxPipeline()
	pipe.Set(ctx, jobLastKeyPrefix+job, payload, jobLastTTL)
	pipe.HIncrBy(ctx, jobStatsKey, job+":runs", 1)
	pipe.HIncrBy(ctx, jobStatsKey, job+":processed", int64(processed))
	pipe.HIncrBy(ctx, jobStatsKey, job+":failed", int64(failed))
	_, err := pipe.Exec(ctx)
	return err
}

// LastRun returns the encoded summary of the latest run, or nil when unknown
func (r *jobStatsRepository) LastRun(ctx context.Context, job string) ([]byte, error) {
	val, err := r.redis().Get(ctx, jobLastKeyPrefix+job).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (r *jobStatsRepository) Totals(ctx context.Context) (map[string]string, error) {
	return r.redis().HGetAll(ctx, jobStatsKey).Result()
}
