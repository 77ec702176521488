package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const runKeyPrefix = "acqbridge:run:"

// RedisRunRepository stores runs as JSON with a sorted index by start time.
// Records expire after ttl; stale index entries are pruned on listing.
type RedisRunRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRunRepository(client *redis.Client, ttl time.Duration) ports.RunRepository {
	return &RedisRunRepository{
		client: client,
		prefix: runKeyPrefix,
		ttl:    ttl,
	}
}

func (r *RedisRunRepository) runKey(id string) string {
	return r.prefix + id
}

func (r *RedisRunRepository) indexKey() string {
	return r.prefix + "index"
}

func (r *RedisRunRepository) Create(ctx context.Context, run *domain.AcquisitionRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.runKey(run.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to set run in Redis: %w", err)
	}
	if !created {
		return fmt.Errorf("run already exists: %s", run.ID)
	}

	member := redis.Z{Score: float64(run.StartedAt.UnixNano()), Member: run.ID}
	if err := r.client.ZAdd(ctx, r.indexKey(), member).Err(); err != nil {
		return fmt.Errorf("failed to index run: %w", err)
	}
	return nil
}

func (r *RedisRunRepository) Update(ctx context.Context, run *domain.AcquisitionRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	updated, err := r.client.SetXX(ctx, r.runKey(run.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update run in Redis: %w", err)
	}
	if !updated {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *RedisRunRepository) GetByID(ctx context.Context, id string) (*domain.AcquisitionRun, error) {
	data, err := r.client.Get(ctx, r.runKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run from Redis: %w", err)
	}

	var run domain.AcquisitionRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

func (r *RedisRunRepository) ListRecent(ctx context.Context, limit int) ([]*domain.AcquisitionRun, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs from Redis: %w", err)
	}

	runs := make([]*domain.AcquisitionRun, 0, len(ids))
	for _, id := range ids {
		run, err := r.GetByID(ctx, id)
		if err == domain.ErrRunNotFound {
			// expired record
			r.client.ZRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}
