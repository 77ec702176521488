package redis

import (
	"context"
	"fmt"
	"time"

	"acqbridge/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient creates a pooled client, retrying the initial ping with backoff.
func NewRedisClient(ctx context.Context, address, password string, db, poolSize int, logger *zap.SugaredLogger) (*redis.Client, error) {
	// StopSequence writes the final run record through this client.
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		ClientName:   "acqbridge",
	})

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 3
	err := retry.Retry(ctx, retryCfg, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if err := EnsureSchema(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, err
	}

	if logger != nil {
		logger.Infow("connected to run store", "address", address, "db", db)
	}

	return client, nil
}

func CloseRedisClient(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
