package repositories

import (
	"context"

	"acqbridge/internal/core/ports"
	"acqbridge/internal/infrastructure/repositories/memory"
	redisrepo "acqbridge/internal/infrastructure/repositories/redis"
	"acqbridge/pkg/circuitbreaker"
	"acqbridge/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	cfg         *config.Config
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to memory on failure.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		cfg:      cfg,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx,
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

func (f *RepositoryFactory) CreateRunRepository() ports.RunRepository {
	if f.useRedis && f.redisClient != nil {
		return newGuardedRunRepository(
			redisrepo.NewRedisRunRepository(f.redisClient, f.cfg.Redis.RunTTL),
			f.newBreaker("run store"),
		)
	}
	return memory.NewMemoryRunRepository()
}

func (f *RepositoryFactory) newBreaker(name string) *circuitbreaker.Breaker {
	b := circuitbreaker.New(name, circuitbreaker.Config{
		FailureThreshold: f.cfg.Redis.BreakerThreshold,
		SuccessThreshold: 1,
		Cooldown:         f.cfg.Redis.BreakerCooldown,
		MaxProbes:        1,
		IsFailure:        isStoreFailure,
	})
	b.OnStateChange(func(name string, from, to circuitbreaker.State) {
		f.logger.Warnw("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})
	return b
}

// RedisClient returns nil when running on memory repositories.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}
