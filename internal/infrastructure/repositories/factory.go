package repositories

import (
	"context"

	"roomwatch/internal/core/ports"
	"roomwatch/internal/infrastructure/repositories/memory"
	redisrepo "roomwatch/internal/infrastructure/repositories/redis"
	"roomwatch/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	cfg         *config.Config
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// memory storage when it cannot.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		cfg:    cfg,
		logger: logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,

			ConnectAttempts: cfg.Redis.ConnectAttempts,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if factory.redisClient == nil {
		logger.Info("using memory repositories")
	}
	return factory
}

func (f *RepositoryFactory) UsesRedis() bool {
	return f.redisClient != nil
}

// RedisClient is nil when memory storage is in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) CreateReportRepository() ports.ReportRepository {
	if f.redisClient != nil {
		return redisrepo.NewRedisReportRepository(f.redisClient, f.cfg.Redis.ReportTTL)
	}
	return memory.NewMemoryReportRepository()
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
