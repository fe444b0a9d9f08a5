package checkpoint

import (
	"context"
	"fmt"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/internal/database"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/retry"
	"github.com/BaSui01/agentgraph/internal/tlsutil"
	"github.com/BaSui01/agentgraph/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewStoreFromConfig 按配置创建存储后端
func NewStoreFromConfig(ctx context.Context, cfg config.CheckpointConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil

	case "redis":
		opts := &redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}
		if cfg.Redis.TLS {
			opts.TLSConfig = tlsutil.ClientConfig(cfg.Redis.Addr)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisStore(client, cfg.KeyPrefix, cfg.TTL, logger), nil

	case "database":
		pool, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(pool.DB(), logger)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		store.closer = pool
		return store, nil

	case "mongo":
		return DialMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection, cfg.Mongo.Timeout, logger)

	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unknown checkpoint backend %q", cfg.Backend)
	}
}

// NewManagerFromConfig 按配置创建存储与管理器
func NewManagerFromConfig(ctx context.Context, cfg config.CheckpointConfig, collector *metrics.Collector, logger *zap.Logger) (*Manager, error) {
	store, err := NewStoreFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "memory"
	}
	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.Retry.MaxRetries
	if cfg.Retry.InitialDelay > 0 {
		policy.InitialDelay = cfg.Retry.InitialDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		policy.MaxDelay = cfg.Retry.MaxDelay
	}
	return NewManager(store,
		WithBackendName(backend),
		WithRetryPolicy(policy),
		WithMetrics(collector),
		WithLogger(logger),
	), nil
}
