package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/BaSui01/agentgraph/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore 基于 Redis 的检查点存储。
// 快照以 JSON 字符串保存，执行 ID 另存于一个集合用于枚举。
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore 创建 Redis 存储；ttl 为 0 表示不过期
func NewRedisStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "agentgraph:checkpoint:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "checkpoint_redis")),
	}
}

func (s *RedisStore) dataKey(id string) string {
	return s.keyPrefix + "data:" + id
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "index"
}

// Save implements Store.
//
// 在 WATCH 下读取已保存快照的时间戳，较新时拒绝写入；
// 并发修改导致事务失败时返回可重试的 I/O 错误。
func (s *RedisStore) Save(ctx context.Context, executionID string, cp *GraphCheckpoint) error {
	data, stamp, err := encode(executionID, cp)
	if err != nil {
		return err
	}
	key := s.dataKey(executionID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var prev struct {
				Timestamp time.Time `json:"timestamp"`
			}
			if err := json.Unmarshal(cur, &prev); err == nil && prev.Timestamp.UnixNano() > stamp {
				return ErrStale
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.SAdd(ctx, s.indexKey(), executionID)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale):
		return err
	case errors.Is(err, redis.TxFailedErr):
		s.logger.Debug("concurrent checkpoint write detected", zap.String("execution_id", executionID))
		return ioError("save", executionID, err).WithRetryable(true)
	default:
		return ioError("save", executionID, err).WithRetryable(isTransient(err))
	}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, executionID string) (*GraphCheckpoint, error) {
	data, err := s.client.Get(ctx, s.dataKey(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(executionID)
	}
	if err != nil {
		return nil, ioError("load", executionID, err).WithRetryable(isTransient(err))
	}
	return decode(data)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, executionID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.dataKey(executionID))
		pipe.SRem(ctx, s.indexKey(), executionID)
		return nil
	})
	if err != nil {
		return ioError("delete", executionID, err).WithRetryable(isTransient(err))
	}
	return nil
}

// List implements Store. 已过期的快照会从索引中清除。
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	pipe := s.client.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, s.dataKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	live := make([]string, 0, len(ids))
	var expired []any
	for i, id := range ids {
		if exists[i].Val() > 0 {
			live = append(live, id)
		} else {
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			s.logger.Warn("failed to prune checkpoint index", zap.Error(err))
		}
	}
	sort.Strings(live)
	return live, nil
}

// Ping 检查连接
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 关闭客户端
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// isTransient 连接类错误可重试，上下文错误不可重试
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if _, ok := types.AsError(err); ok {
		return types.IsRetryable(err)
	}
	return true
}
