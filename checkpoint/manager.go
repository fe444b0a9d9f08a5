package checkpoint

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/retry"
	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
)

// Manager 在 Store 之上提供：
//   - 同一执行 ID 的写入串行化
//   - 严格递增的快照时间戳
//   - 瞬时 I/O 错误的有限次退避重试（不存在与过期写入不重试）
type Manager struct {
	store   Store
	backend string
	retryer retry.Retryer
	metrics *metrics.Collector
	logger  *zap.Logger

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	lastStamp map[string]time.Time
}

// ManagerOption 配置 Manager
type ManagerOption func(*managerOptions)

type managerOptions struct {
	backend string
	policy  *retry.Policy
	metrics *metrics.Collector
	logger  *zap.Logger
}

// WithBackendName 设置指标中的后端名称
func WithBackendName(name string) ManagerOption {
	return func(o *managerOptions) { o.backend = name }
}

// WithRetryPolicy 设置瞬时错误的重试策略
func WithRetryPolicy(p *retry.Policy) ManagerOption {
	return func(o *managerOptions) { o.policy = p }
}

// WithMetrics 启用检查点指标
func WithMetrics(c *metrics.Collector) ManagerOption {
	return func(o *managerOptions) { o.metrics = c }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = logger }
}

// NewManager 创建检查点管理器
func NewManager(store Store, opts ...ManagerOption) *Manager {
	o := managerOptions{backend: "memory"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.With(zap.String("component", "checkpoint_manager"))

	policy := retry.DefaultPolicy()
	if o.policy != nil {
		p := *o.policy
		policy = &p
	}
	policy.ShouldRetry = shouldRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("checkpoint operation failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	return &Manager{
		store:     store,
		backend:   o.backend,
		retryer:   retry.NewBackoffRetryer(policy, logger),
		metrics:   o.metrics,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
		lastStamp: make(map[string]time.Time),
	}
}

func shouldRetry(err error) bool {
	if errors.Is(err, ErrStale) || errors.Is(err, ErrNotFound) {
		return false
	}
	return types.IsRetryable(err)
}

// Store 返回底层存储
func (m *Manager) Store() Store { return m.store }

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// nextStamp 返回严格晚于该执行上一次写入的时间戳
func (m *Manager) nextStamp(id string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if last, ok := m.lastStamp[id]; ok && !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	m.lastStamp[id] = now
	return now
}

// Save 保存快照。会填写 cp 的格式版本与时间戳。
func (m *Manager) Save(ctx context.Context, cp *GraphCheckpoint) error {
	if cp == nil || cp.ExecutionID == "" {
		return types.NewError(types.ErrCheckpointIO, "checkpoint has no execution id")
	}
	l := m.lockFor(cp.ExecutionID)
	l.Lock()
	defer l.Unlock()

	if cp.FormatVersion == 0 {
		cp.FormatVersion = FormatVersion
	}
	cp.Timestamp = m.nextStamp(cp.ExecutionID)

	start := time.Now()
	err := m.retryer.Do(ctx, func() error {
		return m.store.Save(ctx, cp.ExecutionID, cp)
	})
	m.metrics.RecordCheckpointOp(m.backend, "save", err, time.Since(start))
	if err != nil {
		m.logger.Error("checkpoint save failed",
			zap.String("execution_id", cp.ExecutionID),
			zap.String("node_id", cp.CurrentNode),
			zap.Error(err),
		)
		return err
	}

	m.logger.Debug("checkpoint saved",
		zap.String("execution_id", cp.ExecutionID),
		zap.String("node_id", cp.CurrentNode),
		zap.String("status", string(cp.Status)),
		zap.Int("iteration", cp.Iteration),
	)
	return nil
}

// Load 读取快照并校验格式版本
func (m *Manager) Load(ctx context.Context, executionID string) (*GraphCheckpoint, error) {
	var cp *GraphCheckpoint
	start := time.Now()
	err := m.retryer.Do(ctx, func() error {
		var err error
		cp, err = m.store.Load(ctx, executionID)
		return err
	})
	m.metrics.RecordCheckpointOp(m.backend, "load", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}

	// 恢复后的写入必须晚于已保存的快照
	m.mu.Lock()
	if cp.Timestamp.After(m.lastStamp[executionID]) {
		m.lastStamp[executionID] = cp.Timestamp
	}
	m.mu.Unlock()
	return cp, nil
}

// Delete 删除快照
func (m *Manager) Delete(ctx context.Context, executionID string) error {
	l := m.lockFor(executionID)
	l.Lock()
	defer l.Unlock()

	start := time.Now()
	err := m.retryer.Do(ctx, func() error {
		return m.store.Delete(ctx, executionID)
	})
	m.metrics.RecordCheckpointOp(m.backend, "delete", err, time.Since(start))
	return err
}

// List 列出全部执行 ID
func (m *Manager) List(ctx context.Context) ([]string, error) {
	var ids []string
	start := time.Now()
	err := m.retryer.Do(ctx, func() error {
		var err error
		ids, err = m.store.List(ctx)
		return err
	})
	m.metrics.RecordCheckpointOp(m.backend, "list", err, time.Since(start))
	return ids, err
}

// Close 关闭底层存储（若支持）
func (m *Manager) Close() error {
	if c, ok := m.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
