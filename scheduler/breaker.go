package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	// CircuitClosed 正常放行
	CircuitClosed CircuitState = iota
	// CircuitOpen 熔断中，不再分配新单元
	CircuitOpen
	// CircuitHalfOpen 冷却结束，放行一次探测
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig 熔断配置
type BreakerConfig struct {
	// FailureThreshold 连续门禁硬失败次数阈值
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// Cooldown 熔断后恢复探测前的等待时间
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`
}

// DefaultBreakerConfig 默认熔断配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	}
}

type breaker struct {
	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool
}

// BreakerSet 按 agent 维护熔断状态。
// 连续多次产出未通过门禁的 agent 会暂时不再被选中，重试改用其他候选。
type BreakerSet struct {
	cfg      BreakerConfig
	breakers map[string]*breaker
	now      func() time.Time
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewBreakerSet 创建熔断器集合
func NewBreakerSet(cfg BreakerConfig, logger *zap.Logger) *BreakerSet {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerSet{
		cfg:      cfg,
		breakers: make(map[string]*breaker),
		now:      time.Now,
		logger:   logger.With(zap.String("component", "agent_breaker")),
	}
}

func (b *BreakerSet) get(agent string) *breaker {
	br, ok := b.breakers[agent]
	if !ok {
		br = &breaker{}
		b.breakers[agent] = br
	}
	return br
}

// Allow 是否可以把单元分配给该 agent
func (b *BreakerSet) Allow(agent string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(agent)
	switch br.state {
	case CircuitOpen:
		if b.now().Sub(br.lastFailure) < b.cfg.Cooldown {
			return false
		}
		b.transition(agent, br, CircuitHalfOpen)
		br.probing = true
		return true
	case CircuitHalfOpen:
		if br.probing {
			return false
		}
		br.probing = true
		return true
	default:
		return true
	}
}

// RecordSuccess 记录产出通过门禁
func (b *BreakerSet) RecordSuccess(agent string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(agent)
	br.failures = 0
	br.probing = false
	if br.state != CircuitClosed {
		b.transition(agent, br, CircuitClosed)
	}
}

// RecordFailure 记录门禁硬失败或执行失败
func (b *BreakerSet) RecordFailure(agent string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(agent)
	br.failures++
	br.lastFailure = b.now()
	br.probing = false

	switch br.state {
	case CircuitClosed:
		if br.failures >= b.cfg.FailureThreshold {
			b.transition(agent, br, CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transition(agent, br, CircuitOpen)
	}
}

// State 返回 agent 的熔断状态
func (b *BreakerSet) State(agent string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if br, ok := b.breakers[agent]; ok {
		return br.state
	}
	return CircuitClosed
}

func (b *BreakerSet) transition(agent string, br *breaker, to CircuitState) {
	b.logger.Info("agent circuit state changed",
		zap.String("agent", agent),
		zap.String("from", br.state.String()),
		zap.String("to", to.String()),
		zap.Int("failures", br.failures),
	)
	br.state = to
}
