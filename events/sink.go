package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
)

// Kind 事件信封类型
type Kind string

const (
	KindAgentEvent Kind = "agent_event"
	KindGateResult Kind = "gate_result"
	KindUnitStatus Kind = "unit_status"
	KindRunStatus  Kind = "run_status"
)

// Envelope 是投递给观察者的事件
type Envelope struct {
	Kind        Kind      `json:"kind"`
	ExecutionID string    `json:"execution_id,omitempty"`
	NodeID      string    `json:"node_id,omitempty"`
	UnitID      string    `json:"unit_id,omitempty"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// OverflowPolicy 缓冲区满时的处理策略
type OverflowPolicy string

const (
	DropOldest  OverflowPolicy = "drop_oldest"
	ErrorOnFull OverflowPolicy = "error_on_full"
)

// Publisher 是生产者侧的最小接口
type Publisher interface {
	Publish(env Envelope) error
}

// Sink 有界事件出口
type Sink struct {
	mu      sync.Mutex
	ch      chan Envelope
	policy  OverflowPolicy
	closed  bool
	dropped atomic.Int64
	logger  *zap.Logger
}

// NewSink 创建事件出口，size < 1 时使用 1
func NewSink(size int, policy OverflowPolicy, logger *zap.Logger) *Sink {
	if size < 1 {
		size = 1
	}
	if policy == "" {
		policy = DropOldest
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		ch:     make(chan Envelope, size),
		policy: policy,
		logger: logger.With(zap.String("component", "event_sink")),
	}
}

// Publish 投递事件，从不阻塞
func (s *Sink) Publish(env Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	for {
		select {
		case s.ch <- env:
			return nil
		default:
		}

		if s.policy == ErrorOnFull {
			s.dropped.Add(1)
			return types.NewError(types.ErrSinkFull, "event sink buffer is full").
				WithRetryable(true)
		}

		// 丢弃最旧的一条后重试；消费者可能已并发取走，继续循环即可
		select {
		case old := <-s.ch:
			s.dropped.Add(1)
			s.logger.Debug("dropped oldest event",
				zap.String("kind", string(old.Kind)),
				zap.String("execution_id", old.ExecutionID),
			)
		default:
		}
	}
}

// C 返回消费通道，Close 后关闭
func (s *Sink) C() <-chan Envelope {
	return s.ch
}

// Dropped 返回已丢弃（或被拒绝）的事件数
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close 关闭出口，之后的 Publish 被忽略
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Discard 丢弃所有事件的 Publisher
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Envelope) error { return nil }
