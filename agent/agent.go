package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

// DefaultMaxTransferDepth 默认最大转交深度
const DefaultMaxTransferDepth = 10

// streamBuffer 事件通道缓冲大小
const streamBuffer = 16

// Agent 定义统一的执行契约
type Agent interface {
	// ID 返回智能体标识
	ID() string
	// Run 启动执行并返回事件流。通道总由生产者关闭。
	Run(ctx context.Context, rc *RunContext, in Input) <-chan Event
}

// Input 智能体输入
type Input struct {
	Content string         `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
}

// EventType 事件类型
type EventType string

const (
	EventMessage     EventType = "message"
	EventToken       EventType = "token"
	EventToolCall    EventType = "tool_call"
	EventStateUpdate EventType = "state_update"
	EventTransfer    EventType = "transfer"
	EventError       EventType = "error"
)

// Transfer 描述一次运行时转交请求
type Transfer struct {
	Target string `json:"target"`
	Reason string `json:"reason,omitempty"`
	// Input 为空时目标沿用当前输入
	Input *Input `json:"input,omitempty"`
	// Depth 是转交完成后的深度，由驱动填写
	Depth int `json:"depth,omitempty"`
	// Handled 为 true 表示驱动已完成该转交，事件仅供观察
	Handled bool `json:"handled,omitempty"`
}

// Event 执行过程中产生的事件
type Event struct {
	Type         EventType      `json:"type"`
	AgentID      string         `json:"agent_id,omitempty"`
	Branch       string         `json:"branch,omitempty"`
	NodeID       string         `json:"node_id,omitempty"`
	UnitID       string         `json:"unit_id,omitempty"`
	Content      string         `json:"content,omitempty"`
	ToolCall     *llm.ToolCall  `json:"tool_call,omitempty"`
	StateUpdates map[string]any `json:"state_updates,omitempty"`
	Transfer     *Transfer      `json:"transfer,omitempty"`
	Err          error          `json:"-"`
	Timestamp    time.Time      `json:"timestamp"`
}

// MessageEvent 创建消息事件
func MessageEvent(agentID, content string) Event {
	return Event{Type: EventMessage, AgentID: agentID, Content: content, Timestamp: time.Now()}
}

// TokenEvent 创建增量 token 事件
func TokenEvent(agentID, delta string) Event {
	return Event{Type: EventToken, AgentID: agentID, Content: delta, Timestamp: time.Now()}
}

// ToolCallEvent 创建工具调用事件
func ToolCallEvent(agentID string, call llm.ToolCall) Event {
	return Event{Type: EventToolCall, AgentID: agentID, ToolCall: &call, Timestamp: time.Now()}
}

// StateUpdateEvent 创建状态更新事件，键为通道名
func StateUpdateEvent(agentID string, updates map[string]any) Event {
	return Event{Type: EventStateUpdate, AgentID: agentID, StateUpdates: updates, Timestamp: time.Now()}
}

// TransferEvent 创建转交请求事件
func TransferEvent(agentID, target, reason string) Event {
	return Event{
		Type:      EventTransfer,
		AgentID:   agentID,
		Transfer:  &Transfer{Target: target, Reason: reason},
		Timestamp: time.Now(),
	}
}

// ErrorEvent 创建终止错误事件
func ErrorEvent(agentID string, err error) Event {
	err = normalizeError(agentID, err)
	return Event{Type: EventError, AgentID: agentID, Content: err.Error(), Err: err, Timestamp: time.Now()}
}

// normalizeError 把任意错误归入统一错误类型
func normalizeError(agentID string, err error) error {
	if err == nil {
		err = errors.New("unknown error")
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrCanceled, "execution canceled").WithCause(err)
	}
	return types.Errorf(types.ErrAgentFailed, "agent %s failed", agentID).WithCause(err)
}

// StateReader 只读访问共享状态。写入只能经由 state_update 事件由驱动应用。
type StateReader interface {
	Get(channel string) (any, bool)
	Snapshot() map[string]any
}

type emptyState struct{}

func (emptyState) Get(string) (any, bool)   { return nil, false }
func (emptyState) Snapshot() map[string]any { return map[string]any{} }

// RunContext 一次运行中传递给智能体的上下文。转交深度按值传递。
type RunContext struct {
	State            StateReader
	Registry         *Registry
	ExecutionID      string
	SessionID        string
	NodeID           string
	UnitID           string
	TransferDepth    int
	MaxTransferDepth int
}

// NewRunContext 创建默认运行上下文
func NewRunContext(registry *Registry) *RunContext {
	return &RunContext{
		State:            emptyState{},
		Registry:         registry,
		MaxTransferDepth: DefaultMaxTransferDepth,
	}
}

// StateOrEmpty 返回共享状态，未设置时返回空状态
func (rc *RunContext) StateOrEmpty() StateReader {
	if rc == nil || rc.State == nil {
		return emptyState{}
	}
	return rc.State
}

// MaxDepth 返回生效的最大转交深度
func (rc *RunContext) MaxDepth() int {
	if rc == nil || rc.MaxTransferDepth <= 0 {
		return DefaultMaxTransferDepth
	}
	return rc.MaxTransferDepth
}

// WithTransfer 派生转交后的上下文：共享同一状态，深度加一
func (rc *RunContext) WithTransfer() *RunContext {
	next := rc.clone()
	next.TransferDepth++
	return next
}

// WithNode 派生绑定图节点的上下文
func (rc *RunContext) WithNode(nodeID string) *RunContext {
	next := rc.clone()
	next.NodeID = nodeID
	return next
}

// WithUnit 派生绑定调度单元的上下文
func (rc *RunContext) WithUnit(unitID string) *RunContext {
	next := rc.clone()
	next.UnitID = unitID
	return next
}

func (rc *RunContext) clone() *RunContext {
	if rc == nil {
		return NewRunContext(nil)
	}
	c := *rc
	return &c
}

// Emit 发送一个事件；上下文结束时返回 false，调用方应立即返回
type Emit func(Event) bool

// errStopped 表示事件流已自行终止（终止事件已发出或上下文已结束）
var errStopped = errors.New("stream stopped")

// NewStream 在独立 goroutine 中运行 fn 并返回其事件流。
// fn 返回的错误（errStopped 除外）转为终止错误事件；panic 同样转为错误。
func NewStream(ctx context.Context, rc *RunContext, agentID string, fn func(emit Emit) error) <-chan Event {
	out := make(chan Event, streamBuffer)

	go func() {
		defer close(out)

		emit := func(ev Event) bool {
			if ev.AgentID == "" {
				ev.AgentID = agentID
			}
			if ev.NodeID == "" && rc != nil {
				ev.NodeID = rc.NodeID
			}
			if ev.UnitID == "" && rc != nil {
				ev.UnitID = rc.UnitID
			}
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now()
			}
			if ctx.Err() != nil {
				return false
			}
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = types.Errorf(types.ErrAgentFailed, "agent %s panicked", agentID).
						WithCause(fmt.Errorf("%v", r))
				}
			}()
			err = fn(emit)
		}()

		if err == nil || errors.Is(err, errStopped) {
			return
		}
		emit(ErrorEvent(agentID, err))
	}()

	return out
}

// Result 事件流的汇总
type Result struct {
	Output       string           `json:"output"`
	Events       []Event          `json:"events"`
	StateUpdates []map[string]any `json:"state_updates,omitempty"`
	Transfers    int              `json:"transfers"`
}

// Collect 消费整个事件流。输出为最后一条消息事件的内容；
// 遇到错误事件时返回该错误以及此前收集的结果。
func Collect(stream <-chan Event) (*Result, error) {
	res := &Result{}
	var runErr error
	for ev := range stream {
		res.Events = append(res.Events, ev)
		switch ev.Type {
		case EventMessage:
			res.Output = ev.Content
		case EventStateUpdate:
			res.StateUpdates = append(res.StateUpdates, ev.StateUpdates)
		case EventTransfer:
			if ev.Transfer != nil && ev.Transfer.Handled {
				res.Transfers++
			}
		case EventError:
			runErr = ev.Err
		}
	}
	return res, runErr
}
