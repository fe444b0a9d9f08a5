package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/agentgraph/types"
)

// PartialFailurePolicy 部分子智能体失败时如何处理成功者的结果
type PartialFailurePolicy string

const (
	// DiscardPartial 扣留所有状态更新，全部成功后才发布；任一失败则丢弃
	DiscardPartial PartialFailurePolicy = "discard_partial"
	// KeepPartial 状态更新到达即转发，失败时成功者的结果仍然保留
	KeepPartial PartialFailurePolicy = "keep_partial"
)

// ChildError 单个子智能体的失败
type ChildError struct {
	AgentID string `json:"agent_id"`
	Err     error  `json:"-"`
	Message string `json:"message"`
}

// ParallelError Parallel 的聚合失败
type ParallelError struct {
	Failures []ChildError
}

func (e *ParallelError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.AgentID, f.Message))
	}
	return strings.Join(parts, "; ")
}

// Unwrap 返回所有子错误
func (e *ParallelError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

// Parallel 并发运行所有子智能体并合并事件流
type Parallel struct {
	id       string
	children []Agent
	policy   PartialFailurePolicy
}

// ParallelOption 配置 Parallel
type ParallelOption func(*Parallel)

// WithPartialFailurePolicy 设置部分失败策略
func WithPartialFailurePolicy(p PartialFailurePolicy) ParallelOption {
	return func(pa *Parallel) { pa.policy = p }
}

// NewParallel 创建并行组合，默认 DiscardPartial
func NewParallel(id string, children []Agent, opts ...ParallelOption) *Parallel {
	p := &Parallel{id: id, children: children, policy: DiscardPartial}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID implements Agent.
func (p *Parallel) ID() string { return p.id }

// Policy 返回部分失败策略
func (p *Parallel) Policy() PartialFailurePolicy { return p.policy }

type branchEvent struct {
	index int
	ev    Event
}

// Run implements Agent.
//
// 子智能体在调用时全部启动。事件按到达顺序转发并以子智能体 ID 标记 Branch；
// 同一子智能体内部保持顺序。某个子智能体失败不会取消其他子智能体，全部结束后
// 发出一个 types.ErrParallelFailed 聚合错误。全部成功时最后发出一条合并消息，
// 内容按声明顺序拼接。
func (p *Parallel) Run(ctx context.Context, rc *RunContext, in Input) <-chan Event {
	return NewStream(ctx, rc, p.id, func(emit Emit) error {
		n := len(p.children)
		merged := make(chan branchEvent)
		var wg sync.WaitGroup

		for i, child := range p.children {
			stream := Execute(ctx, rc, child, in)
			wg.Add(1)
			go func(i int, stream <-chan Event) {
				defer wg.Done()
				for ev := range stream {
					select {
					case merged <- branchEvent{index: i, ev: ev}:
					case <-ctx.Done():
						drain(stream)
						return
					}
				}
			}(i, stream)
		}
		go func() {
			wg.Wait()
			close(merged)
		}()

		outputs := make([]string, n)
		withheld := make([][]Event, n)
		failures := make([]*ChildError, n)
		stopped := false

		for be := range merged {
			if stopped {
				continue
			}
			ev := be.ev
			if ev.Branch == "" {
				ev.Branch = p.children[be.index].ID()
			}

			switch ev.Type {
			case EventError:
				failures[be.index] = &ChildError{AgentID: p.children[be.index].ID(), Err: ev.Err, Message: ev.Content}
				continue
			case EventMessage:
				outputs[be.index] = ev.Content
			case EventStateUpdate:
				if p.policy != KeepPartial {
					withheld[be.index] = append(withheld[be.index], ev)
					continue
				}
			}
			if !emit(ev) {
				stopped = true
			}
		}

		if stopped || ctx.Err() != nil {
			return errStopped
		}

		var failed []ChildError
		for _, f := range failures {
			if f != nil {
				failed = append(failed, *f)
			}
		}
		if len(failed) > 0 {
			perr := &ParallelError{Failures: failed}
			// 保护性限制错误保持原类别，便于与普通失败区分
			for _, f := range failed {
				if types.IsLimit(f.Err) {
					return f.Err
				}
			}
			return types.Errorf(types.ErrParallelFailed, "%d of %d parallel branches failed", len(failed), n).
				WithCause(perr).
				WithDetail(perr.Error())
		}

		for _, evs := range withheld {
			for _, ev := range evs {
				if !emit(ev) {
					return errStopped
				}
			}
		}

		nonEmpty := make([]string, 0, n)
		for _, out := range outputs {
			if out != "" {
				nonEmpty = append(nonEmpty, out)
			}
		}
		if !emit(MessageEvent(p.id, strings.Join(nonEmpty, "\n"))) {
			return errStopped
		}
		return nil
	})
}
