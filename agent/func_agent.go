package agent

import (
	"context"
)

// Func 是 FuncAgent 的执行函数。返回的错误成为终止错误事件。
type Func func(ctx context.Context, rc *RunContext, in Input, emit Emit) error

// FuncAgent 把普通函数适配为 Agent
type FuncAgent struct {
	id string
	fn Func
}

// NewFuncAgent 创建函数智能体
func NewFuncAgent(id string, fn Func) *FuncAgent {
	return &FuncAgent{id: id, fn: fn}
}

// ID implements Agent.
func (f *FuncAgent) ID() string { return f.id }

// Run implements Agent.
func (f *FuncAgent) Run(ctx context.Context, rc *RunContext, in Input) <-chan Event {
	return NewStream(ctx, rc, f.id, func(emit Emit) error {
		return f.fn(ctx, rc, in, emit)
	})
}

// Static 返回固定输出的智能体，可选附带状态更新
func Static(id, output string, updates map[string]any) *FuncAgent {
	return NewFuncAgent(id, func(_ context.Context, _ *RunContext, _ Input, emit Emit) error {
		if len(updates) > 0 && !emit(StateUpdateEvent(id, updates)) {
			return errStopped
		}
		if !emit(MessageEvent(id, output)) {
			return errStopped
		}
		return nil
	})
}
