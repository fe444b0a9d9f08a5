package agent

import (
	"context"
)

// Predicate 基于共享状态的分支条件
type Predicate func(state StateReader) bool

// Conditional 调度前对共享状态求值一次，然后完全委托给一个分支
type Conditional struct {
	id        string
	predicate Predicate
	then      Agent
	otherwise Agent
}

// NewConditional 创建条件组合；otherwise 为 nil 时条件不成立即空操作成功
func NewConditional(id string, predicate Predicate, then, otherwise Agent) *Conditional {
	return &Conditional{id: id, predicate: predicate, then: then, otherwise: otherwise}
}

// ID implements Agent.
func (c *Conditional) ID() string { return c.id }

// Run implements Agent.
func (c *Conditional) Run(ctx context.Context, rc *RunContext, in Input) <-chan Event {
	return NewStream(ctx, rc, c.id, func(emit Emit) error {
		branch := c.otherwise
		if c.predicate != nil && c.predicate(rc.StateOrEmpty()) {
			branch = c.then
		}
		if branch == nil {
			return nil
		}
		for ev := range Execute(ctx, rc, branch, in) {
			if !emit(ev) {
				return errStopped
			}
		}
		return ctx.Err()
	})
}
