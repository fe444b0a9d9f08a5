package agent

import (
	"context"
)

// Sequential 按声明顺序运行子智能体，子智能体 i 的输出作为 i+1 的输入
type Sequential struct {
	id       string
	children []Agent
}

// NewSequential 创建顺序组合
func NewSequential(id string, children ...Agent) *Sequential {
	return &Sequential{id: id, children: children}
}

// ID implements Agent.
func (s *Sequential) ID() string { return s.id }

// Children 返回子智能体
func (s *Sequential) Children() []Agent {
	out := make([]Agent, len(s.children))
	copy(out, s.children)
	return out
}

// Run implements Agent. 第一个错误事件被转发后立即停止。
func (s *Sequential) Run(ctx context.Context, rc *RunContext, in Input) <-chan Event {
	return NewStream(ctx, rc, s.id, func(emit Emit) error {
		cur := in
		for _, child := range s.children {
			output := ""
			for ev := range Execute(ctx, rc, child, cur) {
				if !emit(ev) {
					return errStopped
				}
				switch ev.Type {
				case EventError:
					return errStopped
				case EventMessage:
					output = ev.Content
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			cur = Input{Content: output, Data: in.Data}
		}
		return nil
	})
}
