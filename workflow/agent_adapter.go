package workflow

import (
	"context"
	"fmt"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/checkpoint"
	"github.com/BaSui01/agentgraph/types"
)

// GraphAgent 把一张图包装成 agent.Agent，使图可以作为节点或组合的子智能体。
// 子图使用独立的状态；其输出作为一条消息发出，可选地写入父级状态通道。
type GraphAgent struct {
	id            string
	engine        *Engine
	graph         *Graph
	outputChannel string
}

// GraphAgentOption 配置 GraphAgent
type GraphAgentOption func(*GraphAgent)

// WithOutputChannel 子图完成后以 state_update 把输出写入父级通道
func WithOutputChannel(channel string) GraphAgentOption {
	return func(a *GraphAgent) { a.outputChannel = channel }
}

// NewGraphAgent 创建图适配器
func NewGraphAgent(id string, engine *Engine, graph *Graph, opts ...GraphAgentOption) *GraphAgent {
	a := &GraphAgent{id: id, engine: engine, graph: graph}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID implements agent.Agent.
func (a *GraphAgent) ID() string { return a.id }

// Run implements agent.Agent.
func (a *GraphAgent) Run(ctx context.Context, rc *agent.RunContext, in agent.Input) <-chan agent.Event {
	return agent.NewStream(ctx, rc, a.id, func(emit agent.Emit) error {
		opts := RunOptions{Data: in.Data}
		if rc != nil && rc.ExecutionID != "" {
			opts.ExecutionID = fmt.Sprintf("%s/%s", rc.ExecutionID, a.id)
			opts.SessionID = rc.SessionID
		}

		res, err := a.engine.Run(ctx, a.graph, in.Content, opts)
		if err != nil {
			return err
		}
		if res.Status != checkpoint.StatusCompleted {
			return types.Errorf(types.ErrAgentFailed,
				"subgraph %s stopped with status %s", a.graph.Name, res.Status)
		}

		if a.outputChannel != "" {
			if !emit(agent.StateUpdateEvent(a.id, map[string]any{a.outputChannel: res.Output})) {
				return nil
			}
		}
		emit(agent.MessageEvent(a.id, res.Output))
		return nil
	})
}
