package workflow

import (
	"fmt"

	"github.com/BaSui01/agentgraph/agent"
	"go.uber.org/zap"
)

// GraphBuilder provides a fluent API for constructing graph workflows
type GraphBuilder struct {
	graph  *Graph
	logger *zap.Logger
}

// NewGraphBuilder creates a new graph builder with the given name
func NewGraphBuilder(name string) *GraphBuilder {
	return &GraphBuilder{
		graph:  NewGraph(name),
		logger: zap.NewNop(),
	}
}

// WithLogger sets a custom logger
func (b *GraphBuilder) WithLogger(logger *zap.Logger) *GraphBuilder {
	if logger != nil {
		b.logger = logger.With(zap.String("component", "graph_builder"))
	}
	return b
}

// AddChannel declares a state channel
func (b *GraphBuilder) AddChannel(name string, reducer ReducerKind, def any) *GraphBuilder {
	b.graph.Schema.Channels = append(b.graph.Schema.Channels, ChannelSpec{
		Name:    name,
		Reducer: reducer,
		Default: def,
	})
	return b
}

// AddNode adds a node that runs the named agent and returns a NodeBuilder
func (b *GraphBuilder) AddNode(id, agentName string) *NodeBuilder {
	node := &Node{
		ID:       id,
		Step:     AgentStep{Agent: agentName},
		Metadata: make(map[string]string),
	}
	b.graph.AddNode(node)
	return &NodeBuilder{node: node, parent: b}
}

// AddEdge adds an unconditional edge
func (b *GraphBuilder) AddEdge(from, to string) *GraphBuilder {
	b.graph.AddEdge(&Edge{From: from, To: to})
	return b
}

// AddConditionalEdge adds an edge guarded by a Go predicate
func (b *GraphBuilder) AddConditionalEdge(from, to string, cond agent.Predicate) *GraphBuilder {
	b.graph.AddEdge(&Edge{From: from, To: to, Condition: cond})
	return b
}

// AddExprEdge adds an edge guarded by a CEL expression over `state`
func (b *GraphBuilder) AddExprEdge(from, to, expr string) *GraphBuilder {
	b.graph.AddEdge(&Edge{From: from, To: to, Expr: expr})
	return b
}

// SetEntry sets the entry node
func (b *GraphBuilder) SetEntry(nodeID string) *GraphBuilder {
	b.graph.Entry = nodeID
	return b
}

// Finish marks nodes as terminal
func (b *GraphBuilder) Finish(nodeIDs ...string) *GraphBuilder {
	for _, id := range nodeIDs {
		if n, ok := b.graph.Node(id); ok {
			n.Terminal = true
		}
	}
	return b
}

// Build validates and returns the graph
func (b *GraphBuilder) Build() (*Graph, error) {
	if err := b.graph.Validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	b.logger.Debug("graph built",
		zap.String("name", b.graph.Name),
		zap.Int("nodes", len(b.graph.order)),
		zap.Int("edges", len(b.graph.edges)),
		zap.String("entry", b.graph.Entry),
	)
	return b.graph, nil
}

// NodeBuilder configures a node
type NodeBuilder struct {
	node   *Node
	parent *GraphBuilder
}

// WithConfig sets a static config value passed to the agent in Input.Data
func (nb *NodeBuilder) WithConfig(key string, value any) *NodeBuilder {
	if nb.node.Step.Config == nil {
		nb.node.Step.Config = make(map[string]any)
	}
	nb.node.Step.Config[key] = value
	return nb
}

// InterruptBefore pauses for review before the node runs
func (nb *NodeBuilder) InterruptBefore() *NodeBuilder {
	nb.node.Interrupt = InterruptBefore
	return nb
}

// InterruptAfter pauses for review after the node's updates are applied
func (nb *NodeBuilder) InterruptAfter() *NodeBuilder {
	nb.node.Interrupt = InterruptAfter
	return nb
}

// Terminal marks the node as an allowed end of the run
func (nb *NodeBuilder) Terminal() *NodeBuilder {
	nb.node.Terminal = true
	return nb
}

// WithMetadata adds metadata to the node
func (nb *NodeBuilder) WithMetadata(key, value string) *NodeBuilder {
	nb.node.Metadata[key] = value
	return nb
}

// Done returns to the parent builder
func (nb *NodeBuilder) Done() *GraphBuilder {
	return nb.parent
}
