package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/types"
)

// InterruptMode 节点的人工审核中断点
type InterruptMode string

const (
	InterruptNone   InterruptMode = "none"
	InterruptBefore InterruptMode = "before"
	InterruptAfter  InterruptMode = "after"
)

// AgentStep 节点要执行的智能体（按注册名解析）及其静态配置
type AgentStep struct {
	Agent  string         `json:"agent" yaml:"agent"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Node 图节点
type Node struct {
	ID        string            `json:"id" yaml:"id"`
	Step      AgentStep         `json:"step" yaml:"step"`
	Interrupt InterruptMode     `json:"interrupt,omitempty" yaml:"interrupt,omitempty"`
	Terminal  bool              `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Edge 有向边。Condition 与 Expr 均为空时为无条件边。
type Edge struct {
	From      string          `json:"from" yaml:"from"`
	To        string          `json:"to" yaml:"to"`
	Condition agent.Predicate `json:"-" yaml:"-"`
	Expr      string          `json:"expr,omitempty" yaml:"expr,omitempty"`

	compiled   *exprCondition
	compileErr error
}

// Unconditional 是否为无条件边
func (e *Edge) Unconditional() bool {
	return e.Condition == nil && e.Expr == ""
}

// Matches 判断边在当前状态下是否可走
func (e *Edge) Matches(state *State) (bool, error) {
	if e.Unconditional() {
		return true, nil
	}
	if e.Condition != nil {
		return e.Condition(state), nil
	}
	if e.compiled == nil {
		return false, fmt.Errorf("edge %s->%s: condition not compiled: %v", e.From, e.To, e.compileErr)
	}
	return e.compiled.Eval(state.Snapshot())
}

// Graph 图工作流定义：节点、边、入口与状态通道
type Graph struct {
	Name   string
	Schema StateSchema
	Entry  string

	nodes    map[string]*Node
	order    []string
	edges    []*Edge
	outgoing map[string][]*Edge
}

// NewGraph 创建空图
func NewGraph(name string) *Graph {
	return &Graph{
		Name:     name,
		nodes:    make(map[string]*Node),
		outgoing: make(map[string][]*Edge),
	}
}

// AddNode 添加节点，重复 ID 覆盖原节点
func (g *Graph) AddNode(n *Node) {
	if n.Interrupt == "" {
		n.Interrupt = InterruptNone
	}
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	g.nodes[n.ID] = n
}

// AddEdge 添加边；多条出边按添加顺序匹配。表达式在此编译，错误由 Validate 报告。
func (g *Graph) AddEdge(e *Edge) {
	if e.Expr != "" && e.compiled == nil {
		e.compiled, e.compileErr = compileCondition(e.Expr)
	}
	g.edges = append(g.edges, e)
	g.outgoing[e.From] = append(g.outgoing[e.From], e)
}

// Node 按 ID 取节点
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs 按添加顺序返回节点 ID
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Edges 返回全部边
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Outgoing 按声明顺序返回节点的出边
func (g *Graph) Outgoing(id string) []*Edge {
	return g.outgoing[id]
}

// Validate 在执行前检查图的结构；允许环
func (g *Graph) Validate() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := g.Schema.Validate(); err != nil {
		addf("schema: %v", err)
	}
	if len(g.nodes) == 0 {
		addf("graph has no nodes")
	}
	if g.Entry == "" {
		addf("entry node not set")
	} else if _, ok := g.nodes[g.Entry]; !ok {
		addf("entry node does not exist: %s", g.Entry)
	}

	for _, id := range g.order {
		n := g.nodes[id]
		if n.Step.Agent == "" {
			addf("node %s has no agent", id)
		}
		switch n.Interrupt {
		case InterruptNone, InterruptBefore, InterruptAfter:
		default:
			addf("node %s has unknown interrupt mode %q", id, n.Interrupt)
		}
		if len(g.outgoing[id]) == 0 && !n.Terminal {
			addf("node %s has no outgoing edge and is not terminal", id)
		}
	}

	for _, e := range g.edges {
		if _, ok := g.nodes[e.From]; !ok {
			addf("edge references non-existent source node: %s", e.From)
		}
		if _, ok := g.nodes[e.To]; !ok {
			addf("edge references non-existent target node: %s", e.To)
		}
		if e.Condition != nil && e.Expr != "" {
			addf("edge %s->%s has both a predicate and an expression", e.From, e.To)
		}
		if e.compileErr != nil {
			addf("edge %s->%s: %v", e.From, e.To, e.compileErr)
		}
	}

	if _, ok := g.nodes[g.Entry]; ok {
		reachable := make(map[string]bool, len(g.nodes))
		g.markReachable(g.Entry, reachable)
		for _, id := range g.order {
			if !reachable[id] {
				addf("node %s is not reachable from entry", id)
			}
		}
	}

	if len(problems) > 0 {
		detail := strings.Join(problems, "; ")
		return types.Errorf(types.ErrInvalidGraph, "graph %s is invalid: %s", g.Name, detail).
			WithDetail(detail)
	}
	return nil
}

func (g *Graph) markReachable(id string, reachable map[string]bool) {
	if reachable[id] {
		return
	}
	reachable[id] = true
	for _, e := range g.outgoing[id] {
		if _, ok := g.nodes[e.To]; ok {
			g.markReachable(e.To, reachable)
		}
	}
}

// Fingerprint 图结构摘要，用于把检查点绑定到图的结构。
// 覆盖通道签名、入口、节点的智能体与中断设置，以及每个节点按声明顺序的出边。
// Go 函数条件无法比较，只记为 "fn"。
func (g *Graph) Fingerprint() string {
	ids := g.NodeIDs()
	sort.Strings(ids)

	h := sha256.New()
	for _, s := range g.Schema.signature() {
		h.Write([]byte("c:" + s + "\n"))
	}
	h.Write([]byte("e:" + g.Entry + "\n"))
	for _, id := range ids {
		n := g.nodes[id]
		fmt.Fprintf(h, "n:%s|%s|%s|%t\n", id, n.Step.Agent, n.Interrupt, n.Terminal)
		for _, e := range g.outgoing[id] {
			cond := e.Expr
			if e.Condition != nil {
				cond = "fn"
			}
			fmt.Fprintf(h, "x:%s->%s|%s\n", e.From, e.To, cond)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
