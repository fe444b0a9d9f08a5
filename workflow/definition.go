package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GraphDefinition 可序列化的图定义。Go 谓词边无法序列化，只保留 CEL 表达式边。
type GraphDefinition struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Entry       string            `json:"entry" yaml:"entry"`
	Channels    []ChannelSpec     `json:"channels,omitempty" yaml:"channels,omitempty"`
	Nodes       []NodeDefinition  `json:"nodes" yaml:"nodes"`
	Edges       []EdgeDefinition  `json:"edges,omitempty" yaml:"edges,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NodeDefinition 可序列化的节点定义
type NodeDefinition struct {
	ID        string            `json:"id" yaml:"id"`
	Agent     string            `json:"agent" yaml:"agent"`
	Config    map[string]any    `json:"config,omitempty" yaml:"config,omitempty"`
	Interrupt InterruptMode     `json:"interrupt,omitempty" yaml:"interrupt,omitempty"`
	Terminal  bool              `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// EdgeDefinition 可序列化的边；When 为空表示无条件
type EdgeDefinition struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	When string `json:"when,omitempty" yaml:"when,omitempty"`
}

// Build 把定义转换为已校验的图
func (d *GraphDefinition) Build() (*Graph, error) {
	b := NewGraphBuilder(d.Name)
	for _, c := range d.Channels {
		b.AddChannel(c.Name, c.Reducer, c.Default)
	}
	for _, n := range d.Nodes {
		nb := b.AddNode(n.ID, n.Agent)
		for k, v := range n.Config {
			nb.WithConfig(k, v)
		}
		for k, v := range n.Metadata {
			nb.WithMetadata(k, v)
		}
		switch n.Interrupt {
		case InterruptBefore:
			nb.InterruptBefore()
		case InterruptAfter:
			nb.InterruptAfter()
		case "", InterruptNone:
		default:
			// 交给 Validate 报告
			nb.node.Interrupt = n.Interrupt
		}
		if n.Terminal {
			nb.Terminal()
		}
	}
	for _, e := range d.Edges {
		if e.When == "" {
			b.AddEdge(e.From, e.To)
		} else {
			b.AddExprEdge(e.From, e.To, e.When)
		}
	}
	b.SetEntry(d.Entry)
	return b.Build()
}

// Definition 导出图的可序列化定义。含 Go 谓词边的图无法导出。
func (g *Graph) Definition() (*GraphDefinition, error) {
	def := &GraphDefinition{
		Name:     g.Name,
		Entry:    g.Entry,
		Channels: append([]ChannelSpec(nil), g.Schema.Channels...),
		Nodes:    make([]NodeDefinition, 0, len(g.order)),
	}
	for _, id := range g.order {
		n := g.nodes[id]
		nd := NodeDefinition{
			ID:       n.ID,
			Agent:    n.Step.Agent,
			Config:   n.Step.Config,
			Terminal: n.Terminal,
		}
		if n.Interrupt != InterruptNone {
			nd.Interrupt = n.Interrupt
		}
		if len(n.Metadata) > 0 {
			nd.Metadata = n.Metadata
		}
		def.Nodes = append(def.Nodes, nd)
	}
	for _, e := range g.edges {
		if e.Condition != nil {
			return nil, fmt.Errorf("edge %s->%s uses a Go predicate and cannot be serialized", e.From, e.To)
		}
		def.Edges = append(def.Edges, EdgeDefinition{From: e.From, To: e.To, When: e.Expr})
	}
	return def, nil
}

// ToJSON converts a GraphDefinition to JSON string
func (d *GraphDefinition) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML converts a GraphDefinition to YAML string
func (d *GraphDefinition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// DefinitionFromJSON parses a GraphDefinition from JSON
func DefinitionFromJSON(data []byte) (*GraphDefinition, error) {
	var def GraphDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from JSON: %w", err)
	}
	return &def, nil
}

// DefinitionFromYAML parses a GraphDefinition from YAML
func DefinitionFromYAML(data []byte) (*GraphDefinition, error) {
	var def GraphDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}
	return &def, nil
}

// LoadGraphFile 按扩展名读取 JSON 或 YAML 图定义并构建图
func LoadGraphFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var def *GraphDefinition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		def, err = DefinitionFromJSON(data)
	default:
		def, err = DefinitionFromYAML(data)
	}
	if err != nil {
		return nil, err
	}
	return def.Build()
}

// SaveToFile writes the definition as JSON or YAML depending on the extension
func (d *GraphDefinition) SaveToFile(path string) error {
	var (
		out string
		err error
	)
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		out, err = d.ToJSON()
	} else {
		out, err = d.ToYAML()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
