package scheduler

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BaSui01/agentgraph/types"
	"gopkg.in/yaml.v3"
)

// Status 单元状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// Story 一个可调度的工作单元
type Story struct {
	ID           string   `json:"id" yaml:"id"`
	Title        string   `json:"title,omitempty" yaml:"title,omitempty"`
	Type         string   `json:"type,omitempty" yaml:"type,omitempty"`
	Phase        string   `json:"phase,omitempty" yaml:"phase,omitempty"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// Agent 显式指定的 agent，优先级最高
	Agent       string `json:"agent,omitempty" yaml:"agent,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Status       Status   `json:"status" yaml:"-"`
	Attempts     int      `json:"attempts" yaml:"-"`
	AgentHistory []string `json:"agent_history,omitempty" yaml:"-"`
}

// Prompt 交给 agent 的输入文本
func (s *Story) Prompt() string {
	var b strings.Builder
	if s.Title != "" {
		b.WriteString(s.Title)
	} else {
		b.WriteString(s.ID)
	}
	if s.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(s.Description)
	}
	return b.String()
}

// Batch 一层可并发执行的单元，成员之间没有依赖
type Batch struct {
	Index   int      `json:"index"`
	Stories []string `json:"stories"`
}

// ComputeBatches 按入度为零逐层剥离，计算拓扑分层。
// 同层内按 id 排序，结果是确定的。
func ComputeBatches(stories []*Story) ([]Batch, error) {
	index := make(map[string]*Story, len(stories))
	for _, s := range stories {
		if s == nil || s.ID == "" {
			return nil, types.NewError(types.ErrInvalidConfig, "story has no id")
		}
		if _, dup := index[s.ID]; dup {
			return nil, types.Errorf(types.ErrDuplicateUnit, "duplicate story id: %s", s.ID).WithUnit(s.ID)
		}
		index[s.ID] = s
	}

	inDegree := make(map[string]int, len(stories))
	dependents := make(map[string][]string, len(stories))
	for _, s := range stories {
		seen := make(map[string]bool, len(s.Dependencies))
		for _, dep := range s.Dependencies {
			if _, ok := index[dep]; !ok {
				return nil, types.Errorf(types.ErrUnknownDependency,
					"story %s depends on unknown story %s", s.ID, dep).WithUnit(s.ID)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var ready []string
	for _, s := range stories {
		if inDegree[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}

	var batches []Batch
	scheduled := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		batches = append(batches, Batch{Index: len(batches), Stories: ready})
		scheduled += len(ready)

		var next []string
		for _, id := range ready {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}

	if scheduled != len(stories) {
		var remaining []string
		for _, s := range stories {
			if inDegree[s.ID] > 0 {
				remaining = append(remaining, s.ID)
			}
		}
		sort.Strings(remaining)
		return nil, types.Errorf(types.ErrDependencyCycle,
			"dependency cycle among stories: %s", strings.Join(remaining, ", "))
	}
	return batches, nil
}

// Plan 从文件读取的调度计划
type Plan struct {
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Stories []*Story `json:"stories" yaml:"stories"`
}

// ParsePlan 解析 YAML 计划
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "failed to parse plan").WithCause(err)
	}
	for _, s := range p.Stories {
		if s != nil {
			s.Status = StatusPending
		}
	}
	return &p, nil
}

// LoadPlan 读取 YAML 计划文件
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	return ParsePlan(data)
}

// Batches 计算计划的分层
func (p *Plan) Batches() ([]Batch, error) {
	return ComputeBatches(p.Stories)
}
