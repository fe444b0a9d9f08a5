package scheduler

import (
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/types"
)

// AgentResolver 为单元选择 agent。
// 优先级：单元显式指定 → 按阶段 → 按类型 → 全局默认；重试时再从备选中挑选。
type AgentResolver struct {
	Default    string
	ByPhase    map[string]string
	ByType     map[string]string
	Alternates []string

	// Breakers 非空时跳过熔断中的 agent
	Breakers *BreakerSet
}

// NewAgentResolver 按调度配置创建
func NewAgentResolver(cfg config.SchedulerConfig) *AgentResolver {
	return &AgentResolver{
		Default:    cfg.DefaultAgent,
		ByPhase:    cfg.PhaseAgents,
		ByType:     cfg.TypeAgents,
		Alternates: cfg.Alternates,
	}
}

// Candidates 返回单元的候选 agent，按优先级去重
func (r *AgentResolver) Candidates(s *Story) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	add(s.Agent)
	if s.Phase != "" {
		add(r.ByPhase[s.Phase])
	}
	if s.Type != "" {
		add(r.ByType[s.Type])
	}
	add(r.Default)
	for _, a := range r.Alternates {
		add(a)
	}
	return out
}

// Resolve 返回首选 agent
func (r *AgentResolver) Resolve(s *Story) (string, error) {
	name, ok := r.Next(s, nil)
	if !ok {
		return "", types.Errorf(types.ErrUnknownAgent, "no agent resolved for story %s", s.ID).WithUnit(s.ID)
	}
	return name, nil
}

// Next 返回尚未尝试过的下一个候选。熔断中的 agent 仅在没有其他选择时使用。
func (r *AgentResolver) Next(s *Story, tried []string) (string, bool) {
	used := make(map[string]bool, len(tried))
	for _, t := range tried {
		used[t] = true
	}

	var fallback string
	for _, name := range r.Candidates(s) {
		if used[name] {
			continue
		}
		if r.Breakers != nil && !r.Breakers.Allow(name) {
			if fallback == "" {
				fallback = name
			}
			continue
		}
		return name, true
	}
	return fallback, fallback != ""
}
