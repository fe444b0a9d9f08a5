package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
)

// Registry 名称到智能体的映射，读多写少，并发安全
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	logger *zap.Logger
}

// NewRegistry 创建注册表
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents: make(map[string]Agent),
		logger: logger.With(zap.String("component", "agent_registry")),
	}
}

// Register 以智能体自身 ID 注册
func (r *Registry) Register(a Agent) error {
	if a == nil {
		return types.NewError(types.ErrInvalidConfig, "cannot register nil agent")
	}
	return r.RegisterAs(a.ID(), a)
}

// RegisterAs 以指定名称注册，名称重复视为配置错误
func (r *Registry) RegisterAs(name string, a Agent) error {
	if name == "" {
		return types.NewError(types.ErrInvalidConfig, "agent name is empty")
	}
	if a == nil {
		return types.Errorf(types.ErrInvalidConfig, "agent %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; exists {
		return types.Errorf(types.ErrInvalidConfig, "agent %q already registered", name)
	}
	r.agents[name] = a

	r.logger.Debug("agent registered", zap.String("name", name), zap.String("id", a.ID()))
	return nil
}

// Unregister 移除注册
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, name)
}

// Get 按名称查找
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	a, ok := r.agents[name]
	r.mu.RUnlock()

	if !ok {
		return nil, types.Errorf(types.ErrUnknownAgent, "agent %q not registered", name)
	}
	return a, nil
}

// Has 判断名称是否已注册
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// Names 返回排序后的全部名称
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterPipeline 由已注册的成员组成 Sequential 并以 name 注册。
// 成员在注册时解析，未知成员是配置错误。
func (r *Registry) RegisterPipeline(name string, members ...string) (*Sequential, error) {
	if len(members) == 0 {
		return nil, types.Errorf(types.ErrInvalidConfig, "pipeline %q has no members", name)
	}

	children := make([]Agent, 0, len(members))
	for _, m := range members {
		a, err := r.Get(m)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", name, err)
		}
		children = append(children, a)
	}

	seq := NewSequential(name, children...)
	if err := r.RegisterAs(name, seq); err != nil {
		return nil, err
	}
	return seq, nil
}
