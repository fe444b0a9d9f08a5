package gate

import (
	"context"
	"fmt"
	"time"
)

// Phase 门禁阶段，按 Phases 的顺序执行
type Phase string

const (
	// PhasePreValidation 格式规范化，总是最先执行
	PhasePreValidation Phase = "pre_validation"
	// PhaseValidation 类型检查、测试、lint，阶段内并发执行
	PhaseValidation Phase = "validation"
	// PhasePostValidation AI 辅助审查，仅在校验阶段未硬失败时执行
	PhasePostValidation Phase = "post_validation"
)

// Phases 执行顺序
var Phases = []Phase{PhasePreValidation, PhaseValidation, PhasePostValidation}

// Valid 是否为已知阶段
func (p Phase) Valid() bool {
	switch p {
	case PhasePreValidation, PhaseValidation, PhasePostValidation:
		return true
	}
	return false
}

// Mode 阶段失败的处理方式
type Mode string

const (
	// ModeSoft 失败记为警告，不阻断
	ModeSoft Mode = "soft"
	// ModeHard 失败立即终止流水线
	ModeHard Mode = "hard"
)

// ParseMode 解析模式字符串
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSoft:
		return ModeSoft, nil
	case ModeHard:
		return ModeHard, nil
	default:
		return "", fmt.Errorf("unknown gate mode %q", s)
	}
}

// Outcome 单个门禁或阶段的结论
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeWarn Outcome = "warn"
	OutcomeFail Outcome = "fail"
)

// Artifact 被检查的产物，通常是一个调度单元的智能体输出
type Artifact struct {
	UnitID   string            `json:"unit_id,omitempty"`
	Agent    string            `json:"agent,omitempty"`
	Content  string            `json:"content"`
	Dir      string            `json:"dir,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result 门禁的原始检查结果
type Result struct {
	Passed bool
	Detail string
	// Content 非空时替换后续门禁看到的产物内容（规范化）
	Content string
	// Err 门禁本身无法执行（命令不存在、模型调用失败），按失败处理
	Err error
}

// Gate 门禁契约
type Gate interface {
	Name() string
	Phase() Phase
	Check(ctx context.Context, a Artifact) Result
}

// GateResult 流水线记录的单个门禁结果
type GateResult struct {
	Gate     string        `json:"gate"`
	Phase    Phase         `json:"phase"`
	Outcome  Outcome       `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// FuncGate 把函数适配为门禁；返回 nil 即通过
type FuncGate struct {
	name  string
	phase Phase
	fn    func(ctx context.Context, a Artifact) error
}

// NewFuncGate 创建函数门禁
func NewFuncGate(name string, phase Phase, fn func(ctx context.Context, a Artifact) error) *FuncGate {
	return &FuncGate{name: name, phase: phase, fn: fn}
}

// Name implements Gate.
func (g *FuncGate) Name() string { return g.name }

// Phase implements Gate.
func (g *FuncGate) Phase() Phase { return g.phase }

// Check implements Gate.
func (g *FuncGate) Check(ctx context.Context, a Artifact) Result {
	if err := g.fn(ctx, a); err != nil {
		return Result{Passed: false, Detail: err.Error()}
	}
	return Result{Passed: true}
}

// Normalizer 规范化产物内容的预校验门禁
type Normalizer struct {
	name string
	fn   func(content string) (string, error)
}

// NewNormalizer 创建规范化门禁，运行在 pre_validation 阶段
func NewNormalizer(name string, fn func(content string) (string, error)) *Normalizer {
	return &Normalizer{name: name, fn: fn}
}

// Name implements Gate.
func (n *Normalizer) Name() string { return n.name }

// Phase implements Gate.
func (n *Normalizer) Phase() Phase { return PhasePreValidation }

// Check implements Gate.
func (n *Normalizer) Check(_ context.Context, a Artifact) Result {
	out, err := n.fn(a.Content)
	if err != nil {
		return Result{Passed: false, Detail: err.Error()}
	}
	return Result{Passed: true, Content: out}
}
