package gate

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PhaseResult 一个阶段的结果
type PhaseResult struct {
	Phase   Phase        `json:"phase"`
	Mode    Mode         `json:"mode"`
	Outcome Outcome      `json:"outcome"`
	Gates   []GateResult `json:"gates"`
}

// PipelineResult 一次流水线运行的汇总
type PipelineResult struct {
	UnitID      string        `json:"unit_id,omitempty"`
	Passed      bool          `json:"passed"`
	HardFailed  bool          `json:"hard_failed"`
	FailedPhase Phase         `json:"failed_phase,omitempty"`
	FailedGate  string        `json:"failed_gate,omitempty"`
	Phases      []PhaseResult `json:"phases"`
	Warnings    []string      `json:"warnings,omitempty"`
	// Content 经规范化后的产物内容
	Content  string        `json:"content"`
	Duration time.Duration `json:"duration"`
}

// Diagnostics 汇总所有失败与警告门禁的诊断信息
func (r *PipelineResult) Diagnostics() string {
	var b strings.Builder
	for _, p := range r.Phases {
		for _, g := range p.Gates {
			if g.Outcome == OutcomePass {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("[" + string(p.Phase) + "/" + g.Gate + " " + string(g.Outcome) + "] ")
			b.WriteString(g.Detail)
		}
	}
	return b.String()
}

// Err 硬失败时返回带阶段、门禁与单元信息的结构化错误
func (r *PipelineResult) Err() error {
	if !r.HardFailed {
		return nil
	}
	return types.Errorf(types.ErrGateFailed, "gate %s failed in phase %s", r.FailedGate, r.FailedPhase).
		WithGate(string(r.FailedPhase), r.FailedGate).
		WithUnit(r.UnitID).
		WithDetail(r.Diagnostics())
}

// Pipeline 三阶段质量门禁流水线。
// pre_validation 与 post_validation 顺序执行，validation 阶段并发执行并汇总。
// 任一阶段中第一个硬失败立即终止流水线；软失败记为警告。
type Pipeline struct {
	gates   map[Phase][]Gate
	modes   map[Phase]Mode
	metrics *metrics.Collector
	logger  *zap.Logger
}

// PipelineOption 配置 Pipeline
type PipelineOption func(*Pipeline)

// WithMode 设置阶段模式
func WithMode(phase Phase, mode Mode) PipelineOption {
	return func(p *Pipeline) { p.modes[phase] = mode }
}

// WithGates 添加门禁，按各自的 Phase 归类
func WithGates(gates ...Gate) PipelineOption {
	return func(p *Pipeline) {
		for _, g := range gates {
			p.Add(g)
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) PipelineOption {
	return func(p *Pipeline) { p.metrics = c }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline 创建流水线。默认模式：pre soft、validation hard、post soft。
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		gates: make(map[Phase][]Gate),
		modes: map[Phase]Mode{
			PhasePreValidation:  ModeSoft,
			PhaseValidation:     ModeHard,
			PhasePostValidation: ModeSoft,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "gate_pipeline"))
	return p
}

// NewPipelineFromConfig 按配置构建流水线，配置中的命令成为 CommandGate
func NewPipelineFromConfig(cfg config.GateConfig, logger *zap.Logger, opts ...PipelineOption) (*Pipeline, error) {
	phases := []struct {
		phase Phase
		cfg   config.GatePhaseConfig
	}{
		{PhasePreValidation, cfg.PreValidation},
		{PhaseValidation, cfg.Validation},
		{PhasePostValidation, cfg.PostValidation},
	}

	base := []PipelineOption{WithLogger(logger)}
	for _, ph := range phases {
		if ph.cfg.Mode != "" {
			mode, err := ParseMode(ph.cfg.Mode)
			if err != nil {
				return nil, types.Errorf(types.ErrInvalidConfig, "gate phase %s", ph.phase).WithCause(err)
			}
			base = append(base, WithMode(ph.phase, mode))
		}
		for _, c := range ph.cfg.Commands {
			if c.Command == "" {
				return nil, types.Errorf(types.ErrInvalidConfig, "gate %q in phase %s has no command", c.Name, ph.phase)
			}
			base = append(base, WithGates(&CommandGate{
				GateName:  c.Name,
				GatePhase: ph.phase,
				Command:   c.Command,
				Args:      c.Args,
				Dir:       c.Dir,
				Env:       c.Env,
				Timeout:   c.Timeout,
			}))
		}
	}
	return NewPipeline(append(base, opts...)...), nil
}

// Add 添加门禁
func (p *Pipeline) Add(g Gate) *Pipeline {
	p.gates[g.Phase()] = append(p.gates[g.Phase()], g)
	return p
}

// Mode 返回阶段模式
func (p *Pipeline) Mode(phase Phase) Mode {
	if m, ok := p.modes[phase]; ok {
		return m
	}
	return ModeSoft
}

// Len 返回门禁总数
func (p *Pipeline) Len() int {
	n := 0
	for _, gs := range p.gates {
		n += len(gs)
	}
	return n
}

// Run 对产物运行流水线。只有 ctx 结束时返回错误。
func (p *Pipeline) Run(ctx context.Context, a Artifact) (*PipelineResult, error) {
	start := time.Now()
	res := &PipelineResult{UnitID: a.UnitID, Passed: true}

	for _, phase := range Phases {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		gates := p.gates[phase]
		if len(gates) == 0 {
			continue
		}

		mode := p.Mode(phase)
		var pr PhaseResult
		if phase == PhaseValidation {
			pr = p.runConcurrent(ctx, phase, mode, gates, a)
		} else {
			pr = p.runSequential(ctx, phase, mode, gates, &a)
		}
		res.Phases = append(res.Phases, pr)

		for _, g := range pr.Gates {
			if g.Outcome == OutcomeWarn {
				res.Warnings = append(res.Warnings, string(phase)+"/"+g.Gate+": "+firstLine(g.Detail))
			}
		}

		if pr.Outcome == OutcomeFail {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Passed = false
			res.HardFailed = true
			res.FailedPhase = phase
			for _, g := range pr.Gates {
				if g.Outcome == OutcomeFail {
					res.FailedGate = g.Gate
					break
				}
			}
			p.logger.Info("gate pipeline hard failed",
				zap.String("unit_id", a.UnitID),
				zap.String("phase", string(phase)),
				zap.String("gate", res.FailedGate),
			)
			break
		}
	}

	res.Content = a.Content
	res.Duration = time.Since(start)
	return res, nil
}

// runSequential 依次执行；硬失败立即停止。通过的规范化门禁会替换产物内容。
func (p *Pipeline) runSequential(ctx context.Context, phase Phase, mode Mode, gates []Gate, a *Artifact) PhaseResult {
	pr := PhaseResult{Phase: phase, Mode: mode, Outcome: OutcomePass}
	for _, g := range gates {
		gr, r := p.check(ctx, phase, mode, g, *a)
		pr.Gates = append(pr.Gates, gr)
		pr.Outcome = worse(pr.Outcome, gr.Outcome)
		if gr.Outcome == OutcomeFail {
			return pr
		}
		if r.Passed && r.Content != "" {
			a.Content = r.Content
		}
	}
	return pr
}

// runConcurrent 并发执行全部门禁并按声明顺序汇总
func (p *Pipeline) runConcurrent(ctx context.Context, phase Phase, mode Mode, gates []Gate, a Artifact) PhaseResult {
	results := make([]GateResult, len(gates))
	eg, gctx := errgroup.WithContext(ctx)
	for i, g := range gates {
		i, g := i, g
		eg.Go(func() error {
			results[i], _ = p.check(gctx, phase, mode, g, a)
			// 不返回错误，避免 errgroup 取消其他校验
			return nil
		})
	}
	_ = eg.Wait()

	pr := PhaseResult{Phase: phase, Mode: mode, Outcome: OutcomePass, Gates: results}
	for _, r := range results {
		pr.Outcome = worse(pr.Outcome, r.Outcome)
	}
	return pr
}

func (p *Pipeline) check(ctx context.Context, phase Phase, mode Mode, g Gate, a Artifact) (GateResult, Result) {
	start := time.Now()
	r := g.Check(ctx, a)
	duration := time.Since(start)

	outcome := OutcomePass
	if r.Err != nil || !r.Passed {
		outcome = OutcomeFail
		if mode == ModeSoft {
			outcome = OutcomeWarn
		}
	}

	detail := r.Detail
	if r.Err != nil && detail == "" {
		detail = r.Err.Error()
	}

	p.metrics.RecordGate(string(phase), g.Name(), string(outcome), duration)
	p.logger.Debug("gate checked",
		zap.String("unit_id", a.UnitID),
		zap.String("phase", string(phase)),
		zap.String("gate", g.Name()),
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", duration),
	)

	return GateResult{
		Gate:     g.Name(),
		Phase:    phase,
		Outcome:  outcome,
		Detail:   detail,
		Duration: duration,
	}, r
}

func worse(a, b Outcome) Outcome {
	rank := map[Outcome]int{OutcomePass: 0, OutcomeWarn: 1, OutcomeFail: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
