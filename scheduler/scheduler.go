package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/checkpoint"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/events"
	"github.com/BaSui01/agentgraph/gate"
	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/pool"
	"github.com/BaSui01/agentgraph/internal/telemetry"
	"github.com/BaSui01/agentgraph/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries 门禁硬失败后换 agent 重试的次数
	DefaultMaxRetries = 2
	// DefaultMaxConcurrency 单层并发上限
	DefaultMaxConcurrency = 4

	batchGraphName = "batch"
)

// UnitResult 单元的执行结果
type UnitResult struct {
	StoryID      string                 `json:"story_id"`
	Layer        int                    `json:"layer"`
	Status       Status                 `json:"status"`
	Agent        string                 `json:"agent,omitempty"`
	Attempts     int                    `json:"attempts"`
	AgentHistory []string               `json:"agent_history,omitempty"`
	Output       string                 `json:"output,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
	Gates        []*gate.PipelineResult `json:"gates,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Err          error                  `json:"-"`
	Duration     time.Duration          `json:"duration"`
}

// BatchResult 一次调度的汇总
type BatchResult struct {
	ExecutionID string                 `json:"execution_id"`
	Batches     []Batch                `json:"batches"`
	Units       map[string]*UnitResult `json:"units"`
	Duration    time.Duration          `json:"duration"`
}

func (r *BatchResult) withStatus(s Status) []string {
	var ids []string
	for id, u := range r.Units {
		if u.Status == s {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Succeeded 返回成功的单元 id
func (r *BatchResult) Succeeded() []string { return r.withStatus(StatusSucceeded) }

// Failed 返回永久失败的单元 id
func (r *BatchResult) Failed() []string { return r.withStatus(StatusFailed) }

// Blocked 返回因依赖失败而未被调度的单元 id
func (r *BatchResult) Blocked() []string { return r.withStatus(StatusBlocked) }

// Err 存在失败或阻塞单元时返回汇总错误
func (r *BatchResult) Err() error {
	failed, blocked := r.Failed(), r.Blocked()
	if len(failed) == 0 && len(blocked) == 0 {
		return nil
	}
	var b strings.Builder
	for _, id := range failed {
		b.WriteString(id + ": " + r.Units[id].Error + "\n")
	}
	err := types.Errorf(types.ErrUnitFailed, "%d unit(s) failed, %d blocked", len(failed), len(blocked)).
		WithDetail(strings.TrimSpace(b.String()))
	if len(failed) > 0 {
		err = err.WithUnit(failed[0])
	}
	return err
}

// Scheduler 依赖感知的批次调度器。
// 按拓扑分层逐层执行，层内单元并发；每个单元的产出经过质量门禁，
// 硬失败换用其他 agent 重试，用尽后标记失败并阻塞其下游单元。
type Scheduler struct {
	registry       *agent.Registry
	resolver       *AgentResolver
	gates          *gate.Pipeline
	checkpoints    *checkpoint.Manager
	sink           events.Publisher
	metrics        *metrics.Collector
	tracer         trace.Tracer
	logger         *zap.Logger
	maxConcurrency int
	maxRetries     int
}

// Option 配置 Scheduler
type Option func(*Scheduler)

// WithResolver 设置 agent 解析器
func WithResolver(r *AgentResolver) Option {
	return func(s *Scheduler) { s.resolver = r }
}

// WithGates 设置质量门禁流水线
func WithGates(p *gate.Pipeline) Option {
	return func(s *Scheduler) { s.gates = p }
}

// WithCheckpointManager 设置检查点管理器
func WithCheckpointManager(m *checkpoint.Manager) Option {
	return func(s *Scheduler) { s.checkpoints = m }
}

// WithSink 设置事件输出
func WithSink(p events.Publisher) Option {
	return func(s *Scheduler) { s.sink = p }
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = c }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer 设置 tracer
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMaxConcurrency 设置单层并发上限
func WithMaxConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// WithMaxRetries 设置重试次数，0 表示不重试
func WithMaxRetries(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// New 创建调度器
func New(registry *agent.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:       registry,
		sink:           events.Discard{},
		logger:         zap.NewNop(),
		maxConcurrency: DefaultMaxConcurrency,
		maxRetries:     DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = &AgentResolver{}
	}
	if s.gates == nil {
		s.gates = gate.NewPipeline(gate.WithLogger(s.logger))
	}
	if s.tracer == nil {
		s.tracer = telemetry.Tracer("scheduler")
	}
	if s.checkpoints == nil {
		s.checkpoints = checkpoint.NewManager(checkpoint.NewMemoryStore(), checkpoint.WithLogger(s.logger))
	}
	s.logger = s.logger.With(zap.String("component", "scheduler"))
	return s
}

// NewFromConfig 按调度配置创建，配置项可被 opts 覆盖。
// 启用熔断时 resolver 附带 BreakerSet，日志取自 opts 中的 WithLogger。
func NewFromConfig(registry *agent.Registry, cfg config.SchedulerConfig, opts ...Option) *Scheduler {
	configured := &Scheduler{}
	for _, opt := range opts {
		opt(configured)
	}
	resolver := NewAgentResolver(cfg)
	if cfg.Breaker.Enabled {
		resolver.Breakers = NewBreakerSet(BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		}, configured.logger)
	}
	base := []Option{
		WithResolver(resolver),
		WithMaxConcurrency(cfg.MaxConcurrency),
		WithMaxRetries(cfg.MaxRetries),
	}
	return New(registry, append(base, opts...)...)
}

// Checkpoints 返回调度器使用的检查点管理器
func (s *Scheduler) Checkpoints() *checkpoint.Manager { return s.checkpoints }

type runOptions struct {
	executionID string
}

// RunOption 单次调度的参数
type RunOption func(*runOptions)

// WithExecutionID 指定执行 id，为空时自动生成
func WithExecutionID(id string) RunOption {
	return func(o *runOptions) { o.executionID = id }
}

// run 一次调度的运行状态
type run struct {
	id      string
	stories map[string]*Story
	batches []Batch
	hash    string
	result  *BatchResult
	mu      sync.Mutex
}

// Run 校验并分层后逐层执行。依赖错误、未知 agent 在任何执行开始前返回。
// 单元失败不作为错误返回，通过 BatchResult 报告；ctx 结束时返回 ErrCanceled。
func (s *Scheduler) Run(ctx context.Context, stories []*Story, opts ...RunOption) (*BatchResult, error) {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.executionID == "" {
		o.executionID = uuid.New().String()
	}

	r, err := s.prepare(o.executionID, stories)
	if err != nil {
		return nil, err
	}
	for _, st := range stories {
		st.Status = StatusPending
		st.Attempts = 0
		st.AgentHistory = nil
	}
	return s.execute(ctx, r, 0)
}

// Resume 从批次检查点继续，已完成的层不再执行
func (s *Scheduler) Resume(ctx context.Context, executionID string, stories []*Story) (*BatchResult, error) {
	cp, err := s.checkpoints.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if cp.Batch == nil {
		return nil, types.Errorf(types.ErrCheckpointMismatch, "checkpoint %s is not a batch checkpoint", executionID)
	}

	r, err := s.prepare(executionID, stories)
	if err != nil {
		return nil, err
	}
	if cp.SchemaHash != r.hash {
		return nil, types.Errorf(types.ErrCheckpointMismatch,
			"checkpoint %s was captured from a different plan", executionID)
	}

	for id, up := range cp.Batch.Units {
		st, ok := r.stories[id]
		if !ok {
			continue
		}
		st.Status = Status(up.Status)
		st.Attempts = up.Attempts
		st.AgentHistory = append([]string(nil), up.AgentHistory...)
		if !st.Status.Terminal() {
			st.Status = StatusPending
		}
		u := r.result.Units[id]
		u.Status = st.Status
		u.Agent = up.Agent
		u.Attempts = up.Attempts
		u.AgentHistory = st.AgentHistory
		u.Error = up.Error
	}

	s.logger.Info("resuming batch",
		zap.String("execution_id", executionID),
		zap.Int("layer", cp.Batch.Layer),
		zap.Int("total_layers", len(r.batches)),
	)
	return s.execute(ctx, r, cp.Batch.Layer)
}

// prepare 分层并检查每个单元都能解析到已注册的 agent
func (s *Scheduler) prepare(id string, stories []*Story) (*run, error) {
	batches, err := ComputeBatches(stories)
	if err != nil {
		return nil, err
	}

	r := &run{
		id:      id,
		stories: make(map[string]*Story, len(stories)),
		batches: batches,
		hash:    planFingerprint(stories),
		result: &BatchResult{
			ExecutionID: id,
			Batches:     batches,
			Units:       make(map[string]*UnitResult, len(stories)),
		},
	}
	for _, b := range batches {
		for _, sid := range b.Stories {
			r.result.Units[sid] = &UnitResult{StoryID: sid, Layer: b.Index, Status: StatusPending}
		}
	}

	for _, st := range stories {
		r.stories[st.ID] = st
		candidates := s.resolver.Candidates(st)
		if len(candidates) == 0 {
			return nil, types.Errorf(types.ErrUnknownAgent, "no agent resolved for story %s", st.ID).WithUnit(st.ID)
		}
		for _, name := range candidates {
			if _, err := s.registry.Get(name); err != nil {
				return nil, types.Errorf(types.ErrUnknownAgent,
					"story %s resolves to unregistered agent %s", st.ID, name).WithUnit(st.ID).WithCause(err)
			}
		}
	}
	return r, nil
}

func (s *Scheduler) execute(ctx context.Context, r *run, fromLayer int) (*BatchResult, error) {
	start := time.Now()
	ctx = ctxkeys.WithExecutionID(ctx, r.id)
	ctx, span := s.tracer.Start(ctx, "scheduler.run", trace.WithAttributes(
		attribute.String("execution_id", r.id),
		attribute.Int("stories", len(r.stories)),
		attribute.Int("layers", len(r.batches)),
	))
	defer span.End()

	p := pool.New(pool.Config{MaxWorkers: s.maxConcurrency}, s.logger)
	defer p.Close()

	for li := fromLayer; li < len(r.batches); li++ {
		if err := ctx.Err(); err != nil {
			return s.cancel(span, r, err)
		}
		s.runLayer(ctx, p, r, r.batches[li])
		if err := ctx.Err(); err != nil {
			return s.cancel(span, r, err)
		}
		if err := s.save(ctx, r, li+1, checkpoint.StatusRunning); err != nil {
			r.result.Duration = time.Since(start)
			return s.saveFailed(span, r, li+1, err)
		}
	}

	r.result.Duration = time.Since(start)
	status := checkpoint.StatusCompleted
	runStatus := "completed"
	if len(r.result.Failed()) > 0 || len(r.result.Blocked()) > 0 {
		status = checkpoint.StatusFailed
		runStatus = "failed"
		span.SetStatus(codes.Error, "units failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if err := s.save(ctx, r, len(r.batches), status); err != nil {
		return s.saveFailed(span, r, len(r.batches), err)
	}
	s.publish(events.Envelope{
		Kind:        events.KindRunStatus,
		ExecutionID: r.id,
		Payload: map[string]any{
			"status":    runStatus,
			"succeeded": r.result.Succeeded(),
			"failed":    r.result.Failed(),
			"blocked":   r.result.Blocked(),
		},
		Timestamp: time.Now(),
	})
	s.logger.Info("batch finished",
		zap.String("execution_id", r.id),
		zap.String("status", runStatus),
		zap.Int("succeeded", len(r.result.Succeeded())),
		zap.Strings("failed", r.result.Failed()),
		zap.Strings("blocked", r.result.Blocked()),
		zap.Duration("duration", r.result.Duration),
	)
	return r.result, nil
}

// runLayer 并发执行一层；返回时层内所有单元都已是终态
func (s *Scheduler) runLayer(ctx context.Context, p *pool.Pool, r *run, b Batch) {
	start := time.Now()

	var runnable []*Story
	for _, id := range b.Stories {
		st := r.stories[id]
		if st.Status.Terminal() {
			continue
		}
		if dep, ok := s.failedDependency(r, st); ok {
			s.block(r, st, dep)
			continue
		}
		runnable = append(runnable, st)
	}

	tasks := make([]pool.Task, len(runnable))
	for i, st := range runnable {
		st := st
		tasks[i] = func(ctx context.Context) error {
			return s.runUnit(ctx, r, st)
		}
	}
	errs := p.RunAll(ctx, tasks)

	failed := false
	for i, err := range errs {
		st := runnable[i]
		if err != nil && ctx.Err() == nil {
			// 任务 panic 或无法启动
			s.finishUnit(r, st, StatusFailed, "", err)
		}
		if st.Status == StatusFailed {
			failed = true
		}
	}

	status := "ok"
	if failed {
		status = "failed"
	}
	s.metrics.RecordLayer(status, time.Since(start))
	s.logger.Debug("layer finished",
		zap.String("execution_id", r.id),
		zap.Int("layer", b.Index),
		zap.Int("units", len(b.Stories)),
		zap.Duration("duration", time.Since(start)),
	)
}

func (s *Scheduler) failedDependency(r *run, st *Story) (string, bool) {
	for _, dep := range st.Dependencies {
		if r.stories[dep].Status != StatusSucceeded {
			return dep, true
		}
	}
	return "", false
}

func (s *Scheduler) block(r *run, st *Story, dep string) {
	err := types.Errorf(types.ErrUnitBlocked, "story %s blocked by dependency %s", st.ID, dep).WithUnit(st.ID)
	s.finishUnit(r, st, StatusBlocked, "", err)
}

// runUnit 解析 agent、执行、过门禁；硬失败换用下一个候选 agent。
// 只有 ctx 结束时返回错误。
func (s *Scheduler) runUnit(ctx context.Context, r *run, st *Story) error {
	ctx = ctxkeys.WithUnitID(ctx, st.ID)
	ctx, span := s.tracer.Start(ctx, "scheduler.unit", trace.WithAttributes(
		attribute.String("unit_id", st.ID),
	))
	defer span.End()

	start := time.Now()
	s.setRunning(r, st)

	var lastErr error
	var lastAgent string
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		name, ok := s.resolver.Next(st, st.AgentHistory)
		if !ok {
			if lastErr == nil {
				lastErr = types.Errorf(types.ErrUnknownAgent, "no eligible agent for story %s", st.ID)
			}
			break
		}
		if attempt > 0 {
			s.metrics.RecordUnitRetry(name)
		}
		lastAgent = name
		s.recordAttempt(r, st, name)

		output, pr, err := s.attempt(ctx, r, st, name)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			s.recordBreaker(name, true)
			r.mu.Lock()
			u := r.result.Units[st.ID]
			u.Output = output
			if pr != nil {
				u.Warnings = append(u.Warnings, pr.Warnings...)
			}
			u.Duration = time.Since(start)
			r.mu.Unlock()
			s.finishUnit(r, st, StatusSucceeded, name, nil)
			span.SetStatus(codes.Ok, "")
			return nil
		}

		s.recordBreaker(name, false)
		lastErr = err
		s.logger.Info("unit attempt failed",
			zap.String("unit_id", st.ID),
			zap.String("agent", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	r.mu.Lock()
	r.result.Units[st.ID].Duration = time.Since(start)
	r.mu.Unlock()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	s.finishUnit(r, st, StatusFailed, lastAgent, lastErr)
	return nil
}

// attempt 用指定 agent 执行一次并运行门禁
func (s *Scheduler) attempt(ctx context.Context, r *run, st *Story, name string) (string, *gate.PipelineResult, error) {
	a, err := s.registry.Get(name)
	if err != nil {
		return "", nil, err
	}

	rc := agent.NewRunContext(s.registry)
	rc.ExecutionID = r.id
	rc.UnitID = st.ID
	in := agent.Input{
		Content: st.Prompt(),
		Data: map[string]any{
			"story_id": st.ID,
			"type":     st.Type,
			"phase":    st.Phase,
			"attempt":  st.Attempts,
		},
	}

	stream := agent.Execute(ctx, rc, a, in)
	var output string
	var runErr error
	for ev := range stream {
		ev.UnitID = st.ID
		s.publish(events.Envelope{
			Kind:        events.KindAgentEvent,
			ExecutionID: r.id,
			UnitID:      st.ID,
			Payload:     ev,
			Timestamp:   ev.Timestamp,
		})
		switch ev.Type {
		case agent.EventMessage:
			output = ev.Content
		case agent.EventError:
			runErr = ev.Err
		}
	}
	if runErr != nil {
		return "", nil, runErr
	}

	pr, err := s.gates.Run(ctx, gate.Artifact{
		UnitID:  st.ID,
		Agent:   name,
		Content: output,
		Metadata: map[string]string{
			"type":  st.Type,
			"phase": st.Phase,
		},
	})
	if err != nil {
		return "", nil, err
	}

	r.mu.Lock()
	u := r.result.Units[st.ID]
	u.Gates = append(u.Gates, pr)
	r.mu.Unlock()

	s.publish(events.Envelope{
		Kind:        events.KindGateResult,
		ExecutionID: r.id,
		UnitID:      st.ID,
		Payload:     pr,
		Timestamp:   time.Now(),
	})
	if pr.HardFailed {
		return "", pr, pr.Err()
	}
	return pr.Content, pr, nil
}

func (s *Scheduler) recordBreaker(name string, ok bool) {
	if s.resolver.Breakers == nil {
		return
	}
	if ok {
		s.resolver.Breakers.RecordSuccess(name)
	} else {
		s.resolver.Breakers.RecordFailure(name)
	}
}

func (s *Scheduler) setRunning(r *run, st *Story) {
	r.mu.Lock()
	st.Status = StatusRunning
	r.result.Units[st.ID].Status = StatusRunning
	r.mu.Unlock()
}

func (s *Scheduler) recordAttempt(r *run, st *Story, name string) {
	r.mu.Lock()
	st.Attempts++
	st.AgentHistory = append(st.AgentHistory, name)
	u := r.result.Units[st.ID]
	u.Agent = name
	u.Attempts = st.Attempts
	u.AgentHistory = append([]string(nil), st.AgentHistory...)
	attempt := st.Attempts
	r.mu.Unlock()

	s.publish(events.Envelope{
		Kind:        events.KindUnitStatus,
		ExecutionID: r.id,
		UnitID:      st.ID,
		Payload: map[string]any{
			"status":  string(StatusRunning),
			"agent":   name,
			"attempt": attempt,
		},
		Timestamp: time.Now(),
	})
}

func (s *Scheduler) finishUnit(r *run, st *Story, status Status, name string, err error) {
	r.mu.Lock()
	st.Status = status
	u := r.result.Units[st.ID]
	u.Status = status
	if name != "" {
		u.Agent = name
	}
	u.Err = err
	if err != nil {
		u.Error = err.Error()
	}
	r.mu.Unlock()

	s.metrics.RecordUnit(string(status))
	payload := map[string]any{
		"status":   string(status),
		"attempts": st.Attempts,
	}
	if u.Agent != "" {
		payload["agent"] = u.Agent
	}
	if err != nil {
		payload["error"] = err.Error()
		if code := types.GetErrorCode(err); code != "" {
			payload["code"] = string(code)
		}
	}
	s.publish(events.Envelope{
		Kind:        events.KindUnitStatus,
		ExecutionID: r.id,
		UnitID:      st.ID,
		Payload:     payload,
		Timestamp:   time.Now(),
	})
}

// cancel 取消时保留上一个层级检查点，返回当前结果与 ErrCanceled
func (s *Scheduler) cancel(span trace.Span, r *run, cause error) (*BatchResult, error) {
	err := types.NewError(types.ErrCanceled, "batch canceled").WithCause(cause)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.publish(events.Envelope{
		Kind:        events.KindRunStatus,
		ExecutionID: r.id,
		Payload:     map[string]any{"status": "canceled", "error": err.Error()},
		Timestamp:   time.Now(),
	})
	s.logger.Warn("batch canceled", zap.String("execution_id", r.id), zap.Error(cause))
	return r.result, err
}

// saveFailed 进度在管理器重试后仍未保存；停止调度并返回已有结果
func (s *Scheduler) saveFailed(span trace.Span, r *run, layer int, cause error) (*BatchResult, error) {
	err := types.Errorf(types.ErrCheckpointIO, "batch %s progress after layer %d not saved", r.id, layer).
		WithCause(cause)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.publish(events.Envelope{
		Kind:        events.KindRunStatus,
		ExecutionID: r.id,
		Payload:     map[string]any{"status": "failed", "error": err.Error(), "code": string(types.ErrCheckpointIO)},
		Timestamp:   time.Now(),
	})
	s.logger.Error("batch progress not saved",
		zap.String("execution_id", r.id),
		zap.Int("layer", layer),
		zap.Error(cause),
	)
	return r.result, err
}

func (s *Scheduler) save(ctx context.Context, r *run, layer int, status checkpoint.Status) error {
	r.mu.Lock()
	progress := &checkpoint.BatchProgress{
		Layer:       layer,
		TotalLayers: len(r.batches),
		Layers:      make([][]string, len(r.batches)),
		Units:       make(map[string]checkpoint.UnitProgress, len(r.result.Units)),
	}
	for i, b := range r.batches {
		progress.Layers[i] = append([]string(nil), b.Stories...)
	}
	for id, u := range r.result.Units {
		progress.Units[id] = checkpoint.UnitProgress{
			Status:       string(u.Status),
			Agent:        u.Agent,
			Attempts:     u.Attempts,
			AgentHistory: append([]string(nil), u.AgentHistory...),
			Error:        u.Error,
		}
	}
	r.mu.Unlock()

	return s.checkpoints.Save(context.WithoutCancel(ctx), &checkpoint.GraphCheckpoint{
		ExecutionID: r.id,
		GraphName:   batchGraphName,
		SchemaHash:  r.hash,
		Iteration:   layer,
		Status:      status,
		Batch:       progress,
	})
}

func (s *Scheduler) publish(env events.Envelope) {
	if err := s.sink.Publish(env); err != nil {
		s.logger.Debug("event not delivered",
			zap.String("kind", string(env.Kind)),
			zap.Error(err),
		)
	}
}

// planFingerprint 由单元 id 与依赖关系决定
func planFingerprint(stories []*Story) string {
	lines := make([]string, 0, len(stories))
	for _, st := range stories {
		deps := append([]string(nil), st.Dependencies...)
		sort.Strings(deps)
		lines = append(lines, fmt.Sprintf("%s<-%s", st.ID, strings.Join(deps, ",")))
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l + "\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
