package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/checkpoint"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/events"
	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/telemetry"
	"github.com/BaSui01/agentgraph/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultMaxIterations 单次运行允许的节点进入次数上限
	DefaultMaxIterations = 100
)

// Engine 图工作流执行引擎。
// 引擎本身无运行状态，可被多个运行并发复用；每次运行的状态保存在 execution 中。
type Engine struct {
	registry         *agent.Registry
	checkpoints      *checkpoint.Manager
	sink             events.Publisher
	metrics          *metrics.Collector
	tracer           trace.Tracer
	logger           *zap.Logger
	maxIterations    int
	maxTransferDepth int
}

// EngineOption 配置 Engine
type EngineOption func(*Engine)

// WithCheckpointManager 设置检查点管理器，未设置时使用内存存储
func WithCheckpointManager(m *checkpoint.Manager) EngineOption {
	return func(e *Engine) { e.checkpoints = m }
}

// WithSink 设置事件输出
func WithSink(p events.Publisher) EngineOption {
	return func(e *Engine) { e.sink = p }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

// WithMaxIterations 设置节点进入次数上限
func WithMaxIterations(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithMaxTransferDepth 设置节点内的最大转交深度
func WithMaxTransferDepth(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxTransferDepth = n
		}
	}
}

// WithTracer 设置 tracer
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine 创建引擎。节点的智能体按名称从 registry 解析。
func NewEngine(registry *agent.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:         registry,
		sink:             events.Discard{},
		logger:           zap.NewNop(),
		maxIterations:    DefaultMaxIterations,
		maxTransferDepth: agent.DefaultMaxTransferDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = telemetry.Tracer("workflow")
	}
	if e.checkpoints == nil {
		e.checkpoints = checkpoint.NewManager(checkpoint.NewMemoryStore(), checkpoint.WithLogger(e.logger))
	}
	e.logger = e.logger.With(zap.String("component", "workflow_engine"))
	return e
}

// NewEngineFromConfig 按引擎配置创建，配置项可被 opts 覆盖
func NewEngineFromConfig(registry *agent.Registry, cfg config.EngineConfig, opts ...EngineOption) *Engine {
	base := []EngineOption{
		WithMaxIterations(cfg.MaxIterations),
		WithMaxTransferDepth(cfg.MaxTransferDepth),
	}
	return NewEngine(registry, append(base, opts...)...)
}

// Checkpoints 返回引擎使用的检查点管理器
func (e *Engine) Checkpoints() *checkpoint.Manager { return e.checkpoints }

// RunOptions 单次运行的参数
type RunOptions struct {
	// ExecutionID 为空时自动生成
	ExecutionID string
	SessionID   string
	// Data 传给每个节点的附加数据，节点的 Step.Config 覆盖同名键
	Data map[string]any
	// State 在进入入口节点前应用的初始更新
	State map[string]any
}

// Decision 人工审核的决定
type Decision struct {
	Approved bool
	// Input 非空时替换被中断节点的输入（before）或输出（after）
	Input        string
	StateUpdates map[string]any
	Reason       string
}

// RunResult 一次运行（或恢复）的结果
type RunResult struct {
	ExecutionID string                `json:"execution_id"`
	Status      checkpoint.Status     `json:"status"`
	Output      string                `json:"output"`
	State       map[string]any        `json:"state"`
	Iterations  int                   `json:"iterations"`
	Visits      map[string]int        `json:"visits"`
	Interrupt   *checkpoint.Interrupt `json:"interrupt,omitempty"`
	History     []*NodeExecution      `json:"history,omitempty"`
}

// execution 单次运行的可变状态，只由驱动循环访问
type execution struct {
	graph     *Graph
	id        string
	sessionID string
	data      map[string]any
	state     *State
	iteration int
	visits    map[string]int
	history   *ExecutionHistory
}

// entryMode 进入节点的方式
type entryMode int

const (
	entryNormal entryMode = iota
	// entryApproved 已通过 before 中断审核，跳过 before 检查
	entryApproved
	// entryResolved 节点已执行完毕（after 中断审核通过），直接解析出边
	entryResolved
)

type nodeResult struct {
	output    string
	updates   []map[string]any
	transfers int
}

// Run 从入口节点开始执行图
func (e *Engine) Run(ctx context.Context, g *Graph, input string, opts RunOptions) (*RunResult, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	id := opts.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}
	state, err := NewState(g.Schema)
	if err != nil {
		return nil, err
	}
	if len(opts.State) > 0 {
		if err := state.Apply(opts.State); err != nil {
			return nil, err
		}
	}

	ex := &execution{
		graph:     g,
		id:        id,
		sessionID: opts.SessionID,
		data:      opts.Data,
		state:     state,
		visits:    make(map[string]int),
		history:   NewExecutionHistory(id, g.Name),
	}

	e.logger.Info("graph run started",
		zap.String("graph", g.Name),
		zap.String("execution_id", id),
	)
	// 入口节点执行前的边界，取消或崩溃后可从入口恢复
	if err := e.save(ctx, ex, g.Entry, input, checkpoint.StatusRunning, nil); err != nil {
		e.finish(ex, checkpoint.StatusFailed, err)
		return e.result(ex, checkpoint.StatusFailed, "", nil), err
	}
	return e.loop(ctx, ex, g.Entry, input, entryNormal)
}

// Resume 从检查点继续执行。
// 有待处理中断时按 decision 处理；没有时从检查点记录的节点继续（崩溃恢复）。
func (e *Engine) Resume(ctx context.Context, g *Graph, executionID string, decision Decision) (*RunResult, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	cp, err := e.checkpoints.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if cp.SchemaHash != g.Fingerprint() {
		return nil, types.Errorf(types.ErrCheckpointMismatch,
			"checkpoint %s was written by a different graph structure (%s)", executionID, cp.GraphName)
	}

	state, err := NewState(g.Schema)
	if err != nil {
		return nil, err
	}
	if err := state.Restore(cp.Channels); err != nil {
		return nil, err
	}

	ex := &execution{
		graph:     g,
		id:        cp.ExecutionID,
		sessionID: cp.SessionID,
		data:      cp.Data,
		state:     state,
		iteration: cp.Iteration,
		visits:    make(map[string]int, len(cp.Visits)),
		history:   NewExecutionHistory(cp.ExecutionID, g.Name),
	}
	for k, v := range cp.Visits {
		ex.visits[k] = v
	}

	log := e.logger.With(zap.String("graph", g.Name), zap.String("execution_id", executionID))

	intr, ok := cp.PendingInterrupt()
	if !ok {
		if cp.Status.Terminal() {
			log.Info("execution already finished", zap.String("status", string(cp.Status)))
			return e.result(ex, cp.Status, cp.Input, nil), nil
		}
		if len(decision.StateUpdates) > 0 {
			if err := state.Apply(decision.StateUpdates); err != nil {
				return nil, err
			}
		}
		log.Info("resuming interrupted run", zap.String("node", cp.CurrentNode))
		return e.loop(ctx, ex, cp.CurrentNode, cp.Input, entryNormal)
	}

	if !decision.Approved {
		log.Info("interrupt rejected",
			zap.String("node", intr.NodeID),
			zap.String("reason", decision.Reason),
		)
		if err := e.save(ctx, ex, intr.NodeID, cp.Input, checkpoint.StatusRejected, nil); err != nil {
			return nil, err
		}
		e.finish(ex, checkpoint.StatusRejected, nil)
		output := ""
		if intr.Phase == checkpoint.PhaseAfter {
			output = cp.Input
		}
		return e.result(ex, checkpoint.StatusRejected, output, nil), nil
	}

	if len(decision.StateUpdates) > 0 {
		if err := state.Apply(decision.StateUpdates); err != nil {
			return nil, err
		}
	}
	input := cp.Input
	if decision.Input != "" {
		input = decision.Input
	}

	log.Info("interrupt approved",
		zap.String("node", intr.NodeID),
		zap.String("phase", string(intr.Phase)),
	)
	if intr.Phase == checkpoint.PhaseAfter {
		return e.loop(ctx, ex, intr.NodeID, input, entryResolved)
	}
	return e.loop(ctx, ex, intr.NodeID, input, entryApproved)
}

// loop 驱动循环：进入节点、执行、应用状态、解析下一条边
func (e *Engine) loop(ctx context.Context, ex *execution, nodeID, input string, mode entryMode) (*RunResult, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("graph.name", ex.graph.Name),
		attribute.String("execution.id", ex.id),
	))
	defer span.End()
	ctx = ctxkeys.WithExecutionID(ctx, ex.id)

	current := nodeID
	for {
		node, ok := ex.graph.Node(current)
		if !ok {
			return e.fail(span, ex, types.Errorf(types.ErrInvalidGraph, "node %s does not exist", current))
		}

		output := input
		if mode != entryResolved {
			if err := ctx.Err(); err != nil {
				return e.fail(span, ex, types.NewError(types.ErrCanceled, "execution canceled").
					WithCause(err).WithNode(current))
			}

			if node.Interrupt == InterruptBefore && mode != entryApproved {
				return e.interrupt(ctx, ex, node, checkpoint.PhaseBefore, input)
			}

			if ex.iteration >= e.maxIterations {
				return e.fail(span, ex, types.Errorf(types.ErrCycleDetected,
					"node %s would be entry %d, exceeding max iterations %d",
					current, ex.iteration+1, e.maxIterations).WithNode(current))
			}
			ex.iteration++
			ex.visits[current]++

			res, err := e.runNode(ctx, ex, node, input)
			if err != nil {
				return e.fail(span, ex, err)
			}
			if err := ex.state.ApplyAll(res.updates); err != nil {
				return e.fail(span, ex, withNode(err, current))
			}
			output = res.output

			if node.Interrupt == InterruptAfter {
				return e.interrupt(ctx, ex, node, checkpoint.PhaseAfter, output)
			}
		}
		mode = entryNormal

		next, err := e.nextNode(ex, node)
		if err != nil {
			return e.fail(span, ex, err)
		}
		if next == "" {
			if err := e.save(ctx, ex, current, output, checkpoint.StatusCompleted, nil); err != nil {
				return e.fail(span, ex, err)
			}
			e.finish(ex, checkpoint.StatusCompleted, nil)
			span.SetStatus(codes.Ok, "")
			return e.result(ex, checkpoint.StatusCompleted, output, nil), nil
		}

		if err := e.save(ctx, ex, next, output, checkpoint.StatusRunning, nil); err != nil {
			return e.fail(span, ex, err)
		}
		current, input = next, output
	}
}

// runNode 通过转交驱动执行节点的智能体，事件逐个转发到 sink
func (e *Engine) runNode(ctx context.Context, ex *execution, node *Node, input string) (*nodeResult, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.agent", node.Step.Agent),
		attribute.Int("iteration", ex.iteration),
	))
	defer span.End()
	ctx = ctxkeys.WithNodeID(ctx, node.ID)

	rec := ex.history.RecordNodeStart(node.ID, node.Step.Agent, ex.iteration)
	start := time.Now()

	res, err := e.execNode(ctx, ex, node, input)
	ex.history.RecordNodeEnd(rec, res, err)

	status := "success"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.RecordNodeExecution(ex.graph.Name, node.ID, status, time.Since(start))

	e.logger.Debug("node finished",
		zap.String("execution_id", ex.id),
		zap.String("node", node.ID),
		zap.Int("iteration", ex.iteration),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return res, err
}

func (e *Engine) execNode(ctx context.Context, ex *execution, node *Node, input string) (*nodeResult, error) {
	a, err := e.registry.Get(node.Step.Agent)
	if err != nil {
		return nil, withNode(err, node.ID)
	}

	rc := &agent.RunContext{
		State:            ex.state,
		Registry:         e.registry,
		ExecutionID:      ex.id,
		SessionID:        ex.sessionID,
		NodeID:           node.ID,
		MaxTransferDepth: e.maxTransferDepth,
	}
	in := agent.Input{Content: input, Data: mergeData(ex.data, node.Step.Config)}

	res := &nodeResult{}
	var runErr error
	for ev := range agent.Execute(ctx, rc, a, in) {
		e.publish(events.Envelope{
			Kind:        events.KindAgentEvent,
			ExecutionID: ex.id,
			NodeID:      node.ID,
			Payload:     ev,
			Timestamp:   ev.Timestamp,
		})
		switch ev.Type {
		case agent.EventMessage:
			res.output = ev.Content
		case agent.EventStateUpdate:
			res.updates = append(res.updates, ev.StateUpdates)
		case agent.EventTransfer:
			if ev.Transfer != nil && ev.Transfer.Handled {
				res.transfers++
				e.metrics.RecordTransfer(ev.AgentID, ev.Transfer.Target)
			}
		case agent.EventError:
			runErr = ev.Err
		}
	}

	if runErr != nil {
		return res, withNode(runErr, node.ID)
	}
	if err := ctx.Err(); err != nil {
		return res, types.NewError(types.ErrCanceled, "execution canceled").WithCause(err).WithNode(node.ID)
	}
	return res, nil
}

// nextNode 按声明顺序返回第一条可走边的目标；没有可走边时返回空串
func (e *Engine) nextNode(ex *execution, node *Node) (string, error) {
	for _, edge := range ex.graph.Outgoing(node.ID) {
		ok, err := edge.Matches(ex.state)
		if err != nil {
			return "", types.Errorf(types.ErrInvalidGraph, "edge %s->%s: condition evaluation failed", edge.From, edge.To).
				WithCause(err).WithNode(node.ID)
		}
		if ok {
			return edge.To, nil
		}
	}
	return "", nil
}

// interrupt 保存带待处理中断的检查点并暂停运行
func (e *Engine) interrupt(ctx context.Context, ex *execution, node *Node, phase checkpoint.Phase, content string) (*RunResult, error) {
	key := "input"
	if phase == checkpoint.PhaseAfter {
		key = "output"
	}
	intr := &checkpoint.Interrupt{
		ID:        uuid.NewString(),
		NodeID:    node.ID,
		Phase:     phase,
		Payload:   map[string]any{key: content, "agent": node.Step.Agent},
		CreatedAt: time.Now().UTC(),
	}
	if err := e.save(ctx, ex, node.ID, content, checkpoint.StatusInterrupted, intr); err != nil {
		return nil, err
	}
	ex.history.RecordInterrupt(node.ID, ex.iteration)
	e.finish(ex, checkpoint.StatusInterrupted, nil)

	e.logger.Info("run interrupted",
		zap.String("execution_id", ex.id),
		zap.String("node", node.ID),
		zap.String("phase", string(phase)),
	)

	output := ""
	if phase == checkpoint.PhaseAfter {
		output = content
	}
	return e.result(ex, checkpoint.StatusInterrupted, output, intr), nil
}

func (e *Engine) save(ctx context.Context, ex *execution, current, input string, status checkpoint.Status, intr *checkpoint.Interrupt) error {
	visits := make(map[string]int, len(ex.visits))
	for k, v := range ex.visits {
		visits[k] = v
	}
	cp := &checkpoint.GraphCheckpoint{
		ExecutionID: ex.id,
		SessionID:   ex.sessionID,
		GraphName:   ex.graph.Name,
		SchemaHash:  ex.graph.Fingerprint(),
		CurrentNode: current,
		Input:       input,
		Data:        ex.data,
		Channels:    ex.state.Snapshot(),
		Iteration:   ex.iteration,
		Visits:      visits,
		Status:      status,
	}
	if intr != nil {
		cp.PendingInterrupts = []checkpoint.Interrupt{*intr}
	}
	// 调用方的 ctx 取消后仍需落盘，否则最后一个有效状态会丢失
	return e.checkpoints.Save(context.WithoutCancel(ctx), cp)
}

// fail 记录失败。失败不写检查点，上一个检查点保持可恢复。
func (e *Engine) fail(span trace.Span, ex *execution, err error) (*RunResult, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.finish(ex, checkpoint.StatusFailed, err)
	e.logger.Warn("graph run failed",
		zap.String("graph", ex.graph.Name),
		zap.String("execution_id", ex.id),
		zap.String("code", string(types.GetErrorCode(err))),
		zap.Error(err),
	)
	return e.result(ex, checkpoint.StatusFailed, "", nil), err
}

// finish 发出运行状态事件并记录指标
func (e *Engine) finish(ex *execution, status checkpoint.Status, err error) {
	e.metrics.RecordGraphRun(ex.graph.Name, string(status))
	payload := map[string]any{
		"status":     string(status),
		"iterations": ex.iteration,
	}
	if err != nil {
		payload["error"] = err.Error()
		payload["code"] = string(types.GetErrorCode(err))
	}
	e.publish(events.Envelope{
		Kind:        events.KindRunStatus,
		ExecutionID: ex.id,
		Payload:     payload,
		Timestamp:   time.Now(),
	})
}

func (e *Engine) publish(env events.Envelope) {
	if err := e.sink.Publish(env); err != nil {
		e.logger.Debug("event not delivered",
			zap.String("kind", string(env.Kind)),
			zap.Error(err),
		)
	}
}

func (e *Engine) result(ex *execution, status checkpoint.Status, output string, intr *checkpoint.Interrupt) *RunResult {
	visits := make(map[string]int, len(ex.visits))
	for k, v := range ex.visits {
		visits[k] = v
	}
	return &RunResult{
		ExecutionID: ex.id,
		Status:      status,
		Output:      output,
		State:       ex.state.Snapshot(),
		Iterations:  ex.iteration,
		Visits:      visits,
		Interrupt:   intr,
		History:     ex.history.GetNodes(),
	}
}

func mergeData(base, overrides map[string]any) map[string]any {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// withNode 在结构化错误上补充节点 ID
func withNode(err error, nodeID string) error {
	var te *types.Error
	if errors.As(err, &te) && te.NodeID == "" {
		te.NodeID = nodeID
	}
	return err
}
