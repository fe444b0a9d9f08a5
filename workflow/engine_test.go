package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/checkpoint"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/events"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// countingAgent 记录调用次数，输出 "<id>(<input>)"，可附带状态更新
type countingAgent struct {
	id      string
	calls   atomic.Int32
	updates func(state agent.StateReader) map[string]any
}

func (c *countingAgent) ID() string { return c.id }

func (c *countingAgent) Run(ctx context.Context, rc *agent.RunContext, in agent.Input) <-chan agent.Event {
	return agent.NewStream(ctx, rc, c.id, func(emit agent.Emit) error {
		c.calls.Add(1)
		if c.updates != nil {
			if u := c.updates(rc.StateOrEmpty()); len(u) > 0 {
				emit(agent.StateUpdateEvent(c.id, u))
			}
		}
		emit(agent.MessageEvent(c.id, fmt.Sprintf("%s(%s)", c.id, in.Content)))
		return nil
	})
}

func newCounting(id string) *countingAgent { return &countingAgent{id: id} }

func newRegistry(t *testing.T, agents ...agent.Agent) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry(zap.NewNop())
	for _, a := range agents {
		require.NoError(t, reg.Register(a))
	}
	return reg
}

// reviewAgents writer 每次追加一份草稿；reviewer 在第二份草稿后置 done
func reviewAgents() (writer, reviewer, publisher *countingAgent) {
	writer = &countingAgent{id: "writer", updates: func(agent.StateReader) map[string]any {
		return map[string]any{"drafts": "draft"}
	}}
	reviewer = &countingAgent{id: "reviewer", updates: func(s agent.StateReader) map[string]any {
		drafts, _ := s.Get("drafts")
		return map[string]any{"done": len(drafts.([]any)) >= 2}
	}}
	publisher = newCounting("publisher")
	return
}

func drainSink(sink *events.Sink) []events.Envelope {
	var out []events.Envelope
	for {
		select {
		case env := <-sink.C():
			out = append(out, env)
		default:
			return out
		}
	}
}

func nodePath(res *RunResult) []string {
	path := make([]string, 0, len(res.History))
	for _, n := range res.History {
		if n.Status == NodeStatusCompleted {
			path = append(path, n.NodeID)
		}
	}
	return path
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestEngine_RunLoopsUntilConditionHolds(t *testing.T) {
	writer, reviewer, publisher := reviewAgents()
	reg := newRegistry(t, writer, reviewer, publisher)
	engine := NewEngine(reg)

	g, err := reviewLoop().Build()
	require.NoError(t, err)

	res, err := engine.Run(context.Background(), g, "topic", RunOptions{ExecutionID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
	assert.Equal(t, "run-1", res.ExecutionID)
	assert.Equal(t, "publisher(reviewer(writer(reviewer(writer(topic)))))", res.Output)
	assert.Equal(t, 5, res.Iterations)
	assert.Equal(t, map[string]int{"write": 2, "review": 2, "publish": 1}, res.Visits)
	assert.Equal(t, []string{"write", "review", "write", "review", "publish"}, nodePath(res))
	assert.Equal(t, true, res.State["done"])
	assert.Len(t, res.State["drafts"], 2)

	cp, err := engine.Checkpoints().Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, cp.Status)
	assert.Equal(t, g.Fingerprint(), cp.SchemaHash)
	assert.Equal(t, 5, cp.Iteration)
}

func TestEngine_RunGeneratesExecutionID(t *testing.T) {
	reg := newRegistry(t, newCounting("solo"))
	g, err := NewGraphBuilder("single").AddNode("only", "solo").Terminal().Done().SetEntry("only").Build()
	require.NoError(t, err)

	res, err := NewEngine(reg).Run(context.Background(), g, "x", RunOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, "solo(x)", res.Output)
}

func TestEngine_RunPassesNodeConfigAndData(t *testing.T) {
	var seen map[string]any
	probe := agent.NewFuncAgent("probe", func(_ context.Context, rc *agent.RunContext, in agent.Input, emit agent.Emit) error {
		seen = in.Data
		emit(agent.MessageEvent("probe", rc.NodeID+":"+rc.ExecutionID))
		return nil
	})
	reg := newRegistry(t, probe)
	g, err := NewGraphBuilder("cfg").
		AddNode("n", "probe").WithConfig("tone", "dry").WithConfig("lang", "go").Terminal().Done().
		SetEntry("n").
		Build()
	require.NoError(t, err)

	res, err := NewEngine(reg).Run(context.Background(), g, "", RunOptions{
		ExecutionID: "exec",
		Data:        map[string]any{"lang": "en", "user": "u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "n:exec", res.Output)
	assert.Equal(t, map[string]any{"lang": "go", "tone": "dry", "user": "u1"}, seen)
}

func TestEngine_RunRejectsInvalidGraph(t *testing.T) {
	g := NewGraph("empty")
	_, err := NewEngine(newRegistry(t)).Run(context.Background(), g, "", RunOptions{})
	require.Error(t, err)
	assert.True(t, types.IsConfiguration(err))
}

func TestEngine_UnknownAgentFails(t *testing.T) {
	g, err := NewGraphBuilder("g").AddNode("a", "ghost").Terminal().Done().SetEntry("a").Build()
	require.NoError(t, err)

	res, err := NewEngine(newRegistry(t)).Run(context.Background(), g, "", RunOptions{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUnknownAgent))
	assert.Equal(t, checkpoint.StatusFailed, res.Status)
}

func TestEngine_UndeclaredChannelUpdateFails(t *testing.T) {
	bad := agent.Static("bad", "out", map[string]any{"nope": 1})
	g, err := NewGraphBuilder("g").AddNode("a", "bad").Terminal().Done().SetEntry("a").Build()
	require.NoError(t, err)

	_, err = NewEngine(newRegistry(t, bad)).Run(context.Background(), g, "", RunOptions{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStateUpdate))

	te, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "a", te.NodeID)
}

func TestEngine_InitialState(t *testing.T) {
	writer, reviewer, publisher := reviewAgents()
	reviewer.updates = nil
	reg := newRegistry(t, writer, reviewer, publisher)
	g, err := reviewLoop().Build()
	require.NoError(t, err)

	res, err := NewEngine(reg).Run(context.Background(), g, "t", RunOptions{State: map[string]any{"done": true}})
	require.NoError(t, err)
	assert.Equal(t, []string{"write", "review", "publish"}, nodePath(res))
}

func TestEngine_TransferInsideNode(t *testing.T) {
	router := agent.NewFuncAgent("router", func(_ context.Context, _ *agent.RunContext, _ agent.Input, emit agent.Emit) error {
		emit(agent.TransferEvent("router", "helper", "specialist needed"))
		return nil
	})
	helper := newCounting("helper")
	reg := newRegistry(t, router, helper)

	collector := metrics.NewCollector("test", prometheus.NewRegistry(), nil)
	g, err := NewGraphBuilder("g").AddNode("a", "router").Terminal().Done().SetEntry("a").Build()
	require.NoError(t, err)

	res, err := NewEngine(reg, WithMetrics(collector)).Run(context.Background(), g, "q", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "helper(q)", res.Output)
	require.Len(t, res.History, 1)
	assert.Equal(t, 1, res.History[0].Transfers)
}

func TestEngine_TransferDepthLimit(t *testing.T) {
	ping := agent.NewFuncAgent("ping", func(_ context.Context, _ *agent.RunContext, _ agent.Input, emit agent.Emit) error {
		emit(agent.TransferEvent("ping", "pong", ""))
		return nil
	})
	pong := agent.NewFuncAgent("pong", func(_ context.Context, _ *agent.RunContext, _ agent.Input, emit agent.Emit) error {
		emit(agent.TransferEvent("pong", "ping", ""))
		return nil
	})
	reg := newRegistry(t, ping, pong)
	g, err := NewGraphBuilder("g").AddNode("a", "ping").Terminal().Done().SetEntry("a").Build()
	require.NoError(t, err)

	res, err := NewEngine(reg, WithMaxTransferDepth(3)).Run(context.Background(), g, "", RunOptions{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTransferDepthExceeded))
	assert.True(t, types.IsLimit(err))
	assert.Equal(t, 3, res.History[0].Transfers)
}

// ---------------------------------------------------------------------------
// cycle ceiling
// ---------------------------------------------------------------------------

func TestEngine_CycleCeiling(t *testing.T) {
	reg := newRegistry(t, newCounting("x"))
	g, err := NewGraphBuilder("ping-pong").
		AddNode("ping", "x").Done().
		AddNode("pong", "x").Done().
		AddEdge("ping", "pong").
		AddEdge("pong", "ping").
		SetEntry("ping").
		Build()
	require.NoError(t, err)

	engine := NewEngine(reg, WithMaxIterations(5))
	res, err := engine.Run(context.Background(), g, "", RunOptions{ExecutionID: "loop"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCycleDetected))
	assert.True(t, types.IsLimit(err))
	assert.Equal(t, checkpoint.StatusFailed, res.Status)
	assert.Equal(t, 5, res.Iterations)

	cp, err := engine.Checkpoints().Load(context.Background(), "loop")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusRunning, cp.Status)
	assert.Equal(t, 5, cp.Iteration)
	assert.Equal(t, "pong", cp.CurrentNode)
}

func TestNewEngineFromConfig(t *testing.T) {
	reg := newRegistry(t, newCounting("x"))
	g, err := NewGraphBuilder("ping-pong").
		AddNode("ping", "x").Done().
		AddNode("pong", "x").Done().
		AddEdge("ping", "pong").
		AddEdge("pong", "ping").
		SetEntry("ping").
		Build()
	require.NoError(t, err)

	cfg := config.DefaultEngineConfig()
	cfg.MaxIterations = 3
	res, err := NewEngineFromConfig(reg, cfg).Run(context.Background(), g, "", RunOptions{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCycleDetected))
	assert.Equal(t, 3, res.Iterations)
}

// ---------------------------------------------------------------------------
// interrupts and resume
// ---------------------------------------------------------------------------

func interruptGraph(t *testing.T, mode InterruptMode) *Graph {
	t.Helper()
	b := NewGraphBuilder("approval").
		AddChannel("done", ReducerOverwrite, false).
		AddChannel("drafts", ReducerAppend, nil).
		AddNode("write", "writer").Done()
	nb := b.AddNode("review", "reviewer")
	switch mode {
	case InterruptBefore:
		nb.InterruptBefore()
	case InterruptAfter:
		nb.InterruptAfter()
	}
	g, err := nb.Done().
		AddNode("publish", "publisher").Terminal().Done().
		AddEdge("write", "review").
		AddExprEdge("review", "publish", "state.done == true").
		AddEdge("review", "write").
		SetEntry("write").
		Build()
	require.NoError(t, err)
	return g
}

func TestEngine_InterruptBeforeAndApprove(t *testing.T) {
	writer, _, publisher := reviewAgents()
	reviewer := &countingAgent{id: "reviewer", updates: func(agent.StateReader) map[string]any {
		return map[string]any{"done": true}
	}}
	engine := NewEngine(newRegistry(t, writer, reviewer, publisher))
	g := interruptGraph(t, InterruptBefore)
	ctx := context.Background()

	res, err := engine.Run(ctx, g, "topic", RunOptions{ExecutionID: "hitl"})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusInterrupted, res.Status)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, "review", res.Interrupt.NodeID)
	assert.Equal(t, checkpoint.PhaseBefore, res.Interrupt.Phase)
	assert.Equal(t, "writer(topic)", res.Interrupt.Payload["input"])
	assert.Equal(t, int32(0), reviewer.calls.Load())
	assert.Equal(t, 1, res.Iterations)

	cp, err := engine.Checkpoints().Load(ctx, "hitl")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusInterrupted, cp.Status)
	pending, ok := cp.PendingInterrupt()
	require.True(t, ok)
	assert.Equal(t, "review", pending.NodeID)

	res, err = engine.Resume(ctx, g, "hitl", Decision{Approved: true, Input: "edited"})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
	assert.Equal(t, "publisher(reviewer(edited))", res.Output)
	assert.Equal(t, int32(1), reviewer.calls.Load())
	assert.Equal(t, 3, res.Iterations)

	cp, err = engine.Checkpoints().Load(ctx, "hitl")
	require.NoError(t, err)
	_, ok = cp.PendingInterrupt()
	assert.False(t, ok)
}

func TestEngine_InterruptBeforeReject(t *testing.T) {
	writer, reviewer, publisher := reviewAgents()
	engine := NewEngine(newRegistry(t, writer, reviewer, publisher))
	g := interruptGraph(t, InterruptBefore)
	ctx := context.Background()

	_, err := engine.Run(ctx, g, "topic", RunOptions{ExecutionID: "rej"})
	require.NoError(t, err)

	res, err := engine.Resume(ctx, g, "rej", Decision{Approved: false, Reason: "off topic"})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusRejected, res.Status)
	assert.Equal(t, int32(0), reviewer.calls.Load())

	// 已结束的执行再次恢复不会重新运行
	res, err = engine.Resume(ctx, g, "rej", Decision{Approved: true})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusRejected, res.Status)
	assert.Equal(t, int32(0), reviewer.calls.Load())
	assert.Equal(t, int32(1), writer.calls.Load())
	assert.Equal(t, int32(0), publisher.calls.Load())
}

func TestEngine_InterruptAfterWithStateUpdates(t *testing.T) {
	writer, _, publisher := reviewAgents()
	reviewer := newCounting("reviewer")
	engine := NewEngine(newRegistry(t, writer, reviewer, publisher))
	g := interruptGraph(t, InterruptAfter)
	ctx := context.Background()

	res, err := engine.Run(ctx, g, "topic", RunOptions{ExecutionID: "after"})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusInterrupted, res.Status)
	assert.Equal(t, checkpoint.PhaseAfter, res.Interrupt.Phase)
	assert.Equal(t, "reviewer(writer(topic))", res.Output)
	assert.Equal(t, int32(1), reviewer.calls.Load())

	res, err = engine.Resume(ctx, g, "after", Decision{
		Approved:     true,
		StateUpdates: map[string]any{"done": true},
	})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
	assert.Equal(t, "publisher(reviewer(writer(topic)))", res.Output)
	assert.Equal(t, int32(1), reviewer.calls.Load(), "approved node is not executed again")
	assert.Equal(t, map[string]int{"write": 1, "review": 1, "publish": 1}, res.Visits)
}

func TestEngine_ResumeSchemaMismatch(t *testing.T) {
	writer, reviewer, publisher := reviewAgents()
	engine := NewEngine(newRegistry(t, writer, reviewer, publisher))
	ctx := context.Background()

	_, err := engine.Run(ctx, interruptGraph(t, InterruptBefore), "topic", RunOptions{ExecutionID: "mm"})
	require.NoError(t, err)

	changed, err := NewGraphBuilder("approval").
		AddChannel("done", ReducerOverwrite, false).
		AddChannel("drafts", ReducerAppend, nil).
		AddChannel("extra", ReducerSum, 0).
		AddNode("write", "writer").Done().
		AddNode("review", "reviewer").InterruptBefore().Done().
		AddNode("publish", "publisher").Terminal().Done().
		AddEdge("write", "review").
		AddEdge("review", "publish").
		SetEntry("write").
		Build()
	require.NoError(t, err)

	_, err = engine.Resume(ctx, changed, "mm", Decision{Approved: true})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCheckpointMismatch))
}

func TestEngine_ResumeMissingCheckpoint(t *testing.T) {
	writer, reviewer, publisher := reviewAgents()
	engine := NewEngine(newRegistry(t, writer, reviewer, publisher))

	_, err := engine.Resume(context.Background(), interruptGraph(t, InterruptNone), "nope", Decision{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, checkpoint.ErrNotFound))
}

func TestEngine_CrashResumeContinuesFromCheckpoint(t *testing.T) {
	first := newCounting("first")
	var failures atomic.Int32
	flaky := agent.NewFuncAgent("flaky", func(_ context.Context, _ *agent.RunContext, in agent.Input, emit agent.Emit) error {
		if failures.Add(1) == 1 {
			return errors.New("worker crashed")
		}
		emit(agent.MessageEvent("flaky", "flaky("+in.Content+")"))
		return nil
	})
	engine := NewEngine(newRegistry(t, first, flaky))
	g, err := NewGraphBuilder("crash").
		AddNode("a", "first").Done().
		AddNode("b", "flaky").Terminal().Done().
		AddEdge("a", "b").
		SetEntry("a").
		Build()
	require.NoError(t, err)
	ctx := context.Background()

	res, err := engine.Run(ctx, g, "in", RunOptions{ExecutionID: "crash"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrAgentFailed))
	assert.Equal(t, checkpoint.StatusFailed, res.Status)

	cp, err := engine.Checkpoints().Load(ctx, "crash")
	require.NoError(t, err)
	assert.Equal(t, "b", cp.CurrentNode)
	assert.Equal(t, "first(in)", cp.Input)

	res, err = engine.Resume(ctx, g, "crash", Decision{})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
	assert.Equal(t, "flaky(first(in))", res.Output)
	assert.Equal(t, int32(1), first.calls.Load())
}

func TestEngine_CancellationKeepsLastCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := newCounting("first")
	blocker := agent.NewFuncAgent("blocker", func(ctx context.Context, _ *agent.RunContext, _ agent.Input, _ agent.Emit) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	engine := NewEngine(newRegistry(t, first, blocker))
	g, err := NewGraphBuilder("cancel").
		AddNode("a", "first").Done().
		AddNode("b", "blocker").Terminal().Done().
		AddEdge("a", "b").
		SetEntry("a").
		Build()
	require.NoError(t, err)

	_, err = engine.Run(ctx, g, "in", RunOptions{ExecutionID: "cancel"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCanceled))

	cp, err := engine.Checkpoints().Load(context.Background(), "cancel")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusRunning, cp.Status)
	assert.Equal(t, "b", cp.CurrentNode)
}

func TestEngine_CancelInEntryNodeIsResumable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	solo := agent.NewFuncAgent("solo", func(ctx context.Context, _ *agent.RunContext, in agent.Input, emit agent.Emit) error {
		if calls.Add(1) == 1 {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
		emit(agent.MessageEvent("solo", "solo("+in.Content+")"))
		return nil
	})
	engine := NewEngine(newRegistry(t, solo))
	g, err := NewGraphBuilder("single").AddNode("only", "solo").Terminal().Done().SetEntry("only").Build()
	require.NoError(t, err)

	_, err = engine.Run(ctx, g, "in", RunOptions{ExecutionID: "entry"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCanceled))

	cp, err := engine.Checkpoints().Load(context.Background(), "entry")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusRunning, cp.Status)
	assert.Equal(t, "only", cp.CurrentNode)
	assert.Equal(t, "in", cp.Input)
	assert.Equal(t, 0, cp.Iteration)

	res, err := engine.Resume(context.Background(), g, "entry", Decision{})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
	assert.Equal(t, "solo(in)", res.Output)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEngine_ResumeKeepsSessionID(t *testing.T) {
	var sessions []string
	reviewer := agent.NewFuncAgent("reviewer", func(_ context.Context, rc *agent.RunContext, in agent.Input, emit agent.Emit) error {
		sessions = append(sessions, rc.SessionID)
		emit(agent.StateUpdateEvent("reviewer", map[string]any{"done": true}))
		emit(agent.MessageEvent("reviewer", in.Content))
		return nil
	})
	writer, _, publisher := reviewAgents()
	engine := NewEngine(newRegistry(t, writer, reviewer, publisher))
	g := interruptGraph(t, InterruptBefore)
	ctx := context.Background()

	_, err := engine.Run(ctx, g, "topic", RunOptions{ExecutionID: "sess", SessionID: "session-42"})
	require.NoError(t, err)

	cp, err := engine.Checkpoints().Load(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, "session-42", cp.SessionID)

	res, err := engine.Resume(ctx, g, "sess", Decision{Approved: true})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
	assert.Equal(t, []string{"session-42"}, sessions)
}

// ---------------------------------------------------------------------------
// observation
// ---------------------------------------------------------------------------

func TestEngine_PublishesEnvelopes(t *testing.T) {
	writer, reviewer, publisher := reviewAgents()
	sink := events.NewSink(256, events.DropOldest, nil)
	engine := NewEngine(newRegistry(t, writer, reviewer, publisher), WithSink(sink))

	g, err := reviewLoop().Build()
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), g, "topic", RunOptions{ExecutionID: "obs"})
	require.NoError(t, err)

	envs := drainSink(sink)
	require.NotEmpty(t, envs)

	nodes := map[string]bool{}
	for _, env := range envs[:len(envs)-1] {
		assert.Equal(t, events.KindAgentEvent, env.Kind)
		assert.Equal(t, "obs", env.ExecutionID)
		nodes[env.NodeID] = true
	}
	assert.Equal(t, map[string]bool{"write": true, "review": true, "publish": true}, nodes)

	last := envs[len(envs)-1]
	assert.Equal(t, events.KindRunStatus, last.Kind)
	assert.Equal(t, "completed", last.Payload.(map[string]any)["status"])
}

func TestEngine_RecordsMetrics(t *testing.T) {
	writer, reviewer, publisher := reviewAgents()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, nil)
	engine := NewEngine(newRegistry(t, writer, reviewer, publisher), WithMetrics(collector))

	g, err := reviewLoop().Build()
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), g, "topic", RunOptions{})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "test_graph_node_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "one series per node")

	count, err = testutil.GatherAndCount(reg, "test_graph_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// ---------------------------------------------------------------------------
// graphs as agents
// ---------------------------------------------------------------------------

func TestGraphAgent_ComposesAsAgent(t *testing.T) {
	writer, reviewer, publisher := reviewAgents()
	reg := newRegistry(t, writer, reviewer, publisher)
	engine := NewEngine(reg)

	inner, err := reviewLoop().Build()
	require.NoError(t, err)
	sub := NewGraphAgent("subgraph", engine, inner, WithOutputChannel("result"))
	require.NoError(t, reg.Register(sub))

	outer, err := NewGraphBuilder("outer").
		AddChannel("result", ReducerOverwrite, nil).
		AddNode("delegate", "subgraph").Terminal().Done().
		SetEntry("delegate").
		Build()
	require.NoError(t, err)

	res, err := engine.Run(context.Background(), outer, "topic", RunOptions{ExecutionID: "outer"})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, res.Status)
	assert.Equal(t, res.Output, res.State["result"])
	assert.Contains(t, res.Output, "publisher(")

	ids, err := engine.Checkpoints().List(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ids, "outer/subgraph")
}

func TestGraphAgent_InterruptedSubgraphFails(t *testing.T) {
	writer, reviewer, publisher := reviewAgents()
	reg := newRegistry(t, writer, reviewer, publisher)
	engine := NewEngine(reg)

	sub := NewGraphAgent("subgraph", engine, interruptGraph(t, InterruptBefore))
	res, err := agent.Collect(sub.Run(context.Background(), agent.NewRunContext(reg), agent.Input{Content: "x"}))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrAgentFailed))
	assert.Empty(t, res.Output)
}
