package workflow

import (
	"path/filepath"
	"testing"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reviewLoop 构建 write -> review -> (done ? publish : write)
func reviewLoop() *GraphBuilder {
	return NewGraphBuilder("review-loop").
		AddChannel("done", ReducerOverwrite, false).
		AddChannel("drafts", ReducerAppend, nil).
		AddNode("write", "writer").Done().
		AddNode("review", "reviewer").Done().
		AddNode("publish", "publisher").Terminal().Done().
		AddEdge("write", "review").
		AddExprEdge("review", "publish", "state.done == true").
		AddEdge("review", "write").
		SetEntry("write")
}

func TestGraphBuilder_Build(t *testing.T) {
	g, err := reviewLoop().Build()
	require.NoError(t, err)

	assert.Equal(t, "review-loop", g.Name)
	assert.Equal(t, "write", g.Entry)
	assert.Equal(t, []string{"write", "review", "publish"}, g.NodeIDs())
	assert.Len(t, g.Edges(), 3)

	out := g.Outgoing("review")
	require.Len(t, out, 2)
	assert.Equal(t, "publish", out[0].To)
	assert.True(t, out[1].Unconditional())
}

func TestGraph_ValidateReportsProblems(t *testing.T) {
	tests := []struct {
		name  string
		build func() *GraphBuilder
		want  string
	}{
		{
			name: "missing entry",
			build: func() *GraphBuilder {
				return NewGraphBuilder("g").AddNode("a", "x").Terminal().Done()
			},
			want: "entry node not set",
		},
		{
			name: "unknown edge target",
			build: func() *GraphBuilder {
				return NewGraphBuilder("g").AddNode("a", "x").Done().AddEdge("a", "b").SetEntry("a")
			},
			want: "non-existent target node: b",
		},
		{
			name: "dead end without terminal",
			build: func() *GraphBuilder {
				return NewGraphBuilder("g").AddNode("a", "x").Done().SetEntry("a")
			},
			want: "no outgoing edge and is not terminal",
		},
		{
			name: "unreachable node",
			build: func() *GraphBuilder {
				return NewGraphBuilder("g").
					AddNode("a", "x").Terminal().Done().
					AddNode("island", "x").Terminal().Done().
					SetEntry("a")
			},
			want: "node island is not reachable",
		},
		{
			name: "bad expression",
			build: func() *GraphBuilder {
				return NewGraphBuilder("g").
					AddNode("a", "x").Done().
					AddNode("b", "x").Terminal().Done().
					AddExprEdge("a", "b", "state.done ==").
					SetEntry("a")
			},
			want: "edge a->b",
		},
		{
			name: "non-bool expression",
			build: func() *GraphBuilder {
				return NewGraphBuilder("g").
					AddNode("a", "x").Done().
					AddNode("b", "x").Terminal().Done().
					AddExprEdge("a", "b", "1 + 2").
					SetEntry("a")
			},
			want: "want bool",
		},
		{
			name: "node without agent",
			build: func() *GraphBuilder {
				return NewGraphBuilder("g").AddNode("a", "").Terminal().Done().SetEntry("a")
			},
			want: "node a has no agent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidGraph))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGraph_CyclesAreAllowed(t *testing.T) {
	_, err := NewGraphBuilder("ping-pong").
		AddNode("ping", "x").Done().
		AddNode("pong", "x").Done().
		AddEdge("ping", "pong").
		AddEdge("pong", "ping").
		SetEntry("ping").
		Build()
	assert.NoError(t, err)
}

func TestEdge_Matches(t *testing.T) {
	s, err := NewState(StateSchema{Channels: []ChannelSpec{
		{Name: "done", Reducer: ReducerOverwrite, Default: false},
		{Name: "score", Reducer: ReducerSum},
	}})
	require.NoError(t, err)

	g := NewGraph("g")
	expr := &Edge{From: "a", To: "b", Expr: "state.done == true || state.score >= 3"}
	pred := &Edge{From: "a", To: "c", Condition: func(r agent.StateReader) bool {
		v, _ := r.Get("score")
		return v.(float64) > 10
	}}
	g.AddEdge(expr)
	g.AddEdge(pred)

	ok, err := expr.Matches(s)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Apply(map[string]any{"score": 3}))
	ok, err = expr.Matches(s)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pred.Matches(s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEdge_MatchesMissingKeyFails(t *testing.T) {
	s, err := NewState(StateSchema{})
	require.NoError(t, err)

	g := NewGraph("g")
	e := &Edge{From: "a", To: "b", Expr: "state.missing == 1"}
	g.AddEdge(e)

	_, err = e.Matches(s)
	assert.Error(t, err)
}

func TestGraph_Fingerprint(t *testing.T) {
	g1, err := reviewLoop().Build()
	require.NoError(t, err)
	g2, err := reviewLoop().Build()
	require.NoError(t, err)
	assert.Equal(t, g1.Fingerprint(), g2.Fingerprint())

	g3, err := reviewLoop().AddChannel("extra", ReducerSum, 0).Build()
	require.NoError(t, err)
	assert.NotEqual(t, g1.Fingerprint(), g3.Fingerprint())

	g4, err := reviewLoop().
		AddNode("audit", "auditor").Terminal().Done().
		AddEdge("publish", "audit").
		Build()
	require.NoError(t, err)
	assert.NotEqual(t, g1.Fingerprint(), g4.Fingerprint())
}

func TestGraph_FingerprintCoversWiring(t *testing.T) {
	base, err := reviewLoop().Build()
	require.NoError(t, err)

	variants := map[string]*GraphBuilder{
		"rewired edge": NewGraphBuilder("review-loop").
			AddChannel("done", ReducerOverwrite, false).
			AddChannel("drafts", ReducerAppend, nil).
			AddNode("write", "writer").Done().
			AddNode("review", "reviewer").Done().
			AddNode("publish", "publisher").Terminal().Done().
			AddEdge("write", "review").
			AddExprEdge("review", "publish", "state.done == true").
			AddEdge("review", "review").
			SetEntry("write"),
		"changed expression": NewGraphBuilder("review-loop").
			AddChannel("done", ReducerOverwrite, false).
			AddChannel("drafts", ReducerAppend, nil).
			AddNode("write", "writer").Done().
			AddNode("review", "reviewer").Done().
			AddNode("publish", "publisher").Terminal().Done().
			AddEdge("write", "review").
			AddExprEdge("review", "publish", "state.done != true").
			AddEdge("review", "write").
			SetEntry("write"),
		"rebound agent": NewGraphBuilder("review-loop").
			AddChannel("done", ReducerOverwrite, false).
			AddChannel("drafts", ReducerAppend, nil).
			AddNode("write", "ghostwriter").Done().
			AddNode("review", "reviewer").Done().
			AddNode("publish", "publisher").Terminal().Done().
			AddEdge("write", "review").
			AddExprEdge("review", "publish", "state.done == true").
			AddEdge("review", "write").
			SetEntry("write"),
		"interrupt toggled": NewGraphBuilder("review-loop").
			AddChannel("done", ReducerOverwrite, false).
			AddChannel("drafts", ReducerAppend, nil).
			AddNode("write", "writer").Done().
			AddNode("review", "reviewer").InterruptBefore().Done().
			AddNode("publish", "publisher").Terminal().Done().
			AddEdge("write", "review").
			AddExprEdge("review", "publish", "state.done == true").
			AddEdge("review", "write").
			SetEntry("write"),
		"edge order": NewGraphBuilder("review-loop").
			AddChannel("done", ReducerOverwrite, false).
			AddChannel("drafts", ReducerAppend, nil).
			AddNode("write", "writer").Done().
			AddNode("review", "reviewer").Done().
			AddNode("publish", "publisher").Terminal().Done().
			AddEdge("write", "review").
			AddEdge("review", "write").
			AddExprEdge("review", "publish", "state.done == true").
			SetEntry("write"),
	}
	for name, b := range variants {
		t.Run(name, func(t *testing.T) {
			g, err := b.Build()
			require.NoError(t, err)
			assert.NotEqual(t, base.Fingerprint(), g.Fingerprint())
		})
	}
}

func TestGraphDefinition_RoundTrip(t *testing.T) {
	g, err := NewGraphBuilder("review-loop").
		AddChannel("done", ReducerOverwrite, false).
		AddNode("write", "writer").WithConfig("tone", "formal").Done().
		AddNode("review", "reviewer").InterruptAfter().Done().
		AddNode("publish", "publisher").Terminal().Done().
		AddEdge("write", "review").
		AddExprEdge("review", "publish", "state.done == true").
		AddEdge("review", "write").
		SetEntry("write").
		Build()
	require.NoError(t, err)

	def, err := g.Definition()
	require.NoError(t, err)

	dir := t.TempDir()
	for _, name := range []string{"graph.yaml", "graph.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, def.SaveToFile(path))

			loaded, err := LoadGraphFile(path)
			require.NoError(t, err)
			assert.Equal(t, g.Fingerprint(), loaded.Fingerprint())
			assert.Equal(t, g.Entry, loaded.Entry)

			review, ok := loaded.Node("review")
			require.True(t, ok)
			assert.Equal(t, InterruptAfter, review.Interrupt)

			write, _ := loaded.Node("write")
			assert.Equal(t, "formal", write.Step.Config["tone"])

			edges := loaded.Outgoing("review")
			require.Len(t, edges, 2)
			assert.Equal(t, "state.done == true", edges[0].Expr)
		})
	}
}

func TestGraphDefinition_PredicateEdgeCannotExport(t *testing.T) {
	g, err := NewGraphBuilder("g").
		AddNode("a", "x").Done().
		AddNode("b", "x").Terminal().Done().
		AddConditionalEdge("a", "b", func(agent.StateReader) bool { return true }).
		SetEntry("a").
		Build()
	require.NoError(t, err)

	_, err = g.Definition()
	assert.Error(t, err)
}

func TestGraphDefinition_BuildRejectsInvalid(t *testing.T) {
	def, err := DefinitionFromYAML([]byte(`
name: broken
entry: a
nodes:
  - id: a
    agent: x
    interrupt: sometimes
    terminal: true
`))
	require.NoError(t, err)

	_, err = def.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown interrupt mode")
}
