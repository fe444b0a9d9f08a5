package scheduler

import (
	"testing"
	"time"

	"github.com/BaSui01/agentgraph/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() *AgentResolver {
	return NewAgentResolver(config.SchedulerConfig{
		DefaultAgent: "generalist",
		PhaseAgents:  map[string]string{"design": "architect"},
		TypeAgents:   map[string]string{"frontend": "ui-dev", "backend": "api-dev"},
		Alternates:   []string{"senior", "generalist"},
	})
}

func TestAgentResolver_Priority(t *testing.T) {
	r := testResolver()

	tests := []struct {
		name  string
		story *Story
		want  string
	}{
		{name: "explicit override", story: &Story{ID: "a", Agent: "custom", Phase: "design", Type: "frontend"}, want: "custom"},
		{name: "phase beats type", story: &Story{ID: "b", Phase: "design", Type: "frontend"}, want: "architect"},
		{name: "type", story: &Story{ID: "c", Type: "backend"}, want: "api-dev"},
		{name: "unknown type falls back to default", story: &Story{ID: "d", Type: "docs"}, want: "generalist"},
		{name: "default", story: &Story{ID: "e"}, want: "generalist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.story)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAgentResolver_Candidates(t *testing.T) {
	r := testResolver()
	s := &Story{ID: "x", Type: "frontend"}

	assert.Equal(t, []string{"ui-dev", "generalist", "senior"}, r.Candidates(s))
}

func TestAgentResolver_NextSkipsTried(t *testing.T) {
	r := testResolver()
	s := &Story{ID: "x", Type: "frontend"}

	next, ok := r.Next(s, []string{"ui-dev"})
	require.True(t, ok)
	assert.Equal(t, "generalist", next)

	next, ok = r.Next(s, []string{"ui-dev", "generalist"})
	require.True(t, ok)
	assert.Equal(t, "senior", next)

	_, ok = r.Next(s, []string{"ui-dev", "generalist", "senior"})
	assert.False(t, ok)
}

func TestAgentResolver_NoCandidates(t *testing.T) {
	_, err := (&AgentResolver{}).Resolve(&Story{ID: "x"})
	assert.Error(t, err)
}

func TestAgentResolver_SkipsOpenBreaker(t *testing.T) {
	r := testResolver()
	r.Breakers = NewBreakerSet(BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}, nil)
	s := &Story{ID: "x", Type: "frontend"}

	r.Breakers.RecordFailure("ui-dev")
	next, ok := r.Next(s, nil)
	require.True(t, ok)
	assert.Equal(t, "generalist", next)

	// 所有候选都熔断时仍返回第一个
	r.Breakers.RecordFailure("generalist")
	r.Breakers.RecordFailure("senior")
	next, ok = r.Next(s, nil)
	require.True(t, ok)
	assert.Equal(t, "ui-dev", next)
}

func TestBreakerSet_Transitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreakerSet(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute}, nil)
	b.now = func() time.Time { return now }

	assert.True(t, b.Allow("coder"))
	b.RecordFailure("coder")
	assert.Equal(t, CircuitClosed, b.State("coder"))
	b.RecordFailure("coder")
	assert.Equal(t, CircuitOpen, b.State("coder"))
	assert.False(t, b.Allow("coder"))

	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow("coder"), "cooldown elapsed, one probe allowed")
	assert.Equal(t, CircuitHalfOpen, b.State("coder"))
	assert.False(t, b.Allow("coder"), "only one probe at a time")

	b.RecordFailure("coder")
	assert.Equal(t, CircuitOpen, b.State("coder"))

	now = now.Add(2 * time.Minute)
	require.True(t, b.Allow("coder"))
	b.RecordSuccess("coder")
	assert.Equal(t, CircuitClosed, b.State("coder"))
	assert.True(t, b.Allow("coder"))

	assert.Equal(t, "half_open", CircuitHalfOpen.String())
}
