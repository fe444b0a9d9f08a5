package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/testutil/mocks"
	"github.com/BaSui01/agentgraph/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMAgent_StreamsTokensThenMessage(t *testing.T) {
	provider := mocks.NewMockProvider().WithStreamChunks([]string{"Hel", "lo"})
	a := NewLLMAgent("writer", provider, WithSystemPrompt("be brief"), WithModel("m1"))

	rc := NewRunContext(nil)
	rc.ExecutionID = "exec-1"
	res, err := Collect(a.Run(context.Background(), rc, Input{Content: "greet"}))
	require.NoError(t, err)

	assert.Equal(t, "Hello", res.Output)
	require.Len(t, res.Events, 3)
	assert.Equal(t, EventToken, res.Events[0].Type)
	assert.Equal(t, EventMessage, res.Events[2].Type)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "exec-1", calls[0].TraceID)
	assert.Equal(t, "m1", calls[0].Model)
	require.Len(t, calls[0].Messages, 2)
	assert.Equal(t, llm.RoleSystem, calls[0].Messages[0].Role)
	assert.Equal(t, "greet", calls[0].Messages[1].Content)
}

func TestLLMAgent_StreamErrorIsTerminal(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithStreamChunks([]string{"partial"}).
		WithStreamError(&llm.Error{Code: llm.ErrUpstreamTimeout, Message: "timeout", Retryable: true})
	a := NewLLMAgent("writer", provider)

	res, err := Collect(a.Run(context.Background(), NewRunContext(nil), Input{}))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrAgentFailed))
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, EventError, res.Events[len(res.Events)-1].Type)
	assert.Empty(t, res.Output)
}

func TestLLMAgent_InvocationError(t *testing.T) {
	provider := mocks.NewMockProvider().WithError(errors.New("connection refused"))
	a := NewLLMAgent("writer", provider)

	_, err := Collect(a.Run(context.Background(), NewRunContext(nil), Input{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLLMAgent_ToolCallEvents(t *testing.T) {
	provider := mocks.NewMockProvider().
		WithStreamChunks([]string{"checking"}).
		WithToolCalls([]llm.ToolCall{{ID: "c1", Name: "search", Arguments: json.RawMessage(`{"q":"go"}`)}})
	a := NewLLMAgent("researcher", provider, WithTools(llm.ToolSchema{Name: "search"}))

	res, err := Collect(a.Run(context.Background(), NewRunContext(nil), Input{}))
	require.NoError(t, err)

	var calls []*llm.ToolCall
	for _, ev := range res.Events {
		if ev.Type == EventToolCall {
			calls = append(calls, ev.ToolCall)
		}
	}
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Name)
}

func TestLLMAgent_TransferToolCall(t *testing.T) {
	reg := NewRegistry(nil)
	triage := NewLLMAgent("triage", mocks.NewMockProvider().
		WithToolCalls([]llm.ToolCall{{
			ID:        "t1",
			Name:      TransferToolName,
			Arguments: json.RawMessage(`{"agent":"billing","reason":"invoice question"}`),
		}}),
		WithSystemPrompt("route"),
		WithTransferTargets("billing"),
	)
	require.NoError(t, reg.Register(triage))
	require.NoError(t, reg.Register(Static("billing", "handled by billing", nil)))

	res, err := Collect(Execute(context.Background(), NewRunContext(reg), triage, Input{Content: "my invoice"}))
	require.NoError(t, err)
	assert.Equal(t, "handled by billing", res.Output)
	assert.Equal(t, 1, res.Transfers)
}

func TestLLMAgent_TransferToolAdvertised(t *testing.T) {
	provider := mocks.NewMockProvider()
	a := NewLLMAgent("triage", provider, WithTransferTargets("billing", "support"))

	_, err := Collect(a.Run(context.Background(), NewRunContext(nil), Input{}))
	require.NoError(t, err)

	req := provider.Calls()[0]
	require.Len(t, req.Tools, 1)
	assert.Equal(t, TransferToolName, req.Tools[0].Name)
}

func TestLLMAgent_RateLimitRespectsCancellation(t *testing.T) {
	provider := mocks.NewMockProvider()
	a := NewLLMAgent("writer", provider, WithRateLimit(0.001, 1))

	_, err := Collect(a.Run(context.Background(), NewRunContext(nil), Input{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, _ := Collect(a.Run(ctx, NewRunContext(nil), Input{}))
	assert.Empty(t, res.Output)
	assert.Equal(t, 1, provider.CallCount())
}

func TestParseTransferArgs(t *testing.T) {
	tr, err := ParseTransferArgs(json.RawMessage(`{"agent":"x","input":"new"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", tr.Target)
	require.NotNil(t, tr.Input)
	assert.Equal(t, "new", tr.Input.Content)

	_, err = ParseTransferArgs(json.RawMessage(`{}`))
	assert.Error(t, err)
}
