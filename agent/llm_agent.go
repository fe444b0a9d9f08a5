package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// transferToolParameters transfer_to_agent 的 JSON Schema
var transferToolParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"agent": {"type": "string", "description": "name of the agent to hand off to"},
		"reason": {"type": "string"},
		"input": {"type": "string", "description": "optional new input for the target"}
	},
	"required": ["agent"]
}`)

// LLMAgent 叶子智能体：通过 llm.Provider 的流式接口完成一次调用
type LLMAgent struct {
	id           string
	provider     llm.Provider
	model        string
	systemPrompt string
	maxTokens    int
	temperature  float32
	tools        []llm.ToolSchema
	targets      []string
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// LLMOption 配置 LLMAgent
type LLMOption func(*LLMAgent)

// WithModel 设置模型
func WithModel(model string) LLMOption {
	return func(a *LLMAgent) { a.model = model }
}

// WithSystemPrompt 设置系统提示词
func WithSystemPrompt(prompt string) LLMOption {
	return func(a *LLMAgent) { a.systemPrompt = prompt }
}

// WithMaxTokens 设置最大输出 token
func WithMaxTokens(n int) LLMOption {
	return func(a *LLMAgent) { a.maxTokens = n }
}

// WithTemperature 设置温度
func WithTemperature(t float32) LLMOption {
	return func(a *LLMAgent) { a.temperature = t }
}

// WithTools 声明可用工具
func WithTools(tools ...llm.ToolSchema) LLMOption {
	return func(a *LLMAgent) { a.tools = append(a.tools, tools...) }
}

// WithTransferTargets 允许模型通过 transfer_to_agent 工具转交给这些智能体
func WithTransferTargets(names ...string) LLMOption {
	return func(a *LLMAgent) { a.targets = append(a.targets, names...) }
}

// WithRateLimit 限制调用频率
func WithRateLimit(rps float64, burst int) LLMOption {
	return func(a *LLMAgent) {
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithAgentLogger 设置日志
func WithAgentLogger(logger *zap.Logger) LLMOption {
	return func(a *LLMAgent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewLLMAgent 创建 LLM 叶子智能体
func NewLLMAgent(id string, provider llm.Provider, opts ...LLMOption) *LLMAgent {
	a := &LLMAgent{
		id:       id,
		provider: provider,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "llm_agent"), zap.String("agent_id", id))
	return a
}

// ID implements Agent.
func (a *LLMAgent) ID() string { return a.id }

func (a *LLMAgent) buildRequest(rc *RunContext, in Input) *llm.ChatRequest {
	msgs := make([]llm.Message, 0, 2)
	if a.systemPrompt != "" {
		prompt := a.systemPrompt
		if len(a.targets) > 0 {
			prompt += "\n\nYou may hand off to one of: " + strings.Join(a.targets, ", ") +
				" by calling " + TransferToolName + "."
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompt})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: in.Content})

	tools := append([]llm.ToolSchema(nil), a.tools...)
	if len(a.targets) > 0 {
		tools = append(tools, llm.ToolSchema{
			Name:        TransferToolName,
			Description: "Hand off the task to another agent",
			Parameters:  transferToolParameters,
		})
	}

	meta := map[string]string{"agent_id": a.id}
	if rc != nil && rc.NodeID != "" {
		meta["node_id"] = rc.NodeID
	}
	if rc != nil && rc.UnitID != "" {
		meta["unit_id"] = rc.UnitID
	}

	traceID := ""
	if rc != nil {
		traceID = rc.ExecutionID
	}

	return &llm.ChatRequest{
		TraceID:     traceID,
		Model:       a.model,
		Messages:    msgs,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		Tools:       tools,
		Metadata:    meta,
	}
}

// Run implements Agent.
func (a *LLMAgent) Run(ctx context.Context, rc *RunContext, in Input) <-chan Event {
	return NewStream(ctx, rc, a.id, func(emit Emit) error {
		if a.provider == nil {
			return types.Errorf(types.ErrInvalidConfig, "agent %s has no provider", a.id)
		}
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		req := a.buildRequest(rc, in)
		chunks, err := a.provider.Stream(ctx, req)
		if err != nil {
			a.logger.Warn("model invocation failed", zap.Error(err))
			return wrapProviderError(a.id, err)
		}

		var content strings.Builder
		for chunk := range chunks {
			if chunk.Err != nil {
				a.logger.Warn("model stream failed",
					zap.String("code", string(chunk.Err.Code)),
					zap.String("message", chunk.Err.Message),
				)
				go drainChunks(chunks)
				return wrapProviderError(a.id, chunk.Err)
			}
			if delta := chunk.Delta.Content; delta != "" {
				content.WriteString(delta)
				if !emit(TokenEvent(a.id, delta)) {
					go drainChunks(chunks)
					return errStopped
				}
			}
			for _, call := range chunk.Delta.ToolCalls {
				if call.Name == TransferToolName {
					t, err := ParseTransferArgs(call.Arguments)
					if err != nil {
						go drainChunks(chunks)
						return err
					}
					go drainChunks(chunks)
					if !emit(Event{Type: EventTransfer, Transfer: t}) {
						return errStopped
					}
					return nil
				}
				if !emit(ToolCallEvent(a.id, call)) {
					go drainChunks(chunks)
					return errStopped
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		emit(MessageEvent(a.id, content.String()))
		return nil
	})
}

func drainChunks(ch <-chan llm.StreamChunk) {
	for range ch {
	}
}

func wrapProviderError(agentID string, err error) error {
	if lerr, ok := err.(*llm.Error); ok {
		return types.Errorf(types.ErrAgentFailed, "agent %s: model error %s", agentID, lerr.Code).
			WithCause(lerr).
			WithRetryable(lerr.Retryable)
	}
	return types.Errorf(types.ErrAgentFailed, "agent %s: model invocation failed", agentID).WithCause(err)
}
