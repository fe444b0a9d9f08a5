package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/agentgraph/llm"
)

const defaultReviewPrompt = `You are a strict code reviewer. Review the submitted work.
Reply with PASS on the first line if it is acceptable, otherwise FAIL followed by the reasons.`

// ReviewGate 通过模型进行 AI 辅助审查。回复必须以 PASS 或 FAIL 开头。
type ReviewGate struct {
	name      string
	provider  llm.Provider
	model     string
	prompt    string
	maxTokens int
}

// ReviewOption 配置 ReviewGate
type ReviewOption func(*ReviewGate)

// WithReviewModel 设置模型
func WithReviewModel(model string) ReviewOption {
	return func(g *ReviewGate) { g.model = model }
}

// WithReviewPrompt 设置系统提示词
func WithReviewPrompt(prompt string) ReviewOption {
	return func(g *ReviewGate) { g.prompt = prompt }
}

// WithReviewMaxTokens 设置回复长度上限
func WithReviewMaxTokens(n int) ReviewOption {
	return func(g *ReviewGate) { g.maxTokens = n }
}

// NewReviewGate 创建审查门禁，运行在 post_validation 阶段
func NewReviewGate(name string, provider llm.Provider, opts ...ReviewOption) *ReviewGate {
	g := &ReviewGate{name: name, provider: provider, prompt: defaultReviewPrompt}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements Gate.
func (g *ReviewGate) Name() string { return g.name }

// Phase implements Gate.
func (g *ReviewGate) Phase() Phase { return PhasePostValidation }

// Check implements Gate.
func (g *ReviewGate) Check(ctx context.Context, a Artifact) Result {
	if g.provider == nil {
		return Result{Err: fmt.Errorf("review gate %s has no provider", g.name), Detail: "no provider"}
	}

	meta := map[string]string{"gate": g.name}
	if a.UnitID != "" {
		meta["unit_id"] = a.UnitID
	}
	resp, err := g.provider.Completion(ctx, &llm.ChatRequest{
		Model: g.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: g.prompt},
			{Role: llm.RoleUser, Content: a.Content},
		},
		MaxTokens: g.maxTokens,
		Metadata:  meta,
	})
	if err != nil {
		return Result{Err: err, Detail: fmt.Sprintf("review failed: %v", err)}
	}

	reply := strings.TrimSpace(resp.Message.Content)
	verdict := strings.ToUpper(reply)
	switch {
	case strings.HasPrefix(verdict, "PASS"):
		return Result{Passed: true, Detail: reply}
	case strings.HasPrefix(verdict, "FAIL"):
		return Result{Passed: false, Detail: reply}
	default:
		return Result{Passed: false, Detail: "unrecognized review verdict: " + truncate(reply, 200)}
	}
}
