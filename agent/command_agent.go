package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
)

// PromptPlaceholder 出现在参数中时被替换为输入内容；否则输入经 stdin 传入
const PromptPlaceholder = "{prompt}"

// CommandAgent 叶子智能体：把输入交给外部命令行程序（例如编码助手 CLI），
// 以标准输出作为结果。
type CommandAgent struct {
	id      string
	command string
	args    []string
	dir     string
	env     []string
	timeout time.Duration
	// jsonOutput 为 true 时从 {"result": ..., "session_id": ...} 中提取结果
	jsonOutput bool
	logger     *zap.Logger
}

// CommandOption 配置 CommandAgent
type CommandOption func(*CommandAgent)

// WithArgs 设置命令参数
func WithArgs(args ...string) CommandOption {
	return func(a *CommandAgent) { a.args = append(a.args, args...) }
}

// WithDir 设置工作目录
func WithDir(dir string) CommandOption {
	return func(a *CommandAgent) { a.dir = dir }
}

// WithEnv 追加环境变量（KEY=VALUE）
func WithEnv(env ...string) CommandOption {
	return func(a *CommandAgent) { a.env = append(a.env, env...) }
}

// WithTimeout 设置单次执行超时
func WithTimeout(d time.Duration) CommandOption {
	return func(a *CommandAgent) { a.timeout = d }
}

// WithJSONOutput 按 JSON 解析标准输出
func WithJSONOutput() CommandOption {
	return func(a *CommandAgent) { a.jsonOutput = true }
}

// WithCommandLogger 设置日志
func WithCommandLogger(logger *zap.Logger) CommandOption {
	return func(a *CommandAgent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewCommandAgent 创建命令行智能体
func NewCommandAgent(id, command string, opts ...CommandOption) *CommandAgent {
	a := &CommandAgent{id: id, command: command, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "command_agent"), zap.String("agent_id", id))
	return a
}

// NewCommandAgentFromConfig 按配置创建命令行智能体
func NewCommandAgentFromConfig(id string, cfg config.AgentCommandConfig, logger *zap.Logger) *CommandAgent {
	opts := []CommandOption{
		WithArgs(cfg.Args...),
		WithDir(cfg.Dir),
		WithEnv(cfg.Env...),
		WithTimeout(cfg.Timeout),
		WithCommandLogger(logger),
	}
	if cfg.JSONOutput {
		opts = append(opts, WithJSONOutput())
	}
	return NewCommandAgent(id, cfg.Command, opts...)
}

// ID implements Agent.
func (a *CommandAgent) ID() string { return a.id }

// Run implements Agent.
func (a *CommandAgent) Run(ctx context.Context, rc *RunContext, in Input) <-chan Event {
	return NewStream(ctx, rc, a.id, func(emit Emit) error {
		if a.command == "" {
			return types.Errorf(types.ErrInvalidConfig, "agent %s has no command", a.id)
		}
		runCtx := ctx
		if a.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}

		args := make([]string, len(a.args))
		usesPlaceholder := false
		for i, arg := range a.args {
			if strings.Contains(arg, PromptPlaceholder) {
				usesPlaceholder = true
				arg = strings.ReplaceAll(arg, PromptPlaceholder, in.Content)
			}
			args[i] = arg
		}

		cmd := exec.CommandContext(runCtx, a.command, args...)
		cmd.Dir = a.dir
		cmd.Env = append(os.Environ(), a.env...)
		if rc != nil {
			cmd.Env = append(cmd.Env,
				"AGENTGRAPH_EXECUTION_ID="+rc.ExecutionID,
				"AGENTGRAPH_NODE_ID="+rc.NodeID,
				"AGENTGRAPH_UNIT_ID="+rc.UnitID,
			)
		}
		if !usesPlaceholder {
			cmd.Stdin = strings.NewReader(in.Content)
		}

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		start := time.Now()
		err := cmd.Run()
		a.logger.Debug("command finished",
			zap.String("command", a.command),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return types.Errorf(types.ErrAgentFailed, "agent %s timed out after %v", a.id, a.timeout).WithCause(err)
			}
			return types.Errorf(types.ErrAgentFailed, "agent %s command failed", a.id).
				WithCause(err).
				WithDetail(tail(stderr.String(), 2048))
		}

		output := strings.TrimSpace(stdout.String())
		if a.jsonOutput {
			var parsed struct {
				Result    string `json:"result"`
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal([]byte(output), &parsed); err != nil {
				return types.Errorf(types.ErrAgentFailed, "agent %s produced invalid JSON output", a.id).WithCause(err)
			}
			output = parsed.Result
			if parsed.SessionID != "" {
				a.logger.Debug("command session", zap.String("session_id", parsed.SessionID))
			}
		}

		if !emit(MessageEvent(a.id, output)) {
			return errStopped
		}
		return nil
	})
}

func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return fmt.Sprintf("...%s", s[len(s)-limit:])
}
