package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultMaxOutput 命令输出保留的最大字节数
const DefaultMaxOutput = 4096

// CommandGate 以外部进程执行校验。退出码 0 为通过，合并输出作为诊断信息。
// 产物内容经 stdin 传入，单元 ID 与智能体名通过环境变量传入。
type CommandGate struct {
	GateName  string
	GatePhase Phase
	Command   string
	Args      []string
	Dir       string
	Env       []string
	Timeout   time.Duration
	MaxOutput int
}

// Name implements Gate.
func (g *CommandGate) Name() string {
	if g.GateName != "" {
		return g.GateName
	}
	return g.Command
}

// Phase implements Gate.
func (g *CommandGate) Phase() Phase { return g.GatePhase }

// Check implements Gate.
func (g *CommandGate) Check(ctx context.Context, a Artifact) Result {
	if g.Command == "" {
		return Result{Err: errors.New("command is required"), Detail: "command is required"}
	}
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, g.Command, g.Args...)
	cmd.Dir = g.Dir
	if cmd.Dir == "" {
		cmd.Dir = a.Dir
	}
	cmd.Env = append(os.Environ(), g.Env...)
	cmd.Env = append(cmd.Env,
		"AGENTGRAPH_UNIT_ID="+a.UnitID,
		"AGENTGRAPH_AGENT="+a.Agent,
	)
	cmd.Stdin = strings.NewReader(a.Content)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	detail := truncate(out.String(), g.maxOutput())

	if err == nil {
		return Result{Passed: true, Detail: detail}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{Err: err, Detail: joinDetail(fmt.Sprintf("command timed out after %v", g.Timeout), detail)}
	}
	if ctx.Err() != nil {
		return Result{Err: ctx.Err(), Detail: "command cancelled"}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Passed: false, Detail: joinDetail(fmt.Sprintf("exit status %d", exitErr.ExitCode()), detail)}
	}
	return Result{Err: err, Detail: fmt.Sprintf("command execution failed: %v", err)}
}

func (g *CommandGate) maxOutput() int {
	if g.MaxOutput > 0 {
		return g.MaxOutput
	}
	return DefaultMaxOutput
}

// truncate 保留输出的末尾部分，失败信息通常在最后
func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return "...(truncated)\n" + s[len(s)-limit:]
}

func joinDetail(head, body string) string {
	if body == "" {
		return head
	}
	return head + "\n" + body
}
