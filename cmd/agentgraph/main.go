// =============================================================================
// AgentGraph 命令行入口
// =============================================================================
// 使用方法:
//
//	agentgraph validate graph.yaml                 # 校验图定义
//	agentgraph run graph.yaml --input "..."        # 运行图工作流
//	agentgraph resume <execution-id> graph.yaml    # 审核后恢复
//	agentgraph plan plan.yaml                      # 查看批次分层
//	agentgraph batch plan.yaml                     # 执行批次调度
//	agentgraph gate artifact.go                    # 对文件运行质量门禁
//	agentgraph checkpoint list|show|delete         # 检查点管理
//	agentgraph version                             # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/checkpoint"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run 执行命令行并在结束后释放资源，子命令失败时同样清理
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if terr := a.teardown(ctx); terr != nil {
		fmt.Fprintln(stderr, "Error:", terr)
		if err == nil {
			err = terr
		}
	}
	return err
}

// app 子命令共享的运行环境
type app struct {
	configPath  string
	metricsFile string

	cfg         *config.Config
	logger      *zap.Logger
	registry    *prometheus.Registry
	metrics     *metrics.Collector
	otel        *telemetry.Providers
	checkpoints *checkpoint.Manager
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentgraph",
		Short:         "Multi-agent graph workflows and batch scheduling",
		Long:          "AgentGraph runs cyclic multi-agent graph workflows and dependency-aware batches of work, gated by quality checks and checkpointed for resume.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to config file (YAML)")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")

	root.AddCommand(
		newVersionCommand(),
		newValidateCommand(),
		newRunCommand(a),
		newResumeCommand(a),
		newPlanCommand(),
		newBatchCommand(a),
		newGateCommand(a),
		newCheckpointCommand(a),
	)
	return root
}

// setup 加载配置并初始化日志、遥测与指标
func (a *app) setup(ctx context.Context) error {
	loader := config.NewLoader()
	if a.configPath != "" {
		loader = loader.WithConfigPath(a.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg
	a.logger = initLogger(cfg.Log)

	a.otel, err = telemetry.Init(ctx, cfg.Telemetry, a.logger)
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	a.registry = prometheus.NewRegistry()
	if cfg.Metrics.Enabled || a.metricsFile != "" {
		a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, a.logger)
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.logger == nil {
		return nil
	}
	if a.checkpoints != nil {
		if err := a.checkpoints.Close(); err != nil {
			a.logger.Warn("failed to close checkpoint store", zap.Error(err))
		}
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("failed to shutdown telemetry", zap.Error(err))
		}
	}
	if a.metricsFile != "" && a.registry != nil {
		if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	_ = a.logger.Sync()
	return nil
}

// checkpointManager 按配置打开检查点存储
func (a *app) checkpointManager(ctx context.Context) (*checkpoint.Manager, error) {
	if a.checkpoints != nil {
		return a.checkpoints, nil
	}
	m, err := checkpoint.NewManagerFromConfig(ctx, a.cfg.Checkpoint, a.metrics, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	a.checkpoints = m
	return m, nil
}

// agentRegistry 注册配置中的命令行智能体
func (a *app) agentRegistry() (*agent.Registry, error) {
	reg := agent.NewRegistry(a.logger)
	for name, c := range a.cfg.Agents {
		if err := reg.RegisterAs(name, agent.NewCommandAgentFromConfig(name, c, a.logger)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "AgentGraph %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}
