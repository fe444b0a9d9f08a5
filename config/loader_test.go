// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证引擎默认值
	assert.Equal(t, 100, cfg.Engine.MaxIterations)
	assert.Equal(t, 10, cfg.Engine.MaxTransferDepth)
	assert.Equal(t, 256, cfg.Engine.SinkBuffer)
	assert.Equal(t, "drop_oldest", cfg.Engine.SinkPolicy)

	// 验证调度默认值
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrency)
	assert.Equal(t, 2, cfg.Scheduler.MaxRetries)
	assert.Equal(t, "developer", cfg.Scheduler.DefaultAgent)
	assert.False(t, cfg.Scheduler.Breaker.Enabled)
	assert.Equal(t, 3, cfg.Scheduler.Breaker.FailureThreshold)

	// 验证门禁默认值
	assert.Equal(t, "soft", cfg.Gate.PreValidation.Mode)
	assert.Equal(t, "hard", cfg.Gate.Validation.Mode)
	assert.Equal(t, "soft", cfg.Gate.PostValidation.Mode)

	// 验证检查点默认值
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, "agentgraph:checkpoint:", cfg.Checkpoint.KeyPrefix)
	assert.Equal(t, 3, cfg.Checkpoint.Retry.MaxRetries)
	assert.Equal(t, "localhost:6379", cfg.Checkpoint.Redis.Addr)
	assert.Equal(t, "postgres", cfg.Checkpoint.Database.Driver)
	assert.Equal(t, 5432, cfg.Checkpoint.Database.Port)
	assert.Equal(t, "checkpoints", cfg.Checkpoint.Mongo.Collection)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, "agentgraph", cfg.Metrics.Namespace)
	assert.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 100, cfg.Engine.MaxIterations)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
engine:
  max_iterations: 25
  max_transfer_depth: 3
  sink_policy: error_on_full

scheduler:
  max_concurrency: 8
  default_agent: "coder"
  phase_agents:
    design: "architect"
  type_agents:
    bugfix: "debugger"
  alternates: ["senior", "reviewer"]
  breaker:
    enabled: true
    failure_threshold: 2
    cooldown: 30s

gate:
  validation:
    mode: hard
    commands:
      - name: test
        command: go
        args: ["test", "./..."]
        timeout: 2m

checkpoint:
  backend: redis
  ttl: 24h
  redis:
    addr: "redis.example.com:6379"
    password: "secret"
    db: 1

agents:
  coder:
    command: claude
    args: ["-p", "{prompt}", "--output-format", "json"]
    timeout: 10m
    json_output: true

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Engine.MaxIterations)
	assert.Equal(t, 3, cfg.Engine.MaxTransferDepth)
	assert.Equal(t, "error_on_full", cfg.Engine.SinkPolicy)
	// 未在 YAML 中出现的字段保留默认值
	assert.Equal(t, 256, cfg.Engine.SinkBuffer)

	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrency)
	assert.Equal(t, "coder", cfg.Scheduler.DefaultAgent)
	assert.Equal(t, "architect", cfg.Scheduler.PhaseAgents["design"])
	assert.Equal(t, "debugger", cfg.Scheduler.TypeAgents["bugfix"])
	assert.Equal(t, []string{"senior", "reviewer"}, cfg.Scheduler.Alternates)
	assert.True(t, cfg.Scheduler.Breaker.Enabled)
	assert.Equal(t, 2, cfg.Scheduler.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Breaker.Cooldown)

	require.Len(t, cfg.Gate.Validation.Commands, 1)
	cmd := cfg.Gate.Validation.Commands[0]
	assert.Equal(t, "test", cmd.Name)
	assert.Equal(t, []string{"test", "./..."}, cmd.Args)
	assert.Equal(t, 2*time.Minute, cmd.Timeout)

	assert.Equal(t, "redis", cfg.Checkpoint.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Checkpoint.TTL)
	assert.Equal(t, "redis.example.com:6379", cfg.Checkpoint.Redis.Addr)
	assert.Equal(t, "secret", cfg.Checkpoint.Redis.Password)
	assert.Equal(t, 1, cfg.Checkpoint.Redis.DB)

	coder := cfg.Agents["coder"]
	assert.Equal(t, "claude", coder.Command)
	assert.Equal(t, []string{"-p", "{prompt}", "--output-format", "json"}, coder.Args)
	assert.Equal(t, 10*time.Minute, coder.Timeout)
	assert.True(t, coder.JSONOutput)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("AGENTGRAPH_ENGINE_MAX_ITERATIONS", "42")
	t.Setenv("AGENTGRAPH_ENGINE_MAX_TRANSFER_DEPTH", "4")
	t.Setenv("AGENTGRAPH_SCHEDULER_DEFAULT_AGENT", "env-agent")
	t.Setenv("AGENTGRAPH_SCHEDULER_ALTERNATES", "a, b")
	t.Setenv("AGENTGRAPH_SCHEDULER_BREAKER_ENABLED", "true")
	t.Setenv("AGENTGRAPH_SCHEDULER_BREAKER_COOLDOWN", "5s")
	t.Setenv("AGENTGRAPH_CHECKPOINT_BACKEND", "mongo")
	t.Setenv("AGENTGRAPH_CHECKPOINT_MONGO_TIMEOUT", "3s")
	t.Setenv("AGENTGRAPH_CHECKPOINT_RETRY_MAX_RETRIES", "5")
	t.Setenv("AGENTGRAPH_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("AGENTGRAPH_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Engine.MaxIterations)
	assert.Equal(t, 4, cfg.Engine.MaxTransferDepth)
	assert.Equal(t, "env-agent", cfg.Scheduler.DefaultAgent)
	assert.Equal(t, []string{"a", "b"}, cfg.Scheduler.Alternates)
	assert.True(t, cfg.Scheduler.Breaker.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.Breaker.Cooldown)
	assert.Equal(t, "mongo", cfg.Checkpoint.Backend)
	assert.Equal(t, 3*time.Second, cfg.Checkpoint.Mongo.Timeout)
	assert.Equal(t, 5, cfg.Checkpoint.Retry.MaxRetries)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
engine:
  max_iterations: 20
scheduler:
  default_agent: "yaml-agent"
  max_retries: 1
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	// 环境变量应该覆盖 YAML
	t.Setenv("AGENTGRAPH_ENGINE_MAX_ITERATIONS", "99")
	t.Setenv("AGENTGRAPH_SCHEDULER_DEFAULT_AGENT", "env-agent")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 99, cfg.Engine.MaxIterations)
	assert.Equal(t, "env-agent", cfg.Scheduler.DefaultAgent)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, 1, cfg.Scheduler.MaxRetries)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_ENGINE_SINK_BUFFER", "1024")
	t.Setenv("MYAPP_METRICS_NAMESPACE", "custom")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Engine.SinkBuffer)
	assert.Equal(t, "custom", cfg.Metrics.Namespace)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AGENTGRAPH_ENGINE_MAX_ITERATIONS", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTGRAPH_ENGINE_MAX_ITERATIONS")
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		return cfg.Validate()
	}

	t.Setenv("AGENTGRAPH_SCHEDULER_MAX_CONCURRENCY", "0")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.max_concurrency")
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 100, cfg.Engine.MaxIterations)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
engine:
  max_iterations: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "zero max iterations",
			modify:  func(c *Config) { c.Engine.MaxIterations = 0 },
			wantErr: "engine.max_iterations",
		},
		{
			name:    "zero transfer depth",
			modify:  func(c *Config) { c.Engine.MaxTransferDepth = 0 },
			wantErr: "engine.max_transfer_depth",
		},
		{
			name:    "unknown sink policy",
			modify:  func(c *Config) { c.Engine.SinkPolicy = "block" },
			wantErr: "engine.sink_policy",
		},
		{
			name:    "negative scheduler retries",
			modify:  func(c *Config) { c.Scheduler.MaxRetries = -1 },
			wantErr: "scheduler.max_retries",
		},
		{
			name: "enabled breaker without cooldown",
			modify: func(c *Config) {
				c.Scheduler.Breaker.Enabled = true
				c.Scheduler.Breaker.Cooldown = 0
			},
			wantErr: "scheduler.breaker.cooldown",
		},
		{
			name:    "unknown gate mode",
			modify:  func(c *Config) { c.Gate.Validation.Mode = "strict" },
			wantErr: "gate.validation.mode",
		},
		{
			name: "gate command without binary",
			modify: func(c *Config) {
				c.Gate.PreValidation.Commands = []GateCommandConfig{{Name: "fmt"}}
			},
			wantErr: "gate.pre_validation.commands[0]",
		},
		{
			name: "agent without command",
			modify: func(c *Config) {
				c.Agents = map[string]AgentCommandConfig{"coder": {Args: []string{"-p"}}}
			},
			wantErr: "agents.coder has no command",
		},
		{
			name:    "unknown checkpoint backend",
			modify:  func(c *Config) { c.Checkpoint.Backend = "etcd" },
			wantErr: "checkpoint.backend",
		},
		{
			name: "redis backend without address",
			modify: func(c *Config) {
				c.Checkpoint.Backend = "redis"
				c.Checkpoint.Redis.Addr = ""
			},
			wantErr: "checkpoint.redis.addr",
		},
		{
			name: "database backend with unknown driver",
			modify: func(c *Config) {
				c.Checkpoint.Backend = "database"
				c.Checkpoint.Database.Driver = "oracle"
			},
			wantErr: "unsupported database driver",
		},
		{
			name: "mongo backend without uri",
			modify: func(c *Config) {
				c.Checkpoint.Backend = "mongo"
				c.Checkpoint.Mongo.URI = ""
			},
			wantErr: "checkpoint.mongo.uri",
		},
		{
			name:    "sample rate out of range",
			modify:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: "telemetry.sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.MaxIterations = 0
	cfg.Scheduler.MaxConcurrency = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.max_iterations")
	assert.Contains(t, err.Error(), "scheduler.max_concurrency")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name: "sqlite DSN",
			config: DatabaseConfig{
				Driver: "sqlite",
				Name:   "/path/to/db.sqlite",
			},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  max_iterations: 7\n"), 0644))

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 7, cfg.Engine.MaxIterations)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("invalid: [yaml"), 0644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("AGENTGRAPH_SCHEDULER_DEFAULT_AGENT", "env-only-agent")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-only-agent", cfg.Scheduler.DefaultAgent)
}
