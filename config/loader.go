// =============================================================================
// 📦 AgentGraph 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("agentgraph.yaml").
//	    WithEnvPrefix("AGENTGRAPH").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentGraph 的完整配置结构
type Config struct {
	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Engine 图引擎配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Scheduler 批次调度配置
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// Gate 质量门禁配置
	Gate GateConfig `yaml:"gate" env:"GATE"`

	// Checkpoint 检查点存储配置
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Agents 以外部命令实现的智能体，键为注册名
	Agents map[string]AgentCommandConfig `yaml:"agents" env:"-"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// EngineConfig 图引擎配置
type EngineConfig struct {
	// 单次运行允许进入节点的最大次数
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	// 最大转交深度
	MaxTransferDepth int `yaml:"max_transfer_depth" env:"MAX_TRANSFER_DEPTH"`
	// 事件出口缓冲大小
	SinkBuffer int `yaml:"sink_buffer" env:"SINK_BUFFER"`
	// 事件出口溢出策略: drop_oldest, error_on_full
	SinkPolicy string `yaml:"sink_policy" env:"SINK_POLICY"`
}

// SchedulerConfig 批次调度配置
type SchedulerConfig struct {
	// 单层最大并发单元数
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 门禁硬失败后换 agent 重试的次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 全局默认 agent
	DefaultAgent string `yaml:"default_agent" env:"DEFAULT_AGENT"`
	// 按阶段指定 agent
	PhaseAgents map[string]string `yaml:"phase_agents" env:"-"`
	// 按类型指定 agent
	TypeAgents map[string]string `yaml:"type_agents" env:"-"`
	// 重试时可选用的备选 agent
	Alternates []string `yaml:"alternates" env:"ALTERNATES"`
	// 按 agent 的门禁熔断
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`
}

// BreakerConfig agent 熔断配置
type BreakerConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 连续门禁硬失败多少次后熔断
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 熔断后多久允许一次探测
	Cooldown time.Duration `yaml:"cooldown" env:"COOLDOWN"`
}

// GateConfig 质量门禁配置
type GateConfig struct {
	PreValidation  GatePhaseConfig `yaml:"pre_validation" env:"PRE_VALIDATION"`
	Validation     GatePhaseConfig `yaml:"validation" env:"VALIDATION"`
	PostValidation GatePhaseConfig `yaml:"post_validation" env:"POST_VALIDATION"`
}

// GatePhaseConfig 单个门禁阶段配置
type GatePhaseConfig struct {
	// 模式: soft, hard
	Mode string `yaml:"mode" env:"MODE"`
	// 外部命令
	Commands []GateCommandConfig `yaml:"commands" env:"-"`
}

// GateCommandConfig 外部校验命令
type GateCommandConfig struct {
	Name    string        `yaml:"name"`
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Dir     string        `yaml:"dir"`
	Env     []string      `yaml:"env"`
	Timeout time.Duration `yaml:"timeout"`
}

// AgentCommandConfig 命令行智能体配置
type AgentCommandConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Dir     string        `yaml:"dir"`
	Env     []string      `yaml:"env"`
	Timeout time.Duration `yaml:"timeout"`
	// 标准输出为 {"result": ...} 形式的 JSON
	JSONOutput bool `yaml:"json_output"`
}

// CheckpointConfig 检查点存储配置
type CheckpointConfig struct {
	// 后端: memory, redis, database, mongo
	Backend string `yaml:"backend" env:"BACKEND"`
	// 键前缀（redis）
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 过期时间，0 表示不过期（redis）
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 瞬时错误重试
	Retry RetryConfig `yaml:"retry" env:"RETRY"`
	// Redis 配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	// Mongo 配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string        `yaml:"uri" env:"URI"`
	Database   string        `yaml:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTGRAPH",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证引擎配置
	if c.Engine.MaxIterations <= 0 {
		errs = append(errs, "engine.max_iterations must be positive")
	}
	if c.Engine.MaxTransferDepth <= 0 {
		errs = append(errs, "engine.max_transfer_depth must be positive")
	}
	if c.Engine.SinkBuffer <= 0 {
		errs = append(errs, "engine.sink_buffer must be positive")
	}
	switch c.Engine.SinkPolicy {
	case "drop_oldest", "error_on_full":
	default:
		errs = append(errs, fmt.Sprintf("unknown engine.sink_policy %q", c.Engine.SinkPolicy))
	}

	// 验证调度配置
	if c.Scheduler.MaxConcurrency <= 0 {
		errs = append(errs, "scheduler.max_concurrency must be positive")
	}
	if c.Scheduler.MaxRetries < 0 {
		errs = append(errs, "scheduler.max_retries must not be negative")
	}
	if c.Scheduler.Breaker.Enabled {
		if c.Scheduler.Breaker.FailureThreshold <= 0 {
			errs = append(errs, "scheduler.breaker.failure_threshold must be positive")
		}
		if c.Scheduler.Breaker.Cooldown <= 0 {
			errs = append(errs, "scheduler.breaker.cooldown must be positive")
		}
	}

	// 验证门禁配置
	for name, phase := range map[string]GatePhaseConfig{
		"pre_validation":  c.Gate.PreValidation,
		"validation":      c.Gate.Validation,
		"post_validation": c.Gate.PostValidation,
	} {
		if phase.Mode != "soft" && phase.Mode != "hard" {
			errs = append(errs, fmt.Sprintf("gate.%s.mode must be soft or hard", name))
		}
		for i, cmd := range phase.Commands {
			if cmd.Command == "" {
				errs = append(errs, fmt.Sprintf("gate.%s.commands[%d] has no command", name, i))
			}
		}
	}

	for name, a := range c.Agents {
		if a.Command == "" {
			errs = append(errs, fmt.Sprintf("agents.%s has no command", name))
		}
	}

	// 验证检查点配置
	switch c.Checkpoint.Backend {
	case "memory":
	case "redis":
		if c.Checkpoint.Redis.Addr == "" {
			errs = append(errs, "checkpoint.redis.addr is required")
		}
	case "database":
		if c.Checkpoint.Database.DSN() == "" {
			errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Checkpoint.Database.Driver))
		}
	case "mongo":
		if c.Checkpoint.Mongo.URI == "" {
			errs = append(errs, "checkpoint.mongo.uri is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown checkpoint.backend %q", c.Checkpoint.Backend))
	}
	if c.Checkpoint.Retry.MaxRetries < 0 {
		errs = append(errs, "checkpoint.retry.max_retries must not be negative")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
