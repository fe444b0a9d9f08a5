// =============================================================================
// 📦 AgentGraph 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:        DefaultLogConfig(),
		Engine:     DefaultEngineConfig(),
		Scheduler:  DefaultSchedulerConfig(),
		Gate:       DefaultGateConfig(),
		Checkpoint: DefaultCheckpointConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultEngineConfig 返回默认图引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxIterations:    100,
		MaxTransferDepth: 10,
		SinkBuffer:       256,
		SinkPolicy:       "drop_oldest",
	}
}

// DefaultSchedulerConfig 返回默认调度配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrency: 4,
		MaxRetries:     2,
		DefaultAgent:   "developer",
		PhaseAgents:    map[string]string{},
		TypeAgents:     map[string]string{},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Cooldown:         time.Minute,
		},
	}
}

// DefaultGateConfig 返回默认门禁配置：格式化与 AI 评审为软失败，并行校验为硬失败
func DefaultGateConfig() GateConfig {
	return GateConfig{
		PreValidation:  GatePhaseConfig{Mode: "soft"},
		Validation:     GatePhaseConfig{Mode: "hard"},
		PostValidation: GatePhaseConfig{Mode: "soft"},
	}
}

// DefaultCheckpointConfig 返回默认检查点配置
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Backend:   "memory",
		KeyPrefix: "agentgraph:checkpoint:",
		TTL:       0,
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		Redis:    DefaultRedisConfig(),
		Database: DefaultDatabaseConfig(),
		Mongo:    DefaultMongoConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "agentgraph",
		Password:        "",
		Name:            "agentgraph",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "agentgraph",
		Collection: "checkpoints",
		Timeout:    10 * time.Second,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentgraph",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "agentgraph",
	}
}
