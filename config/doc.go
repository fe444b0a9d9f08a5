// Package config 提供 AgentGraph 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（AGENTGRAPH_ 前缀）的顺序叠加，
// 覆盖日志、图引擎、批次调度、质量门禁、检查点后端、遥测与指标。
package config
