// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 AgentGraph 的图引擎与批次调度器提供 TracerProvider 和 MeterProvider。
// 遥测禁用时保持全局 noop 实现，不连接任何外部服务。
package telemetry
