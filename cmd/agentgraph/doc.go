// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentGraph 命令行程序入口。

# 概述

cmd/agentgraph 把图工作流引擎、批次调度器、质量门禁与检查点存储
组装为一个 cobra 命令行工具。配置来自 YAML 文件与 AGENTGRAPH_ 前缀的
环境变量；配置中的 agents 段注册为外部命令行智能体。

# 子命令

  - validate    校验图定义并输出入口、节点、边与结构指纹
  - run         运行图工作流，可用 --events 把事件以 JSON 行写到 stderr
  - resume      对中断的执行做出审核决定（默认批准，--reject 拒绝）并继续
  - plan        输出批次计划的依赖分层
  - batch       按层执行批次计划；--resume 从检查点继续
  - gate        对单个文件运行配置的质量门禁，硬失败时以非零状态退出
  - checkpoint  list、show、delete 管理检查点
  - version     显示构建注入的版本信息

# 资源管理

日志（zap）、遥测（OpenTelemetry）与 Prometheus 指标在命令执行前初始化，
命令结束后（包括失败时）依次关闭检查点存储、遥测并写出 --metrics-file。
*/
package main
