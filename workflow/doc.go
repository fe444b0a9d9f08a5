// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package workflow 提供带共享状态的图工作流引擎。

# 概述

图由节点、有向边、入口节点和一组状态通道组成。每个节点按注册名运行一个
智能体；智能体只能通过 state_update 事件写状态，由引擎在节点事件流结束后
经各通道的 Reducer 统一合并。允许环，由迭代上限保护。

# 核心类型

  - StateSchema / ChannelSpec — 状态通道声明（Overwrite / Append / Sum）
  - State                     — 单次运行的状态，Apply / ApplyAll 是唯一写入点
  - Graph / Node / Edge       — 图定义；边可带 Go 谓词或 CEL 表达式
  - GraphBuilder              — Fluent API 构建并校验图
  - GraphDefinition           — JSON / YAML 可序列化定义
  - Engine                    — Run / Resume，中断、检查点与迭代上限
  - GraphAgent                — 把图包装为 agent.Agent
  - ExecutionHistory          — 单次运行经过的节点记录

# 执行语义

每次进入节点：检查 before 中断 → 检查迭代上限 → 通过 agent.Execute 运行
智能体并把事件转发到 Sink → 原子地应用状态更新 → 检查 after 中断 →
按声明顺序选择第一条可走的出边并写检查点。没有可走出边时运行完成。
失败与取消不写检查点，上一个检查点保持可恢复。
*/
package workflow
