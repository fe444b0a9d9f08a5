// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
包 llm 定义模型调用能力的边界契约。

# 概述

agentgraph 不实现模型推理，也不负责网络传输。调用方注入实现了 Provider
接口的适配器，叶子 Agent（agent.LLMAgent）和 AI 审查门禁（gate.ReviewGate）
通过它发起请求。

# 核心类型

  - Provider     — Completion（请求/响应）与 Stream（增量流）两种调用方式
  - ChatRequest  — 会话消息、模型、工具定义
  - StreamChunk  — 增量文本 / 工具调用 / 终止错误
  - Error        — 上游错误，失败以流中最后一个 chunk 的 Err 表达
*/
package llm
