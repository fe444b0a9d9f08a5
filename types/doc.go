// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentgraph 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、workflow、checkpoint、
gate、scheduler 等上层模块提供统一的错误契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误，携带错误码、类别、节点 / 单元 / 门禁定位信息
  - Category          — 错误类别：configuration / execution / gate / limit / scheduling / storage

# 主要能力

  - 错误工具链：NewError / AsError / IsErrorCode / GetErrorCode
  - 类别判断：IsConfiguration / IsLimit / IsRetryable
  - 保护性上限（环路计数、转交深度）与普通执行失败可被区分
*/
package types
