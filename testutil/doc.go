// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 agentgraph 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup

# 子包

  - testutil/mocks: MockProvider（llm.Provider），支持固定响应、按序响应、
    工具调用与错误注入
*/
package testutil
