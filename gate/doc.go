// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package gate 提供三阶段质量门禁流水线。

门禁按阶段归类：pre_validation（规范化、格式检查）、validation（构建、测试、
静态检查）与 post_validation（评审）。validation 阶段的门禁并发执行，
其余阶段顺序执行。每个阶段可配置为 soft 或 hard：soft 阶段的失败记为警告，
hard 阶段的第一个失败立即终止流水线，后续阶段不再执行。

内置门禁：

  - FuncGate: 任意校验函数
  - Normalizer: 改写产物内容的规范化步骤
  - CommandGate: 运行外部命令，退出码 0 视为通过
  - ReviewGate: 通过 llm.Provider 请求 PASS/FAIL 评审结论
*/
package gate
