// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package scheduler 提供依赖感知的批次调度器。

一组 Story 按依赖关系分层（入度为零逐层剥离），同层单元通过有界 worker 池并发执行。
每个单元的 agent 按 显式指定 → 阶段 → 类型 → 全局默认 的顺序解析；
产出经过 gate.Pipeline 校验，硬失败时换用下一个候选 agent 重试，
重试用尽后单元失败，其所有下游单元标记为 blocked 且不会被执行。

每层结束后保存 checkpoint.BatchProgress，Resume 可从最后完成的层继续。
*/
package scheduler
