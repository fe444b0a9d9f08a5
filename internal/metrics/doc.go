// 版权所有 2024 AgentGraph Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
图引擎、调度器、质量门禁、检查点与数据库五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。注册表可注入
（nil 时使用 prometheus.DefaultRegisterer），测试中传入独立的
prometheus.NewRegistry() 即可避免重复注册。nil *Collector 上的
所有 Record 方法都是空操作，调用方无需判空。

# 主要能力

  - 图引擎：节点执行次数与耗时、运行最终状态、智能体转交次数。
  - 调度器：单元终态计数、换 agent 重试次数、调度层耗时。
  - 质量门禁：按 phase/gate/status 计数与耗时。
  - 检查点：按 backend/operation 的操作计数与耗时。
  - 数据库：活跃/空闲连接数 Gauge。
*/
package metrics
