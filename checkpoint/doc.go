// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package checkpoint 持久化图执行与批次调度的进度，使中断或崩溃后的执行可以恢复。

# 核心模型

  - GraphCheckpoint: 某次执行在某个时刻的完整快照，包含当前节点、各状态通道的值、
    待处理的中断、已进入节点次数与批次进度
  - Store: 按执行 ID 保存、读取、删除与枚举检查点的存储契约
  - Manager: 在 Store 之上串行化同一执行的写入，保证时间戳严格递增，
    并对瞬时 I/O 错误做有限次退避重试

# 存储后端

  - MemoryStore: 进程内存，JSON 深拷贝
  - RedisStore: go-redis，WATCH/MULTI 按时间戳做比较后写入，可设置过期
  - SQLStore: gorm，表 checkpoint_records，事务内按时间戳条件更新
  - MongoStore: mongo-driver，按时间戳过滤的 upsert

较旧的检查点永远不会覆盖较新的检查点，此类写入返回 ErrStale。
*/
package checkpoint
