// 版权所有 2024 AgentGraph Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库打开与连接池管理，供检查点的
SQL 后端使用。

# 核心类型

  - Dialector/Open：按 config.DatabaseConfig 的驱动选择 PostgreSQL、
    MySQL 或纯 Go 的 SQLite 方言并打开连接。
  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接生命周期、
    空闲超时与健康检查间隔。

# 主要能力

  - 健康检查：后台定时 PingContext 探活，并把打开/空闲连接数写入
    Prometheus 指标。
  - 错误分类：IsRetryable 识别死锁、序列化失败、连接中断等瞬时错误。
*/
package database
