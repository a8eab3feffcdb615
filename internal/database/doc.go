// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责按配置打开 GORM 数据库并管理其连接池。

# 概述

Open 根据 config.DatabaseConfig 的驱动名选择 postgres、mysql 或
glebarez/sqlite 方言；PoolManager 封装底层 sql.DB 的连接池参数、
后台健康检查与事务重试，并可通过 ReportStats 把连接数回传给指标层。

# 核心类型

  - PoolManager：连接池管理器，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：连接池配置，可由 PoolConfigFrom 从数据库配置派生。
  - PoolStats：友好格式的连接池统计信息。
  - TransactionFunc：事务回调函数类型。
*/
package database
