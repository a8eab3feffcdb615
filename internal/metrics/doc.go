// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、轮次编排、协作方调用与数据库四大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto.With
注册到调用方传入的 Registerer（nil 时使用默认 Registry）。Collector
同时实现 round.Observer，编排器的事件无需额外适配即可转为指标。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 轮次指标：开启轮次数、按类型统计的命令下发数、按终止原因统计的
    参与者完成数、搜索与综合终态、综合字段回退次数、重连动作分布。
  - 协作方指标：search / synthesis / stream 调用次数与耗时，
    参与者 Token 用量。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram。
*/
package metrics
