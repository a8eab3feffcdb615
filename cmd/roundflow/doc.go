// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 roundflow 服务端程序入口。

# 概述

cmd/roundflow 组装轮次引擎与外部协作方（参与者流、搜索、综合、消息存储），
对外提供 HTTP API 与 WebSocket 事件推送。程序支持 YAML 配置文件加载、
结构化日志（zap）、OpenTelemetry 追踪与 Prometheus 指标采集。

# 核心类型

  - Server：持有引擎、存储与 API/Metrics 两个 HTTP 服务
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令（cobra）：serve、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、MetricsMiddleware、
    SecurityHeaders、RequestLogger、CORS、RateLimiter（基于 IP）
  - 存储选择：persist_messages 时使用数据库，否则可接远端消息服务；
    流描述符存于内存或 Redis
  - Metrics 服务器：独立端口暴露 /metrics（独立 Registry）
  - 优雅关闭：信号 → errgroup 取消 → 关闭 HTTP → 等待进行中的协作方调用 → 释放资源
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
