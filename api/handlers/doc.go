// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 roundflow HTTP API 的请求处理器实现。

# 概述

handlers 包实现对话轮次的全部 HTTP 端点：提交用户消息、查询视图、
配置参与者、重连恢复、离开、重试综合，以及基于 WebSocket 的视图推送。
同时提供健康检查与统一的响应/错误处理。

# 核心类型

  - RoundHandler：轮次端点，依赖 RoundService（由 runtime.Engine 实现）
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /version）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，支持 Hijack
  - HealthCheck：可插拔健康检查接口，NewCheck 以函数构造

# 主要能力

  - 统一响应格式：WriteSuccess / WriteStatus / WriteError / WriteAPIError
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 事件推送：/events 建立 WebSocket，连接关闭视为客户端离开，从不取消流
*/
package handlers
