// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 概述

roundflow 进程同时运行 API 与 metrics 两个 HTTP 实例，每个实例由一个
Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
Run 以 context 驱动生命周期，便于与 errgroup 组合。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，提供
    Start/Run/Shutdown 等生命周期方法。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与优雅关闭超时，
    FromServerConfig 由应用配置生成。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 上下文驱动：Run 阻塞至 ctx 取消或服务异常，随后优雅关闭。
  - 错误传播：Errors() 返回异步错误通道。
  - 状态查询：IsRunning/Addr，启动后 Addr 返回实际绑定地址。
*/
package server
