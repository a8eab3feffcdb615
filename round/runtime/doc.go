// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package runtime 把 round.Orchestrator 产出的 Command 落实为对协作方的调用。

Engine 以会话 ID 维护 Session，每个 Session 持有一个编排器与一组视图订阅者。
命令在引擎自身的根 context 下通过 conc.WaitGroup 并发执行，并为每条命令
创建 OpenTelemetry span；协作方的结果再以转换方法回灌编排器。

  - 搜索：先写入 streaming 记录，失败或超时降级为 failed 后放行
  - 参与者：写入 active 描述符后流式拉取，流结束时补全 Token 用量并持久化
  - 中断：查询描述符存储，active 则 Resume，completed 则同步消息，
    其余情况判为失败，保证轮次继续推进
  - 综合：校验并回退非法字段，失败不自动重试，可经 RetrySynthesis 显式重试

Run 启动搜索看门狗，Close 等待在途调用结束后再取消根 context。
*/
package runtime
