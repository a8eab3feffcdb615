// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package round 实现多参与者对话的轮次编排核心。

# 概述

每一轮由一条用户消息开启，可选地经过联网搜索增强阶段，随后按优先级
顺序依次流式调用 N 个参与者，全部参与者完成后生成唯一的综合（synthesis）
产物。本包只负责"何时"触发各阶段以及恰好一次（exactly-once）保证，
不关心协作方"做什么"。

# 核心组件

  - Tracker：去重追踪器：searchTriggered / synthesisCreated 两个
    独立集合，只暴露 Mark / Has / Clear
  - 阶段门控：ShouldWaitForSearch 与 GetParticipantCompletionStatus，
    纯函数，不修改状态
  - Sequencer：按优先级升序稳定排序的参与者序列器，AdvanceFrom 幂等
  - Reconciler：重连时根据 StreamDescriptor 的生命周期状态选择
    恢复动作（Resume / SyncMessage / Fail / None）
  - Orchestrator：组合以上组件，持有全部轮次状态，所有变更都通过
    命名的转换方法完成并返回待执行的 Command

# 并发模型

每个转换方法在同一把互斥锁内完成"计算门控、标记追踪器、生成命令"，
因此并发的回调不可能为同一轮次拿到两次触发。转换方法本身从不阻塞在
I/O 上，命令由 round/runtime 中的 Engine 在协程中下发给协作方。

# 失败语义

  - 参与者以 error 结束视为已响应；unknown 且无内容视为中断，等待重连
  - 搜索失败或超时降级放行，不阻塞轮次
  - 综合载荷中的非法枚举字段回退为文档默认值，整体解析失败则记为 failed
  - 断开或切换页面从不取消进行中的流
*/
package round
