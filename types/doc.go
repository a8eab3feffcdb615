// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 roundflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 round、runtime、store、
api 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message：轮次消息的标签联合：UserMessage / ParticipantMessage /
    SynthesisMessage，仅能通过类型 switch 区分
  - RawMessage：边界层的松散消息载荷，经 DecodeMessage 一次性
    转换为规范形态，metadata 同时兼容 camelCase 与 snake_case
  - FinishReason：参与者流的终止原因（stop / length / error / unknown）
  - Usage：Token 用量元数据
  - Participant：参与者配置（ID、优先级、启用状态）
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 内容判定：ParticipantMessage.HasContent 以"至少一个非空白文本片段"
    作为有内容的标准
  - 排序：SortByPriority 按优先级升序稳定排序并过滤未启用参与者
  - Context 传播：WithRequestID / WithConversationID
*/
package types
