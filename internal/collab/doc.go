/*
Package collab 提供轮次编排所需协作方的网络客户端实现。

  - SearchClient：HTTP 搜索服务，实现 runtime.SearchService
  - SynthesisClient：HTTP 综合服务，返回原始 JSON 载荷，由编排器校验与回退
  - MessageClient：HTTP 消息持久化服务，实现 runtime.MessageStore，
    供消息同步读取已完成流的最终消息
  - StreamClient：WebSocket 参与者流，实现 runtime.ParticipantStreamer，
    支持按 StreamDescriptor 重新附着到进行中的流

HTTP 状态码统一映射为 types.Error，429 与 5xx 标记为可重试；
连接建立阶段按指数退避重试，流式传输中途的错误不重试。
*/
package collab
