// Package config 提供 roundflow 的配置管理功能。
//
// 配置按"默认值 → YAML 文件 → 环境变量（ROUNDFLOW_ 前缀）"的优先级加载，
// 覆盖服务器、轮次编排、参与者、协作方、Redis、数据库、用量估算、
// 日志与遥测等配置段。
package config
