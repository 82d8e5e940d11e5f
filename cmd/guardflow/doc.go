// Copyright (c) guardflow Authors.
// Licensed under the MIT License.

/*
Package main 提供 guardflow 命令行程序入口。

# 概述

cmd/guardflow 从标准输入或文件读取一段内容，按配置文件中的
guardrails.input 或 guardrails.output 执行护栏，并以 JSON 输出执行结果。
程序支持 YAML 配置、.env 环境变量文件、结构化日志（zap）、
Prometheus 指标文本文件导出以及 OpenTelemetry 链路追踪。

# 子命令

  - check          执行一个阶段的护栏，退出码区分通过、违规与中断
  - audit query    查询 database 后端中的审计记录
  - audit prune    按保留时长清理审计记录
  - version        显示版本信息

# 退出码

  - 0  通过
  - 1  运行错误（配置、IO、依赖不可用）
  - 2  存在非 Low 级别的失败
  - 3  Critical 失败中断了执行
*/
package main
