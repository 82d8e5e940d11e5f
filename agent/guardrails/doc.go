// 版权所有 2024 guardflow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 guardrails 提供护栏校验/改写流水线：对一段对话内容并行或顺序执行
一组可插拔的检查器与改写器，按严重级别策略汇总结论。

# 概述

流水线本身不决定"检查什么"，它只编排实现了 [Guardrail] 接口的单元。
每个护栏返回 [Result]：通过（[Pass]）、失败（[Fail]）或改写（[Transform]）。
执行器把所有结论折叠为 [ExecutionResult]，或在 Critical 且 FailFast 的
失败出现时返回 [AbortError]。

# 执行模型

[Executor.Run] 分两个阶段：

  - 并发阶段：RunParallel 为 true 的护栏在同一份内容快照上并发执行，
    全部完成后按注册顺序折叠结果。多个并发改写时注册顺序靠后者生效。
  - 顺序阶段：其余护栏按注册顺序逐个执行，每个都能看到此前的全部改写。

完成先后从不影响结果：失败顺序、生效的改写以及被归咎的 Critical 护栏
都只由注册顺序决定。中断时此前记录的失败全部丢弃。

Passed 在没有失败或所有失败均为 Low 时为 true；TransformedContent 仅当
最终内容与输入按值不同时非空。

# 内置护栏

  - [ContentFilter]：禁止关键词/模式、主题约束、长度限制；
    预设 [HarmfulContent]、[OnTopic]、[MaxLength]、[BlockedKeywords]
  - [PIIRedactor]：邮箱、电话、SSN、信用卡、IP 脱敏，顺序执行，幂等
  - [InjectionDetector]：中英文提示注入与角色标记检测
  - [ShadowAIDetector]：未授权 AI 服务与密钥泄露检测
  - [SchemaValidator]：JSON Schema 结构化输出校验
  - [RateLimiter] / [RedisRateLimiter]：本地令牌桶与 Redis 固定窗口限流
  - [TokenLimit]：基于 tiktoken 或估算器的 token 预算
  - [WithTimeout]、[WithSeverity]、[Override]：外部包装器

# 配置驱动

[BuildSet] 把声明式 [Spec] 列表构建为 [Set]，未知类型、非法模式或
schema、重复名称都在构建期报错。

# 审计与可观测性

执行器通过 [WithAuditLogger] 写入审计事件（只记录内容哈希），
通过 [WithMetrics] 上报指标，并为每次执行与每个护栏创建 OpenTelemetry span。
*/
package guardrails
