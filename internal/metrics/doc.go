/*
包 metrics 提供护栏执行的 Prometheus 指标采集。

# 概述

Collector 实现 guardrails.MetricsRecorder，通过 guardrails.WithMetrics
注入执行器。指标按 namespace 隔离，注册表可通过 WithRegisterer 替换，
测试中使用独立的 prometheus.Registry。

# 指标

  - guardrail_runs_total / guardrail_run_duration_seconds：集合执行次数与耗时，
    按 stage/outcome 分组（passed、failed、aborted）。
  - guardrail_checks_total / guardrail_check_duration_seconds：单个护栏校验，
    按 stage/guardrail/outcome 分组（pass、fail、transform）。
  - guardrail_failures_total：失败次数，按 severity 分组。
  - audit_db_connections：审计库连接池状态 Gauge。
*/
package metrics
