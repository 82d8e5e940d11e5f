// Copyright (c) guardflow Authors.
// Licensed under the MIT License.

/*
Package types 提供 guardflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent/guardrails、agent、
config 等上层模块提供统一的类型契约。

# 核心类型

  - Content / Part   : 对话内容（Role + 有序 Part 列表），按值不可变
  - Role / PartKind  : 角色与 Part 变体标签（text、inline_data、function_call、function_response）
  - Error / ErrorCode: 结构化错误体系（GUARDRAILS_VIOLATED、GUARDRAIL_ABORTED 等）

# 主要能力

  - 内容变换：WithText / WithPart / MapText 均返回新值，从不原地修改
  - 值比较：Content.Equal 做深度值比较，用于检测护栏是否改写了内容
  - Context 传播：WithRunID / WithTenantID / WithUserID / WithSessionID
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
*/
package types
