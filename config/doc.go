// Package config 提供 guardflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（GUARDFLOW_ 前缀）的顺序叠加。
// 护栏列表 guardrails.input / guardrails.output 只能在 YAML 中声明，
// 每一项是一个 guardrails.Spec，由 guardrails.BuildSet 构建。
package config
