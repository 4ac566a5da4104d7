// Package config 提供 PufferFlow 的配置管理功能。
//
// 包含配置加载、校验与桥接。
// 支持从 YAML 文件和环境变量加载配置，
// 并把声明式配置转换为各组件的运行时配置。
package config
