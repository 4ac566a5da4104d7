// =============================================================================
// 🔗 PufferFlow 配置桥接
// =============================================================================
// 把声明式配置转换为各组件的运行时配置
// =============================================================================
package config

import (
	"fmt"

	"github.com/BaSui01/pufferflow/batch"
	"github.com/BaSui01/pufferflow/circuitbreaker"
	"github.com/BaSui01/pufferflow/retry"
	"github.com/BaSui01/pufferflow/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StoreConfig 转换为 Turbopuffer 服务配置
func (c *Config) StoreConfig() store.TurbopufferConfig {
	return store.TurbopufferConfig{
		BaseURL:          c.Turbopuffer.BaseURL,
		APIKey:           c.Turbopuffer.APIKey,
		Namespace:        c.Turbopuffer.Namespace,
		Timeout:          c.Turbopuffer.Timeout,
		DistanceMetric:   c.Turbopuffer.DistanceMetric,
		ContentAttribute: c.Turbopuffer.ContentAttribute,
	}
}

// ClientConfig 转换为弹性客户端配置
func (c *Config) ClientConfig() *store.ClientConfig {
	return &store.ClientConfig{
		Breaker: &circuitbreaker.Config{
			Enabled:                  c.CircuitBreaker.Enabled,
			FailureThreshold:         c.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:          c.CircuitBreaker.RecoveryTimeout,
			HalfOpenSuccessThreshold: c.CircuitBreaker.HalfOpenSuccessThreshold,
		},
		Retry: &retry.Config{
			MaxRetries:   c.Retry.MaxRetries,
			BaseDelay:    c.Retry.BaseDelay,
			MaxDelay:     c.Retry.MaxDelay,
			JitterFactor: c.Retry.JitterFactor,
		},
		Batch: batch.Config{
			EnableBatch:  c.Batch.Enabled,
			BatchSize:    c.Batch.BatchSize,
			BatchTimeout: c.Batch.BatchTimeout,
			MaxQueueSize: c.Batch.MaxQueueSize,
			AddTimeout:   c.Batch.AddTimeout,
			StopTimeout:  c.Batch.StopTimeout,
		},
		RateLimit: store.RateLimitConfig{
			Enabled:           c.RateLimit.Enabled,
			RequestsPerSecond: c.RateLimit.RequestsPerSecond,
			Burst:             c.RateLimit.Burst,
		},
	}
}

// DeadLetterSinkConfig 转换为 Redis 死信队列配置
func (c *Config) DeadLetterSinkConfig() store.RedisDeadLetterConfig {
	return store.RedisDeadLetterConfig{
		Addr:     c.DeadLetter.Addr,
		Password: c.DeadLetter.Password,
		DB:       c.DeadLetter.DB,
		Key:      c.DeadLetter.Key,
	}
}

// BuildLogger 按日志配置构造 zap.Logger
func (lc LogConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Encoding = lc.Format
	if zapCfg.Encoding == "" {
		zapCfg.Encoding = "json"
	}
	if len(lc.OutputPaths) > 0 {
		zapCfg.OutputPaths = lc.OutputPaths
	}
	zapCfg.DisableCaller = !lc.EnableCaller

	return zapCfg.Build()
}
