// =============================================================================
// 📦 PufferFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Turbopuffer:    DefaultTurbopufferConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Retry:          DefaultRetryConfig(),
		Batch:          DefaultBatchConfig(),
		RateLimit:      DefaultRateLimitConfig(),
		DeadLetter:     DefaultDeadLetterConfig(),
		Log:            DefaultLogConfig(),
	}
}

// DefaultTurbopufferConfig 返回默认 Turbopuffer 配置
func DefaultTurbopufferConfig() TurbopufferConfig {
	return TurbopufferConfig{
		Timeout:          30 * time.Second,
		DistanceMetric:   "cosine_distance",
		ContentAttribute: "content",
	}
}

// DefaultCircuitBreakerConfig 返回默认熔断器配置
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:                  true,
		FailureThreshold:         5,
		RecoveryTimeout:          60 * time.Second,
		HalfOpenSuccessThreshold: 3,
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
	}
}

// DefaultBatchConfig 返回默认批量队列配置
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Enabled:      true,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxQueueSize: 1000,
		AddTimeout:   time.Second,
		StopTimeout:  5 * time.Second,
	}
}

// DefaultRateLimitConfig 返回默认限流配置（默认关闭）
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           false,
		RequestsPerSecond: 50,
		Burst:             100,
	}
}

// DefaultDeadLetterConfig 返回默认死信队列配置（默认关闭）
func DefaultDeadLetterConfig() DeadLetterConfig {
	return DeadLetterConfig{
		Enabled: false,
		Addr:    "localhost:6379",
		Key:     "pufferflow:deadletter",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}
