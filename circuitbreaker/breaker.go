package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常通行）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中，拒绝请求）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Enabled 为 false 时 AllowRequest 恒为 true，记录操作为空操作
	Enabled bool

	// FailureThreshold 连续失败次数阈值（触发熔断）
	FailureThreshold int

	// RecoveryTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	RecoveryTimeout time.Duration

	// HalfOpenSuccessThreshold 半开状态下恢复到 Closed 所需的连续成功次数，
	// 同时也是半开状态下允许放行的探测请求上限
	HalfOpenSuccessThreshold int

	// OnStateChange 状态变更回调
	OnStateChange func(from State, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:                  true,
		FailureThreshold:         5,
		RecoveryTimeout:          60 * time.Second,
		HalfOpenSuccessThreshold: 3,
	}
}

// Breaker 熔断器。与执行逻辑解耦：调用方在每次下游调用前询问
// AllowRequest，调用后通过 RecordSuccess / RecordFailure 反馈结果。
type Breaker struct {
	config *Config
	logger *zap.Logger

	mu                sync.Mutex
	state             State
	failureCount      int       // 连续失败次数
	halfOpenSuccesses int       // 半开状态下的成功次数
	lastFailureTime   time.Time // 最后失败时间
}

// New 创建熔断器
func New(config *Config, logger *zap.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.HalfOpenSuccessThreshold <= 0 {
		config.HalfOpenSuccessThreshold = 3
	}

	return &Breaker{
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		state:  StateClosed,
	}
}

// AllowRequest 检查是否允许请求通过。
// Open 状态下超过恢复等待时间的第一次询问会将状态切到 HalfOpen，
// 该请求即成为探测请求。
func (b *Breaker) AllowRequest() bool {
	if !b.config.Enabled {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		// 检查是否到了恢复时间
		if time.Since(b.lastFailureTime) > b.config.RecoveryTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenSuccesses = 0
			b.logger.Info("熔断器进入半开状态")
			return true
		}
		return false

	case StateHalfOpen:
		// 半开状态下允许有限的探测请求通过
		return b.halfOpenSuccesses < b.config.HalfOpenSuccessThreshold

	default:
		return true
	}
}

// RecordSuccess 记录一次成功调用
func (b *Breaker) RecordSuccess() {
	if !b.config.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		// 正常状态下重置失败计数
		b.failureCount = 0

	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.HalfOpenSuccessThreshold {
			b.failureCount = 0
			b.halfOpenSuccesses = 0
			b.lastFailureTime = time.Time{}
			b.setState(StateClosed)
			b.logger.Info("熔断器恢复正常")
		}

	case StateOpen:
		// 打开状态不应该有调用
		b.logger.Warn("熔断器打开状态收到成功响应")
	}
}

// RecordFailure 记录一次失败调用。半开状态下任意一次失败立即重新熔断。
func (b *Breaker) RecordFailure() {
	if !b.config.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.logger.Warn("熔断器打开",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.FailureThreshold),
			)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		b.logger.Warn("熔断器半开状态失败，重新打开",
			zap.Int("half_open_successes", b.halfOpenSuccesses),
		)
		b.halfOpenSuccesses = 0
		b.setState(StateOpen)
	}
}

// Reset 将所有计数器清零。不改变当前状态；状态的恢复由
// RecordSuccess 的半开转换路径完成。
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.halfOpenSuccesses = 0
	b.lastFailureTime = time.Time{}
}

// setState 设置状态并触发回调。调用方必须持有 b.mu。
func (b *Breaker) setState(newState State) {
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

// State 获取当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount 获取当前连续失败次数
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
