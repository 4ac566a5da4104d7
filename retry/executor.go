package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/BaSui01/pufferflow/types"
	"go.uber.org/zap"
)

// minDelay 重试延迟下限，避免零延迟忙等
const minDelay = 100 * time.Millisecond

// Config 重试执行器配置
type Config struct {
	MaxRetries   int           `json:"max_retries"`   // 最大重试次数（0 表示不重试）
	BaseDelay    time.Duration `json:"base_delay"`    // 初始延迟时间
	MaxDelay     time.Duration `json:"max_delay"`     // 最大延迟时间
	JitterFactor float64       `json:"jitter_factor"` // 抖动系数（防止雪崩）
}

// DefaultConfig 返回默认的重试配置，适用于大部分向量库 API 调用场景
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
	}
}

// Executor 重试执行器。无持久状态，每次调用产生独立的尝试序列。
type Executor struct {
	config *Config
	logger *zap.Logger
}

// New 创建重试执行器
func New(config *Config, logger *zap.Logger) *Executor {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.JitterFactor < 0 {
		config.JitterFactor = 0
	}

	return &Executor{
		config: config,
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Do 执行操作，失败时按指数退避重试，最多 MaxRetries+1 次尝试。
// 不可重试的失败立即返回原始错误；重试耗尽后返回
// RETRIES_EXHAUSTED 错误，其 Cause 为最后一次观察到的失败。
func (e *Executor) Do(ctx context.Context, operationName string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				e.logger.Info("重试成功",
					zap.String("operation", operationName),
					zap.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		if !isRetriable(lastErr) {
			e.logger.Error("错误不可重试",
				zap.String("operation", operationName),
				zap.Error(lastErr),
			)
			return lastErr
		}

		if attempt == e.config.MaxRetries {
			break
		}

		delay := e.calculateDelay(attempt)
		e.logger.Warn("操作失败，准备重试",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		// 等待延迟，同时监听 context 取消
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled for %s: %w", operationName, ctx.Err())
		case <-time.After(delay):
		}
	}

	e.logger.Error("重试次数耗尽",
		zap.String("operation", operationName),
		zap.Int("attempts", e.config.MaxRetries+1),
		zap.Error(lastErr),
	)

	return types.NewError(types.ErrRetriesExhausted,
		fmt.Sprintf("operation %q failed after %d attempts", operationName, e.config.MaxRetries+1)).
		WithOperation(operationName).
		WithCause(lastErr)
}

// calculateDelay 计算延迟时间（指数退避 + 乘性抖动，下限 100ms）
func (e *Executor) calculateDelay(attempt int) time.Duration {
	// 倍增到上限为止，避免大 attempt 下的移位溢出
	delay := e.config.BaseDelay
	for i := 0; i < attempt && delay < e.config.MaxDelay; i++ {
		delay *= 2
	}
	if delay > e.config.MaxDelay {
		delay = e.config.MaxDelay
	}

	if e.config.JitterFactor > 0 {
		jitter := 1 + (rand.Float64()*2-1)*e.config.JitterFactor
		delay = time.Duration(float64(delay) * jitter)
	}

	if delay < minDelay {
		delay = minDelay
	}
	return delay
}

// transientMarkers 错误消息中的瞬时故障特征（兜底启发式）
var transientMarkers = []string{
	"timeout", "connection", "network", "502", "503", "504",
}

// isRetriable 判断失败是否值得重试。
// 网络传输类失败总是可重试；带类型的下游错误按其 Retryable 标记；
// 其余按消息文本中的瞬时故障特征兜底判断。
func isRetriable(err error) bool {
	if err == nil {
		return false
	}

	// context 取消由重试循环本身终止，不在这里重试
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var typed *types.Error
	if errors.As(err, &typed) {
		return typed.Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
