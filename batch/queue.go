package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handler 批量处理回调，接收一个按提交顺序排列的批次。
type Handler[T any] func(ctx context.Context, items []T) error

// Config 配置批量队列。
type Config struct {
	// EnableBatch 为 false 时每次 Add 立即同步处理单项批次
	EnableBatch bool `json:"enable_batch"`

	// BatchSize 单次 flush 最多取出的条目数
	BatchSize int `json:"batch_size"`

	// BatchTimeout 非满批次的最长等待时间
	BatchTimeout time.Duration `json:"batch_timeout"`

	// MaxQueueSize 队列容量上限（背压边界）
	MaxQueueSize int `json:"max_queue_size"`

	// AddTimeout 队列满时 Add 的有界等待时间
	AddTimeout time.Duration `json:"add_timeout"`

	// StopTimeout Stop 等待后台任务退出的宽限时间
	StopTimeout time.Duration `json:"stop_timeout"`
}

// DefaultConfig 返回合理的默认值。
func DefaultConfig() Config {
	return Config{
		EnableBatch:  true,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxQueueSize: 1000,
		AddTimeout:   1 * time.Second,
		StopTimeout:  5 * time.Second,
	}
}

// Queue 有界批量队列：累积条目，按大小阈值或时间阈值成批交给 Handler。
// 条目严格 FIFO 出队，批次之间不乱序。
type Queue[T any] struct {
	config  Config
	handler Handler[T]
	logger  *zap.Logger

	pending chan T

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// flushMu 串行化 drain，保证批次不交错
	flushMu sync.Mutex

	flushErrors atomic.Int64
	dropped     atomic.Int64
}

// NewQueue 创建批量队列。Handler 由组合层提供（重试与熔断在那一层包裹）。
func NewQueue[T any](config Config, handler Handler[T], logger *zap.Logger) *Queue[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 5 * time.Second
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = 1000
	}
	if config.AddTimeout <= 0 {
		config.AddTimeout = 1 * time.Second
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 5 * time.Second
	}

	return &Queue[T]{
		config:  config,
		handler: handler,
		logger:  logger.With(zap.String("component", "batch_queue")),
		pending: make(chan T, config.MaxQueueSize),
	}
}

// Start 启动后台定时 flush 任务。幂等：重复调用只有第一次生效。
func (q *Queue[T]) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.startLocked()
}

func (q *Queue[T]) startLocked() {
	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})

	go q.run(q.stopCh, q.doneCh)

	q.logger.Info("batch queue started",
		zap.Int("batch_size", q.config.BatchSize),
		zap.Duration("batch_timeout", q.config.BatchTimeout),
	)
}

// run 后台调度循环：每个 BatchTimeout 周期尝试一次 flush。
func (q *Queue[T]) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(q.config.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.Flush()
		case <-stopCh:
			return
		}
	}
}

// Stop 停止后台任务并排空队列：所有剩余条目在返回前交给 Handler。
// 后台任务超过 StopTimeout 仍未退出时放弃等待。幂等。
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	doneCh := q.doneCh
	q.mu.Unlock()

	select {
	case <-doneCh:
	case <-time.After(q.config.StopTimeout):
		q.logger.Warn("batch scheduler did not stop in time, abandoning wait",
			zap.Duration("stop_timeout", q.config.StopTimeout),
		)
	}

	// 最终排空：把剩余条目全部交给 Handler
	for len(q.pending) > 0 {
		q.Flush()
	}

	q.logger.Info("batch queue stopped")
}

// Add 添加单个条目。
// 批量关闭时同步处理单项批次，Handler 的错误被吞掉并记日志（单项旁路
// 失败不能影响调用方），返回 false 表示处理失败。
// 批量开启时惰性启动后台任务，队列满则有界等待，仍满返回 false（背压）。
func (q *Queue[T]) Add(ctx context.Context, item T) bool {
	if !q.config.EnableBatch {
		if err := q.handler(ctx, []T{item}); err != nil {
			q.logger.Error("failed to process single item", zap.Error(err))
			return false
		}
		return true
	}

	q.ensureStarted()

	select {
	case q.pending <- item:
		return true
	default:
	}

	// 队列满，短暂有界等待后放弃
	timer := time.NewTimer(q.config.AddTimeout)
	defer timer.Stop()

	select {
	case q.pending <- item:
		return true
	case <-timer.C:
		q.dropped.Add(1)
		q.logger.Warn("failed to add item to batch queue - queue is full")
		return false
	case <-ctx.Done():
		q.logger.Warn("add cancelled while waiting for queue space", zap.Error(ctx.Err()))
		return false
	}
}

// AddAll 批量添加条目，逐条非阻塞入队（尽力而为）。
// 至少一条被接受即返回 true；丢弃数量记入日志。
func (q *Queue[T]) AddAll(ctx context.Context, items []T) bool {
	if len(items) == 0 {
		return true
	}

	if !q.config.EnableBatch {
		if err := q.handler(ctx, items); err != nil {
			q.logger.Error("failed to process item batch",
				zap.Int("count", len(items)),
				zap.Error(err),
			)
			return false
		}
		return true
	}

	q.ensureStarted()

	added := 0
offer:
	for _, item := range items {
		select {
		case q.pending <- item:
			added++
		default:
			// 第一次满即停止，剩余条目由调用方决定如何降级
			break offer
		}
	}

	if added != len(items) {
		q.dropped.Add(int64(len(items) - added))
		q.logger.Warn("only added part of the batch to the queue",
			zap.Int("added", added),
			zap.Int("total", len(items)),
		)
	}

	return added > 0
}

// Flush 同步取出至多 BatchSize 个条目并调用一次 Handler。
// Handler 的失败被记录但绝不传播——一个失败批次不能杀死周期任务。
// 队列为空时为空操作。
func (q *Queue[T]) Flush() {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	if len(q.pending) == 0 {
		return
	}

	items := make([]T, 0, q.config.BatchSize)
drain:
	for len(items) < q.config.BatchSize {
		select {
		case item := <-q.pending:
			items = append(items, item)
		default:
			break drain
		}
	}

	if len(items) == 0 {
		return
	}

	if err := q.handler(context.Background(), items); err != nil {
		q.flushErrors.Add(1)
		q.logger.Error("failed to process batch",
			zap.Int("count", len(items)),
			zap.Error(err),
		)
		return
	}

	q.logger.Debug("processed batch", zap.Int("count", len(items)))
}

// ensureStarted 惰性启动（首次 Add/AddAll 触发）。
func (q *Queue[T]) ensureStarted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		q.startLocked()
	}
}

// Len 返回当前队列深度。
func (q *Queue[T]) Len() int {
	return len(q.pending)
}

// Running 返回后台任务是否在运行。
func (q *Queue[T]) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// FlushErrors 返回周期 flush 中被吞掉的 Handler 失败次数。
func (q *Queue[T]) FlushErrors() int64 {
	return q.flushErrors.Load()
}

// Dropped 返回因队列满被拒绝的条目数。
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}
