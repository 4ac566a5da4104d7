package store

import (
	"context"
	"fmt"

	"github.com/BaSui01/pufferflow/batch"
	"github.com/BaSui01/pufferflow/circuitbreaker"
	"github.com/BaSui01/pufferflow/retry"
	"github.com/BaSui01/pufferflow/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/BaSui01/pufferflow/store"

var _ VectorStore = (*Client)(nil)

// RateLimitConfig 客户端侧限流配置（下游本身是限流服务）
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// ClientConfig 组合根配置
type ClientConfig struct {
	Breaker   *circuitbreaker.Config `json:"circuit_breaker"`
	Retry     *retry.Config          `json:"retry"`
	Batch     batch.Config           `json:"batch"`
	RateLimit RateLimitConfig        `json:"rate_limit"`
}

// DefaultClientConfig 返回合理的默认值。
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Breaker: circuitbreaker.DefaultConfig(),
		Retry:   retry.DefaultConfig(),
		Batch:   batch.DefaultConfig(),
	}
}

// Option 配置 Client 的可选依赖
type Option func(*Client)

// WithDeadLetter 注入死信队列：重试耗尽后仍失败的批次会被记录进去。
func WithDeadLetter(sink DeadLetterSink) Option {
	return func(c *Client) {
		c.dead = sink
	}
}

// WithPrometheus 在给定 Registerer 上注册 Prometheus 指标。
func WithPrometheus(namespace string, reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics.prom = newPromCollector(namespace, reg)
	}
}

// Client 弹性批量客户端：用熔断器和重试执行器包裹批量队列的
// flush 回调，把零散且不可靠的单条操作变成吞吐友好、故障隔离的
// 批量下游调用。
type Client struct {
	service Service
	config  *ClientConfig

	breaker *circuitbreaker.Breaker
	retryer *retry.Executor
	queue   *batch.Queue[Document]
	metrics *Metrics
	limiter *rate.Limiter
	dead    DeadLetterSink
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewClient 创建弹性批量客户端。Service 的生命周期归属 Client，
// Close 时一并释放。
func NewClient(service Service, config *ClientConfig, logger *zap.Logger, opts ...Option) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.Breaker == nil {
		config.Breaker = circuitbreaker.DefaultConfig()
	}
	if config.Retry == nil {
		config.Retry = retry.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "resilient_client"))

	c := &Client{
		service: service,
		config:  config,
		breaker: circuitbreaker.New(config.Breaker, logger),
		retryer: retry.New(config.Retry, logger),
		metrics: newMetrics(),
		tracer:  otel.Tracer(instrumentationName),
		logger:  logger,
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerSecond > 0 {
		burst := config.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit.RequestsPerSecond), burst)
	}

	for _, opt := range opts {
		opt(c)
	}

	c.queue = batch.NewQueue(config.Batch, c.handleBatch, logger)

	logger.Info("resilient client initialized",
		zap.Int("batch_size", config.Batch.BatchSize),
		zap.Bool("circuit_breaker", config.Breaker.Enabled),
	)

	return c
}

// handleBatch 批量队列的 flush 回调：直接写入路径 + 死信兜底。
func (c *Client) handleBatch(ctx context.Context, docs []Document) error {
	err := c.AddDocumentsDirectly(ctx, docs)
	if err != nil && c.dead != nil {
		if dlqErr := c.dead.Record(ctx, "addDocuments", docs, err); dlqErr != nil {
			c.logger.Error("failed to record dead letter batch",
				zap.Int("count", len(docs)),
				zap.Error(dlqErr),
			)
		}
	}
	return err
}

// AddDocument 异步提交单个文档：入队即返回，不等待下游调用。
// 队列满时降级为直接同步写入，绝不丢数据。
func (c *Client) AddDocument(ctx context.Context, doc Document) error {
	if !c.config.Batch.EnableBatch {
		return c.AddDocumentsDirectly(ctx, []Document{doc})
	}

	if c.queue.Add(ctx, doc) {
		c.logger.Debug("document added to batch queue", zap.String("id", doc.ID))
		return nil
	}

	c.logger.Warn("failed to add document to batch queue, processing directly",
		zap.String("id", doc.ID),
	)
	return c.AddDocumentsDirectly(ctx, []Document{doc})
}

// AddDocuments 异步批量提交：尽力入队，队列拒绝整批时降级为直接写入。
func (c *Client) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if !c.config.Batch.EnableBatch {
		return c.AddDocumentsDirectly(ctx, docs)
	}

	if c.queue.AddAll(ctx, docs) {
		return nil
	}

	c.logger.Warn("batch queue rejected all documents, processing directly",
		zap.Int("count", len(docs)),
	)
	return c.AddDocumentsDirectly(ctx, docs)
}

// AddDocumentsDirectly 绕过队列直接写入（带重试与熔断）。
func (c *Client) AddDocumentsDirectly(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	const operation = "addDocuments"
	c.metrics.recordOperation(operation)

	ctx, span := c.tracer.Start(ctx, "pufferflow.AddDocumentsDirectly",
		trace.WithAttributes(attribute.Int("document.count", len(docs))))
	defer span.End()

	err := c.retryer.Do(ctx, operation, func() error {
		return c.guardedCall(ctx, operation, len(docs), func() error {
			return c.service.WriteBatch(ctx, docs)
		})
	})

	c.recordOutcome(operation, int64(len(docs)), err)
	if err != nil {
		return err
	}

	c.logger.Debug("documents written", zap.Int("count", len(docs)))
	return nil
}

// SimilaritySearch 带重试与熔断的相似度查询。
func (c *Client) SimilaritySearch(ctx context.Context, embedding []float64, topK int) ([]SearchResult, error) {
	const operation = "similaritySearch"
	c.metrics.recordOperation(operation)

	ctx, span := c.tracer.Start(ctx, "pufferflow.SimilaritySearch",
		trace.WithAttributes(attribute.Int("query.top_k", topK)))
	defer span.End()

	results, err := retry.DoWithResult(c.retryer, ctx, operation, func() ([]SearchResult, error) {
		var out []SearchResult
		callErr := c.guardedCall(ctx, operation, 1, func() error {
			var innerErr error
			out, innerErr = c.service.Query(ctx, embedding, topK)
			return innerErr
		})
		return out, callErr
	})

	c.recordOutcome(operation, 1, err)
	return results, err
}

// DeleteDocuments 带重试与熔断的按 ID 删除。
func (c *Client) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	const operation = "deleteVectors"
	c.metrics.recordOperation(operation)

	ctx, span := c.tracer.Start(ctx, "pufferflow.DeleteDocuments",
		trace.WithAttributes(attribute.Int("document.count", len(ids))))
	defer span.End()

	err := c.retryer.Do(ctx, operation, func() error {
		return c.guardedCall(ctx, operation, len(ids), func() error {
			return c.service.Delete(ctx, ids)
		})
	})

	c.recordOutcome(operation, int64(len(ids)), err)
	return err
}

// guardedCall 单次下游调用的守护序列：熔断检查 -> 限流 -> 调用 ->
// 熔断反馈。熔断拒绝是不可重试错误，立即返回调用方。
func (c *Client) guardedCall(ctx context.Context, operation string, itemCount int, fn func() error) error {
	if !c.breaker.AllowRequest() {
		return types.NewError(types.ErrCircuitOpen,
			fmt.Sprintf("circuit breaker is open, rejecting %s", operation)).
			WithOperation(operation).
			WithItemCount(itemCount)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait for %s: %w", operation, err)
		}
	}

	if err := fn(); err != nil {
		c.breaker.RecordFailure()
		return err
	}

	c.breaker.RecordSuccess()
	return nil
}

// recordOutcome 更新成功/失败指标并镜像到 Prometheus。
// 熔断拒绝不是下游失败，已由 guardedCall 排除在熔断计数之外。
func (c *Client) recordOutcome(operation string, itemCount int64, err error) {
	if err != nil {
		c.metrics.recordFailures(operation, itemCount)
		c.logger.Error("operation failed",
			zap.String("operation", operation),
			zap.Int64("item_count", itemCount),
			zap.Error(err),
		)
	} else {
		c.metrics.recordSuccesses(operation, itemCount)
	}
	c.refreshGauges()
}

func (c *Client) refreshGauges() {
	if c.metrics.prom == nil {
		return
	}
	c.metrics.prom.breakerState.Set(float64(c.breaker.State()))
	c.metrics.prom.queueDepth.Set(float64(c.queue.Len()))
}

// FlushBatch 强制刷新批量队列。
func (c *Client) FlushBatch() {
	c.queue.Flush()
	c.logger.Info("batch queue flushed")
}

// Metrics 返回当前指标快照。
func (c *Client) Metrics() Snapshot {
	return Snapshot{
		TotalRequests:      c.metrics.totalRequests.Load(),
		SuccessfulRequests: c.metrics.successfulRequests.Load(),
		FailedRequests:     c.metrics.failedRequests.Load(),
		OperationCounts:    c.metrics.operationCounts(),
		BreakerState:       c.breaker.State().String(),
		BreakerFailures:    c.breaker.FailureCount(),
		QueueDepth:         c.queue.Len(),
		QueueRunning:       c.queue.Running(),
	}
}

// ResetMetrics 清零所有计数器并重置熔断器计数。
func (c *Client) ResetMetrics() {
	c.metrics.reset()
	c.breaker.Reset()
	c.logger.Info("metrics reset")
}

// Close 停止批量队列（排空剩余条目）并释放下游资源。
func (c *Client) Close() error {
	c.queue.Stop()

	var firstErr error
	if err := c.service.Close(); err != nil {
		firstErr = err
	}
	if c.dead != nil {
		if err := c.dead.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.logger.Info("resilient client closed")
	return firstErr
}
