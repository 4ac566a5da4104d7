package store

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 进程内性能计数器。只通过 ResetMetrics 显式清零。
type Metrics struct {
	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64

	mu         sync.Mutex
	operations map[string]*atomic.Int64

	prom *promCollector
}

// Snapshot 指标快照（供健康检查 / 可观测端点使用）
type Snapshot struct {
	TotalRequests      int64            `json:"total_requests"`
	SuccessfulRequests int64            `json:"successful_requests"`
	FailedRequests     int64            `json:"failed_requests"`
	OperationCounts    map[string]int64 `json:"operation_counts"`
	BreakerState       string           `json:"circuit_breaker_state"`
	BreakerFailures    int              `json:"circuit_breaker_failures"`
	QueueDepth         int              `json:"batch_queue_size"`
	QueueRunning       bool             `json:"batch_processor_running"`
}

func newMetrics() *Metrics {
	return &Metrics{
		operations: make(map[string]*atomic.Int64),
	}
}

// recordOperation 记录一次操作调用
func (m *Metrics) recordOperation(operation string) {
	m.totalRequests.Add(1)

	m.mu.Lock()
	counter, ok := m.operations[operation]
	if !ok {
		counter = &atomic.Int64{}
		m.operations[operation] = counter
	}
	m.mu.Unlock()
	counter.Add(1)
}

func (m *Metrics) recordSuccesses(operation string, n int64) {
	m.successfulRequests.Add(n)
	if m.prom != nil {
		m.prom.requests.WithLabelValues(operation, "success").Add(float64(n))
	}
}

func (m *Metrics) recordFailures(operation string, n int64) {
	m.failedRequests.Add(n)
	if m.prom != nil {
		m.prom.requests.WithLabelValues(operation, "failure").Add(float64(n))
	}
}

func (m *Metrics) operationCounts() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.operations))
	for op, counter := range m.operations {
		out[op] = counter.Load()
	}
	return out
}

func (m *Metrics) reset() {
	m.totalRequests.Store(0)
	m.successfulRequests.Store(0)
	m.failedRequests.Store(0)

	m.mu.Lock()
	m.operations = make(map[string]*atomic.Int64)
	m.mu.Unlock()
}

// promCollector Prometheus 侧的镜像指标
type promCollector struct {
	requests     *prometheus.CounterVec
	breakerState prometheus.Gauge
	queueDepth   prometheus.Gauge
}

func newPromCollector(namespace string, reg prometheus.Registerer) *promCollector {
	factory := promauto.With(reg)
	return &promCollector{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of downstream vector store requests by item",
			},
			[]string{"operation", "status"},
		),
		breakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Current circuit breaker state (0=Closed, 1=Open, 2=HalfOpen)",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batch_queue_depth",
				Help:      "Items currently resident in the batch queue",
			},
		),
	}
}
