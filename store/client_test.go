package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/pufferflow/batch"
	"github.com/BaSui01/pufferflow/circuitbreaker"
	"github.com/BaSui01/pufferflow/retry"
	"github.com/BaSui01/pufferflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============================================================================
// 测试辅助
// ============================================================================

// mockService 可编程的 Service 桩：writeErrs 按调用顺序消费，
// 耗尽后写入成功。
type mockService struct {
	mu          sync.Mutex
	writeCalls  int
	writes      [][]Document
	queryCalls  int
	deleteCalls int
	deleted     [][]string
	closed      bool

	writeErrs    []error
	queryErr     error
	deleteErr    error
	queryResults []SearchResult
}

func (m *mockService) WriteBatch(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	m.writes = append(m.writes, append([]Document(nil), docs...))
	if len(m.writeErrs) > 0 {
		err := m.writeErrs[0]
		m.writeErrs = m.writeErrs[1:]
		return err
	}
	return nil
}

func (m *mockService) Query(_ context.Context, _ []float64, _ int) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.queryResults, nil
}

func (m *mockService) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	m.deleted = append(m.deleted, append([]string(nil), ids...))
	return m.deleteErr
}

func (m *mockService) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockService) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeCalls
}

func (m *mockService) totalWritten() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, batch := range m.writes {
		n += len(batch)
	}
	return n
}

// fastConfig 关闭批处理、去掉重试，保证单测走同步直写路径。
func fastConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Batch.EnableBatch = false
	cfg.Retry = &retry.Config{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return cfg
}

func testDocs(n int) []Document {
	docs := make([]Document, n)
	for i := range docs {
		docs[i] = Document{Content: "doc", Embedding: []float64{0.1, 0.2}}
	}
	return docs
}

// ============================================================================
// 直写路径
// ============================================================================

func TestAddDocumentsDirectly_Success(t *testing.T) {
	svc := &mockService{}
	client := NewClient(svc, fastConfig(), zap.NewNop())
	defer client.Close()

	err := client.AddDocumentsDirectly(context.Background(), testDocs(3))
	require.NoError(t, err)

	assert.Equal(t, 1, svc.writeCount())

	snap := client.Metrics()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(3), snap.SuccessfulRequests)
	assert.Equal(t, int64(0), snap.FailedRequests)
	assert.Equal(t, int64(1), snap.OperationCounts["addDocuments"])
}

func TestAddDocumentsDirectly_EmptyIsNoop(t *testing.T) {
	svc := &mockService{}
	client := NewClient(svc, fastConfig(), zap.NewNop())
	defer client.Close()

	require.NoError(t, client.AddDocumentsDirectly(context.Background(), nil))
	assert.Equal(t, 0, svc.writeCount())
	assert.Equal(t, int64(0), client.Metrics().TotalRequests)
}

func TestAddDocumentsDirectly_RetriesThenSucceeds(t *testing.T) {
	svc := &mockService{
		writeErrs: []error{
			types.NewError(types.ErrTransport, "connection reset by peer"),
		},
	}
	cfg := fastConfig()
	cfg.Retry = &retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	client := NewClient(svc, cfg, zap.NewNop())
	defer client.Close()

	err := client.AddDocumentsDirectly(context.Background(), testDocs(2))
	require.NoError(t, err)
	assert.Equal(t, 2, svc.writeCount())

	snap := client.Metrics()
	assert.Equal(t, int64(2), snap.SuccessfulRequests)
	assert.Equal(t, int64(0), snap.FailedRequests)
}

func TestAddDocumentsDirectly_NonRetriableSingleCall(t *testing.T) {
	svc := &mockService{
		writeErrs: []error{
			types.NewError(types.ErrValidation, "document has no embedding"),
			types.NewError(types.ErrValidation, "document has no embedding"),
		},
	}
	cfg := fastConfig()
	cfg.Retry = &retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	client := NewClient(svc, cfg, zap.NewNop())
	defer client.Close()

	err := client.AddDocumentsDirectly(context.Background(), testDocs(1))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Equal(t, 1, svc.writeCount())

	snap := client.Metrics()
	assert.Equal(t, int64(1), snap.FailedRequests)
}

func TestAddDocumentsDirectly_ExhaustionWrapsCause(t *testing.T) {
	svc := &mockService{
		writeErrs: []error{
			types.NewError(types.ErrTransport, "network unreachable"),
			types.NewError(types.ErrTransport, "network unreachable"),
		},
	}
	cfg := fastConfig()
	cfg.Retry = &retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	client := NewClient(svc, cfg, zap.NewNop())
	defer client.Close()

	err := client.AddDocumentsDirectly(context.Background(), testDocs(1))
	require.Error(t, err)
	assert.Equal(t, types.ErrRetriesExhausted, types.GetErrorCode(err))
	assert.Equal(t, 2, svc.writeCount())
}

// ============================================================================
// 熔断器集成
// ============================================================================

func TestCircuitBreaker_OpensAndRejects(t *testing.T) {
	svc := &mockService{
		writeErrs: []error{
			types.NewError(types.ErrValidation, "bad request"),
			types.NewError(types.ErrValidation, "bad request"),
		},
	}
	cfg := fastConfig()
	cfg.Breaker = &circuitbreaker.Config{
		Enabled:                  true,
		FailureThreshold:         2,
		RecoveryTimeout:          time.Minute,
		HalfOpenSuccessThreshold: 1,
	}

	client := NewClient(svc, cfg, zap.NewNop())
	defer client.Close()

	ctx := context.Background()
	require.Error(t, client.AddDocumentsDirectly(ctx, testDocs(1)))
	require.Error(t, client.AddDocumentsDirectly(ctx, testDocs(1)))
	assert.Equal(t, "Open", client.Metrics().BreakerState)

	// 第三次调用被熔断器直接拒绝，不再触达下游
	err := client.AddDocumentsDirectly(ctx, testDocs(1))
	require.Error(t, err)
	assert.True(t, types.IsCircuitOpen(err))
	assert.Equal(t, 2, svc.writeCount())
}

func TestCircuitBreaker_OpenRejectionNotRetried(t *testing.T) {
	svc := &mockService{
		writeErrs: []error{types.NewError(types.ErrAPIError, "boom")},
	}
	cfg := fastConfig()
	cfg.Retry = &retry.Config{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	cfg.Breaker = &circuitbreaker.Config{
		Enabled:                  true,
		FailureThreshold:         1,
		RecoveryTimeout:          time.Minute,
		HalfOpenSuccessThreshold: 1,
	}

	client := NewClient(svc, cfg, zap.NewNop())
	defer client.Close()

	// 首次失败立刻触发熔断；同一次重试循环里后续尝试全部被拒绝，
	// 且拒绝本身不可重试，所以总共只触达下游一次。
	start := time.Now()
	err := client.AddDocumentsDirectly(context.Background(), testDocs(1))
	require.Error(t, err)
	assert.True(t, types.IsCircuitOpen(err))
	assert.Equal(t, 1, svc.writeCount())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	svc := &mockService{
		writeErrs: []error{types.NewError(types.ErrValidation, "bad")},
	}
	cfg := fastConfig()
	cfg.Breaker = &circuitbreaker.Config{
		Enabled:                  true,
		FailureThreshold:         1,
		RecoveryTimeout:          50 * time.Millisecond,
		HalfOpenSuccessThreshold: 1,
	}

	client := NewClient(svc, cfg, zap.NewNop())
	defer client.Close()

	ctx := context.Background()
	require.Error(t, client.AddDocumentsDirectly(ctx, testDocs(1)))
	assert.Equal(t, "Open", client.Metrics().BreakerState)

	time.Sleep(80 * time.Millisecond)

	require.NoError(t, client.AddDocumentsDirectly(ctx, testDocs(1)))
	assert.Equal(t, "Closed", client.Metrics().BreakerState)
}

// ============================================================================
// 批处理路径
// ============================================================================

func TestAddDocument_BatchedFlushOnSize(t *testing.T) {
	svc := &mockService{}
	cfg := fastConfig()
	cfg.Batch = batch.Config{
		EnableBatch:  true,
		BatchSize:    2,
		BatchTimeout: 50 * time.Millisecond,
		MaxQueueSize: 10,
		AddTimeout:   100 * time.Millisecond,
		StopTimeout:  time.Second,
	}

	client := NewClient(svc, cfg, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, client.AddDocument(ctx, Document{Content: "a", Embedding: []float64{1}}))
	require.NoError(t, client.AddDocument(ctx, Document{Content: "b", Embedding: []float64{2}}))
	require.NoError(t, client.AddDocument(ctx, Document{Content: "c", Embedding: []float64{3}}))

	require.NoError(t, client.Close())
	assert.Equal(t, 3, svc.totalWritten())
}

func TestAddDocuments_BatchedDrainOnClose(t *testing.T) {
	svc := &mockService{}
	cfg := fastConfig()
	cfg.Batch = batch.Config{
		EnableBatch:  true,
		BatchSize:    100,
		BatchTimeout: time.Minute,
		MaxQueueSize: 100,
		AddTimeout:   100 * time.Millisecond,
		StopTimeout:  time.Second,
	}

	client := NewClient(svc, cfg, zap.NewNop())
	require.NoError(t, client.AddDocuments(context.Background(), testDocs(7)))
	require.NoError(t, client.Close())

	assert.Equal(t, 7, svc.totalWritten())
}

func TestAddDocuments_QueueFullFallsBackToDirect(t *testing.T) {
	svc := &mockService{}
	cfg := fastConfig()
	cfg.Batch = batch.Config{
		EnableBatch:  true,
		BatchSize:    100,
		BatchTimeout: time.Minute,
		MaxQueueSize: 1,
		AddTimeout:   10 * time.Millisecond,
		StopTimeout:  time.Second,
	}

	client := NewClient(svc, cfg, zap.NewNop())
	defer client.Close()

	ctx := context.Background()
	// 占满队列
	require.NoError(t, client.AddDocument(ctx, Document{Content: "a", Embedding: []float64{1}}))
	// 队列已满：整批被拒绝后降级为直写
	require.NoError(t, client.AddDocuments(ctx, testDocs(3)))

	assert.GreaterOrEqual(t, svc.writeCount(), 1)
}

func TestFlushBatch_ForcesDelivery(t *testing.T) {
	svc := &mockService{}
	cfg := fastConfig()
	cfg.Batch = batch.Config{
		EnableBatch:  true,
		BatchSize:    100,
		BatchTimeout: time.Minute,
		MaxQueueSize: 100,
		AddTimeout:   100 * time.Millisecond,
		StopTimeout:  time.Second,
	}

	client := NewClient(svc, cfg, zap.NewNop())
	defer client.Close()

	require.NoError(t, client.AddDocuments(context.Background(), testDocs(4)))
	client.FlushBatch()

	assert.Equal(t, 4, svc.totalWritten())
}

// ============================================================================
// 死信队列
// ============================================================================

type memorySink struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	closed  bool
}

func (s *memorySink) Record(_ context.Context, operation string, docs []Document, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, DeadLetterEntry{
		Operation: operation,
		Documents: docs,
		Error:     cause.Error(),
		FailedAt:  time.Now(),
	})
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestDeadLetter_RecordsFailedBatches(t *testing.T) {
	svc := &mockService{
		writeErrs: []error{types.NewError(types.ErrValidation, "rejected")},
	}
	sink := &memorySink{}

	cfg := fastConfig()
	cfg.Batch = batch.Config{
		EnableBatch:  true,
		BatchSize:    100,
		BatchTimeout: time.Minute,
		MaxQueueSize: 100,
		AddTimeout:   100 * time.Millisecond,
		StopTimeout:  time.Second,
	}

	client := NewClient(svc, cfg, zap.NewNop(), WithDeadLetter(sink))
	require.NoError(t, client.AddDocuments(context.Background(), testDocs(2)))
	require.NoError(t, client.Close())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "addDocuments", sink.entries[0].Operation)
	assert.Len(t, sink.entries[0].Documents, 2)
	assert.True(t, sink.closed)
}

// ============================================================================
// 查询与删除
// ============================================================================

func TestSimilaritySearch_ReturnsResults(t *testing.T) {
	svc := &mockService{
		queryResults: []SearchResult{
			{Document: Document{ID: "a", Content: "alpha"}, Score: 0.1, Distance: 0.1},
			{Document: Document{ID: "b", Content: "beta"}, Score: 0.4, Distance: 0.4},
		},
	}
	client := NewClient(svc, fastConfig(), zap.NewNop())
	defer client.Close()

	results, err := client.SimilaritySearch(context.Background(), []float64{0.5, 0.5}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Document.ID)

	snap := client.Metrics()
	assert.Equal(t, int64(1), snap.OperationCounts["similaritySearch"])
}

func TestDeleteDocuments_ForwardsIDs(t *testing.T) {
	svc := &mockService{}
	client := NewClient(svc, fastConfig(), zap.NewNop())
	defer client.Close()

	require.NoError(t, client.DeleteDocuments(context.Background(), []string{"a", "b"}))
	require.NoError(t, client.DeleteDocuments(context.Background(), nil))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.deleted, 1)
	assert.Equal(t, []string{"a", "b"}, svc.deleted[0])
}

// ============================================================================
// 并发
// ============================================================================

func TestConcurrentOperations_CountersConserved(t *testing.T) {
	svc := &mockService{}
	client := NewClient(svc, fastConfig(), zap.NewNop())
	defer client.Close()

	const workers = 8
	const perWorker = 20

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for j := 0; j < perWorker; j++ {
				if err := client.AddDocumentsDirectly(ctx, testDocs(1)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	snap := client.Metrics()
	assert.Equal(t, int64(workers*perWorker), snap.TotalRequests)
	assert.Equal(t, int64(workers*perWorker), snap.SuccessfulRequests)
	assert.Equal(t, int64(0), snap.FailedRequests)
	assert.Equal(t, workers*perWorker, svc.writeCount())
}

// ============================================================================
// 指标与生命周期
// ============================================================================

func TestResetMetrics_ClearsCountersKeepsState(t *testing.T) {
	svc := &mockService{}
	client := NewClient(svc, fastConfig(), zap.NewNop())
	defer client.Close()

	require.NoError(t, client.AddDocumentsDirectly(context.Background(), testDocs(2)))
	require.NotZero(t, client.Metrics().TotalRequests)

	client.ResetMetrics()

	snap := client.Metrics()
	assert.Equal(t, int64(0), snap.TotalRequests)
	assert.Equal(t, int64(0), snap.SuccessfulRequests)
	assert.Empty(t, snap.OperationCounts)
	assert.Equal(t, "Closed", snap.BreakerState)
}

func TestClose_ReleasesService(t *testing.T) {
	svc := &mockService{}
	client := NewClient(svc, fastConfig(), zap.NewNop())

	require.NoError(t, client.Close())

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.True(t, svc.closed)
}
