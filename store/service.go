package store

import "context"

// VectorStore 检索管线持有的写入/查询入口，由 *Client 实现。
type VectorStore interface {
	// AddDocument 异步提交单个文档
	AddDocument(ctx context.Context, doc Document) error

	// AddDocuments 异步批量提交文档
	AddDocuments(ctx context.Context, docs []Document) error

	// SimilaritySearch 按查询向量执行 top-k 相似度检索
	SimilaritySearch(ctx context.Context, embedding []float64, topK int) ([]SearchResult, error)

	// DeleteDocuments 按 ID 删除文档
	DeleteDocuments(ctx context.Context, ids []string) error

	// Close 排空批量队列并释放资源
	Close() error
}

// Service 下游向量库的同步操作抽象。实现负责传输细节；
// 重试、熔断与批量聚合由 Client 在上层提供。
//
// 实现返回的错误应当是 types.Error，以便重试分类器按错误码
// 区分可重试与不可重试的失败。
type Service interface {
	// WriteBatch 批量写入（upsert）一组文档
	WriteBatch(ctx context.Context, docs []Document) error

	// Query 按查询向量执行 top-k 相似度检索
	Query(ctx context.Context, embedding []float64, topK int) ([]SearchResult, error)

	// Delete 按 ID 删除文档
	Delete(ctx context.Context, ids []string) error

	// Close 释放底层传输资源
	Close() error
}
