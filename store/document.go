package store

import "github.com/google/uuid"

// Document 待入库的向量文档
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float64      `json:"embedding,omitempty"`
	Score     float64        `json:"score,omitempty"`
}

// EnsureID 为空 ID 生成一个 UUID，返回最终 ID。
func (d *Document) EnsureID() string {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return d.ID
}

// SearchResult 向量相似度查询结果
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
	Distance float64  `json:"distance"`
}
