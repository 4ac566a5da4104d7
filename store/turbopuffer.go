package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/pufferflow/types"
	"go.uber.org/zap"
)

// TurbopufferConfig configures the Turbopuffer-backed Service implementation.
//
// Notes:
//   - Every namespace operation goes through the v2 REST API
//     (POST /v2/namespaces/{ns} for writes, /query for reads).
//   - Document content is stored as a row attribute next to any metadata.
type TurbopufferConfig struct {
	BaseURL   string        `json:"base_url,omitempty"`
	APIKey    string        `json:"api_key"`
	Namespace string        `json:"namespace"`
	Timeout   time.Duration `json:"timeout,omitempty"`

	DistanceMetric   string `json:"distance_metric,omitempty"`   // cosine_distance (default), euclidean_squared
	ContentAttribute string `json:"content_attribute,omitempty"` // Row attribute for document content (default "content")
}

// TurbopufferService implements Service against the Turbopuffer namespace API
// with a hard-typed wire schema — query rows are decoded field by field, never
// scraped out of a stringified response.
type TurbopufferService struct {
	cfg TurbopufferConfig

	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewTurbopufferService creates a Turbopuffer-backed Service.
func NewTurbopufferService(cfg TurbopufferConfig, logger *zap.Logger) (*TurbopufferService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, types.NewError(types.ErrConfiguration, "turbopuffer api key is required")
	}
	if strings.TrimSpace(cfg.Namespace) == "" {
		return nil, types.NewError(types.ErrConfiguration, "turbopuffer namespace is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DistanceMetric == "" {
		cfg.DistanceMetric = "cosine_distance"
	}
	if cfg.ContentAttribute == "" {
		cfg.ContentAttribute = "content"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.turbopuffer.com"
	}

	return &TurbopufferService{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "turbopuffer_service")),
	}, nil
}

// writeRow is one upsert row. Attributes are flattened next to the reserved
// id/vector fields per the Turbopuffer row format.
type writeRow struct {
	ID         string
	Vector     []float64
	Attributes map[string]any
}

func (r writeRow) MarshalJSON() ([]byte, error) {
	row := make(map[string]any, len(r.Attributes)+2)
	for k, v := range r.Attributes {
		if k == "id" || k == "vector" {
			continue
		}
		row[k] = v
	}
	row["id"] = r.ID
	row["vector"] = r.Vector
	return json.Marshal(row)
}

// queryRow is one result row: reserved fields are decoded explicitly,
// everything else lands in Attributes.
type queryRow struct {
	ID         string
	Dist       float64
	Attributes map[string]any
}

func (r *queryRow) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Attributes = make(map[string]any)
	for k, v := range raw {
		switch k {
		case "id":
			// IDs may be strings or integers on the wire
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				r.ID = s
			} else {
				var n json.Number
				if err := json.Unmarshal(v, &n); err != nil {
					return fmt.Errorf("row id: %w", err)
				}
				r.ID = n.String()
			}
		case "$dist":
			if err := json.Unmarshal(v, &r.Dist); err != nil {
				return fmt.Errorf("row $dist: %w", err)
			}
		case "vector":
			// Vectors are not requested back; ignore if present
		default:
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			r.Attributes[k] = val
		}
	}
	return nil
}

type writeRequest struct {
	UpsertRows     []writeRow `json:"upsert_rows,omitempty"`
	Deletes        []string   `json:"deletes,omitempty"`
	DistanceMetric string     `json:"distance_metric,omitempty"`
}

type queryRequest struct {
	RankBy            []any `json:"rank_by"`
	TopK              int   `json:"top_k"`
	IncludeAttributes bool  `json:"include_attributes"`
}

type queryResponse struct {
	Rows []queryRow `json:"rows"`
}

type errorResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WriteBatch 实现 Service.WriteBatch
func (s *TurbopufferService) WriteBatch(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	rows := make([]writeRow, 0, len(docs))
	for i := range docs {
		doc := &docs[i]
		if len(doc.Embedding) == 0 {
			return types.NewError(types.ErrValidation,
				fmt.Sprintf("document %q has no embedding", doc.ID)).
				WithOperation("addDocuments")
		}
		doc.EnsureID()

		attrs := make(map[string]any, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			attrs[k] = v
		}
		attrs[s.cfg.ContentAttribute] = doc.Content

		rows = append(rows, writeRow{
			ID:         doc.ID,
			Vector:     doc.Embedding,
			Attributes: attrs,
		})
	}

	req := writeRequest{
		UpsertRows:     rows,
		DistanceMetric: s.cfg.DistanceMetric,
	}

	if err := s.doJSON(ctx, http.MethodPost, s.namespacePath(""), req, nil); err != nil {
		return err
	}

	s.logger.Debug("turbopuffer upsert completed", zap.Int("count", len(docs)))
	return nil
}

// Query 实现 Service.Query
func (s *TurbopufferService) Query(ctx context.Context, embedding []float64, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return []SearchResult{}, nil
	}
	if len(embedding) == 0 {
		return nil, types.NewError(types.ErrValidation, "query embedding is required").
			WithOperation("similaritySearch")
	}

	req := queryRequest{
		RankBy:            []any{"vector", "ANN", embedding},
		TopK:              topK,
		IncludeAttributes: true,
	}

	var resp queryResponse
	if err := s.doJSON(ctx, http.MethodPost, s.namespacePath("/query"), req, &resp); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		doc := Document{ID: row.ID, Score: row.Dist}

		if v, ok := row.Attributes[s.cfg.ContentAttribute]; ok {
			if content, ok := v.(string); ok {
				doc.Content = content
			}
		}
		metadata := make(map[string]any)
		for k, v := range row.Attributes {
			if k == s.cfg.ContentAttribute {
				continue
			}
			metadata[k] = v
		}
		if len(metadata) > 0 {
			doc.Metadata = metadata
		}

		out = append(out, SearchResult{
			Document: doc,
			Score:    row.Dist,
			Distance: row.Dist,
		})
	}
	return out, nil
}

// Delete 实现 Service.Delete
func (s *TurbopufferService) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	req := writeRequest{Deletes: ids}
	if err := s.doJSON(ctx, http.MethodPost, s.namespacePath(""), req, nil); err != nil {
		return err
	}

	s.logger.Debug("turbopuffer delete completed", zap.Int("count", len(ids)))
	return nil
}

// Close 实现 Service.Close
func (s *TurbopufferService) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *TurbopufferService) namespacePath(suffix string) string {
	return "/v2/namespaces/" + url.PathEscape(s.cfg.Namespace) + suffix
}

func (s *TurbopufferService) doJSON(ctx context.Context, method, path string, in any, out any) error {
	endpoint := s.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return types.NewError(types.ErrValidation, "encode request body").WithCause(err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return types.NewError(types.ErrValidation, "build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrConnection,
			fmt.Sprintf("turbopuffer request failed: %s %s", method, path)).
			WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return s.statusError(resp, method, path)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrAPIError, "decode response body").WithCause(err)
	}
	return nil
}

// statusError 将 HTTP 状态映射到错误码：客户端错误不可重试，
// 限流与服务端错误可重试。
func (s *TurbopufferService) statusError(resp *http.Response, method, path string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := strings.TrimSpace(string(raw))
	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		message = parsed.Error
	}

	var code types.ErrorCode
	switch {
	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusUnprocessableEntity:
		code = types.ErrValidation
	case resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden:
		code = types.ErrConfiguration
	case resp.StatusCode == http.StatusNotFound:
		code = types.ErrNamespace
	case resp.StatusCode == http.StatusTooManyRequests:
		code = types.ErrRateLimited
	default:
		code = types.ErrAPIError
	}

	return types.NewError(code,
		fmt.Sprintf("turbopuffer %s %s: status=%d %s", method, path, resp.StatusCode, message))
}
