package vector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/feedrank/core"
)

// ANNClient 是 HTTP ANN 检索服务的客户端，实现 core.VectorSearcher。
//
// 用于对接自建或托管的向量检索服务（Milvus HTTP API、自定义 ANN 服务等）。
//
// 请求：POST {Endpoint}/v1/vector/search
//
//	{"collection": "items", "vectors": [[...]], "top_k": 100, "metric": "cosine"}
//
// 响应：
//
//	{"results": [{"ids": ["v1", "v2"], "scores": [0.93, 0.88]}]}
type ANNClient struct {
	Endpoint   string
	Collection string

	// Metric 相似度度量，默认 cosine；分数范围需与 recall.SemanticSource 的 Min/Max 一致
	Metric string

	Timeout time.Duration
	Auth    *AuthConfig

	httpClient *http.Client
}

// AuthConfig 认证信息。Type 为 basic / bearer / api_key。
type AuthConfig struct {
	Type     string
	Username string
	Password string
	Token    string
	APIKey   string
}

// ANNOption ANN 客户端配置选项
type ANNOption func(*ANNClient)

// WithANNTimeout 设置超时时间
func WithANNTimeout(timeout time.Duration) ANNOption {
	return func(c *ANNClient) { c.Timeout = timeout }
}

// WithANNAuth 设置认证信息
func WithANNAuth(auth *AuthConfig) ANNOption {
	return func(c *ANNClient) { c.Auth = auth }
}

// WithANNMetric 设置相似度度量
func WithANNMetric(metric string) ANNOption {
	return func(c *ANNClient) { c.Metric = metric }
}

// NewANNClient 创建客户端。
func NewANNClient(endpoint, collection string, opts ...ANNOption) *ANNClient {
	c := &ANNClient{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		Collection: collection,
		Metric:     "cosine",
		Timeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = &http.Client{Timeout: c.Timeout}
	return c
}

func (c *ANNClient) Name() string { return "ann" }

type annSearchRequest struct {
	Collection string      `json:"collection"`
	Vectors    [][]float64 `json:"vectors"`
	TopK       int         `json:"top_k"`
	Metric     string      `json:"metric"`
}

type annSearchResponse struct {
	Results []struct {
		IDs    []string  `json:"ids"`
		Scores []float64 `json:"scores"`
	} `json:"results"`
}

// Search 实现 core.VectorSearcher。
func (c *ANNClient) Search(ctx context.Context, vector []float64, topK int) ([]core.SearchHit, error) {
	body, err := json.Marshal(annSearchRequest{
		Collection: c.Collection,
		Vectors:    [][]float64{vector},
		TopK:       topK,
		Metric:     c.Metric,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/v1/vector/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.addAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ann search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ann service error: status=%d, body=%s", resp.StatusCode, string(b))
	}

	var result annSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Results) == 0 {
		return []core.SearchHit{}, nil
	}

	r := result.Results[0]
	if len(r.IDs) != len(r.Scores) {
		return nil, fmt.Errorf("ann response mismatch: %d ids, %d scores", len(r.IDs), len(r.Scores))
	}
	hits := make([]core.SearchHit, len(r.IDs))
	for i := range r.IDs {
		hits[i] = core.SearchHit{ID: r.IDs[i], Score: r.Scores[i]}
	}
	return hits, nil
}

// Health 健康检查
func (c *ANNClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.addAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed: status=%d, body=%s", resp.StatusCode, string(b))
	}
	return nil
}

func (c *ANNClient) addAuth(req *http.Request) {
	if c.Auth == nil {
		return
	}
	switch c.Auth.Type {
	case "basic":
		req.SetBasicAuth(c.Auth.Username, c.Auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.Auth.Token)
	case "api_key":
		req.Header.Set("X-API-Key", c.Auth.APIKey)
	}
}

var _ core.VectorSearcher = (*ANNClient)(nil)
