package model

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// BatchScorer 由支持批量打分的 Scorer 实现，重排阶段优先使用。
type BatchScorer interface {
	ScoreBatch(ctx context.Context, q Query, docs []Doc) ([]float64, error)
}

// RPCScorer 通过 HTTP 调用外部交叉编码器（cross-encoder）服务打分。
//
// 请求格式（JSON）：
//
//	{"query": "...", "query_vector": [...], "docs": [{"id": "v1", "text": "...", "vector": [...]}]}
//
// 响应格式（JSON）：
//
//	{"scores": [0.85, 0.72, ...]}
type RPCScorer struct {
	name      string
	Endpoint  string // 例如 "http://localhost:8080/rerank"
	Timeout   time.Duration
	TieMargin float64
	Client    *http.Client
}

func NewRPCScorer(name, endpoint string, timeout time.Duration) *RPCScorer {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &RPCScorer{
		name:     name,
		Endpoint: endpoint,
		Timeout:  timeout,
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (m *RPCScorer) Name() string {
	return m.name
}

// Score 对单个文档打分（内部调用批量接口）。
func (m *RPCScorer) Score(ctx context.Context, q Query, d Doc) (float64, error) {
	scores, err := m.ScoreBatch(ctx, q, []Doc{d})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// Compare 在一次调用中对 a、b 打分，再按 TieMargin 判定胜负。
func (m *RPCScorer) Compare(ctx context.Context, a, b Doc, ref Query) (Outcome, error) {
	scores, err := m.ScoreBatch(ctx, ref, []Doc{a, b})
	if err != nil {
		return Tie, err
	}
	return outcome(scores[0], scores[1], m.TieMargin), nil
}

type rpcDoc struct {
	ID     string    `json:"id"`
	Text   string    `json:"text,omitempty"`
	Vector []float64 `json:"vector,omitempty"`
}

type rpcRequest struct {
	Query       string    `json:"query,omitempty"`
	QueryVector []float64 `json:"query_vector,omitempty"`
	Docs        []rpcDoc  `json:"docs"`
}

type rpcResponse struct {
	Scores []float64 `json:"scores"`
}

// ScoreBatch 调用远程服务批量打分，返回与 docs 等长的分数。
func (m *RPCScorer) ScoreBatch(ctx context.Context, q Query, docs []Doc) ([]float64, error) {
	if m.Client == nil {
		m.Client = &http.Client{Timeout: m.Timeout}
	}

	if len(docs) == 0 {
		return []float64{}, nil
	}

	// 构建请求
	reqBody := rpcRequest{
		Query:       q.Text,
		QueryVector: q.Vector,
		Docs:        make([]rpcDoc, len(docs)),
	}
	for i, d := range docs {
		reqBody.Docs[i] = rpcDoc{ID: d.ID, Text: d.Text, Vector: d.Vector}
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// 发送请求
	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("rpc error: status=%d, read body failed: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("rpc error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	// 解析响应
	var result rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(result.Scores) != len(docs) {
		return nil, fmt.Errorf("response scores count mismatch: expected %d, got %d", len(docs), len(result.Scores))
	}

	return result.Scores, nil
}
