package model

import (
	"context"
	"fmt"

	"github.com/rushteam/feedrank/core"
)

// Embedder 把文本编码为向量（外部嵌入模型）。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbeddingScorer 是基于余弦相似度的本地打分器。
//
// 打分规则：
//   - 查询与文档都有向量时直接计算余弦
//   - 配置了 Embedder 时，缺失的一侧由文本编码得到（摘要优先于原始向量）
//   - 仍无法得到向量时得分 0
type EmbeddingScorer struct {
	Embedder Embedder

	// TieMargin 两两比较时分差不超过该值视为平局
	TieMargin float64
}

func (s *EmbeddingScorer) Name() string { return "embedding" }

func (s *EmbeddingScorer) Score(ctx context.Context, q Query, d Doc) (float64, error) {
	qv, err := s.vector(ctx, q.Vector, q.Text, false)
	if err != nil {
		return 0, fmt.Errorf("embed query: %w", err)
	}
	dv, err := s.vector(ctx, d.Vector, d.Text, true)
	if err != nil {
		return 0, fmt.Errorf("embed doc %s: %w", d.ID, err)
	}
	if len(qv) == 0 || len(dv) == 0 {
		return 0, nil
	}
	return core.Cosine(qv, dv), nil
}

func (s *EmbeddingScorer) Compare(ctx context.Context, a, b Doc, ref Query) (Outcome, error) {
	return CompareByScore(ctx, s, a, b, ref, s.TieMargin)
}

// vector 选择用于打分的向量。preferText 为 true 时（文档摘要）优先编码文本。
func (s *EmbeddingScorer) vector(ctx context.Context, vec []float64, text string, preferText bool) ([]float64, error) {
	if s.Embedder != nil && text != "" && (preferText || len(vec) == 0) {
		return s.Embedder.Embed(ctx, text)
	}
	return vec, nil
}
