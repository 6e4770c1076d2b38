package recall

import (
	"context"

	"github.com/rushteam/feedrank/core"
)

// Source 表示一路召回源，返回按分数降序的检索结果。
// 无法召回时（例如冷启动用户没有查询向量）返回空列表，而不是错误。
type Source interface {
	Name() string
	Provenance() core.Provenance
	Recall(ctx context.Context, rctx *core.RankContext) ([]core.SearchHit, error)
}

// ScoreRange 声明召回分数的取值范围，Merger 据此归一化到 [0,1]。
// 未实现该接口的 Source 按本次结果的 min-max 归一化。
type ScoreRange interface {
	ScoreRange() (min, max float64)
}

// SemanticSource 基于偏好向量（或会话查询向量）的语义召回。
type SemanticSource struct {
	Searcher core.VectorSearcher
	TopN     int

	// Min/Max 是相似度分数的取值范围（余弦为 [-1,1]）
	Min float64
	Max float64
}

func (s *SemanticSource) Name() string                { return "semantic" }
func (s *SemanticSource) Provenance() core.Provenance { return core.ProvenanceSemantic }

func (s *SemanticSource) ScoreRange() (float64, float64) {
	if s.Max <= s.Min {
		return -1, 1
	}
	return s.Min, s.Max
}

func (s *SemanticSource) Recall(ctx context.Context, rctx *core.RankContext) ([]core.SearchHit, error) {
	query := rctx.Query()
	if len(query) == 0 || core.IsZero(query) || s.Searcher == nil {
		return nil, nil
	}
	topN := s.TopN
	if topN <= 0 {
		topN = 100
	}
	return s.Searcher.Search(ctx, query, topN)
}

// LexicalSource 基于会话查询文本的标题/文本召回。
type LexicalSource struct {
	Searcher core.LexicalSearcher
	TopM     int
}

func (s *LexicalSource) Name() string                { return "lexical" }
func (s *LexicalSource) Provenance() core.Provenance { return core.ProvenanceLexical }

func (s *LexicalSource) Recall(ctx context.Context, rctx *core.RankContext) ([]core.SearchHit, error) {
	if rctx == nil || rctx.QueryText == "" || s.Searcher == nil {
		return nil, nil
	}
	topM := s.TopM
	if topM <= 0 {
		topM = 50
	}
	return s.Searcher.SearchByText(ctx, rctx.QueryText, topM)
}
