package rocchio

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/logx"
)

// Counts 是一次更新的反馈统计。
type Counts struct {
	Positive         int
	Negative         int
	Neutral          int
	Skipped          int // 畸形反馈
	MissingEmbedding int // 缺少向量、未参与质心的物品
}

// Result 是一次 Rocchio 更新的结果。
type Result struct {
	// Vector 更新后的偏好向量（L2 归一化）；冷启动且无有效反馈时为 nil
	Vector []float64

	// Changed 是否需要写回存储
	Changed bool

	// ChangeMagnitude 新旧向量的欧氏距离（冷启动时以零向量为旧值）
	ChangeMagnitude float64

	Counts Counts
}

// Engine 对单个用户执行 Rocchio 更新。无状态，可并发使用。
type Engine struct {
	Params Params

	// Dimension 向量维度；0 时取原向量或第一个物品向量的维度
	Dimension int

	Logger *zerolog.Logger
}

// NewEngine 创建 Engine。
func NewEngine(params Params, dimension int, logger *zerolog.Logger) *Engine {
	return &Engine{Params: params, Dimension: dimension, Logger: logger}
}

// Apply 根据一批反馈更新 original（nil 表示冷启动）。
// 所有反馈物品的向量通过 lookup 一次批量获取；查询失败时返回错误，不写回任何结果。
func (e *Engine) Apply(
	ctx context.Context,
	original []float64,
	events []core.FeedbackEvent,
	lookup core.EmbeddingLookup,
) (Result, error) {
	log := logx.Component(e.Logger, "rocchio")

	cls := e.Params.Classify(events)
	res := Result{
		Counts: Counts{
			Positive: len(cls.Positive),
			Negative: len(cls.Negative),
			Neutral:  cls.Neutral,
			Skipped:  cls.Skipped,
		},
	}
	for _, err := range cls.Invalid {
		log.Warn().Err(err).Msg("malformed feedback skipped")
	}

	if cls.Empty() {
		res.Vector = core.Normalize(original)
		return res, nil
	}

	dim := e.Dimension
	if dim == 0 {
		dim = len(original)
	}
	if dim != 0 && original != nil && len(original) != dim {
		return res, fmt.Errorf("%w: stored vector has %d dims, want %d", core.ErrDimensionMismatch, len(original), dim)
	}

	ids := make([]string, 0, len(cls.Positive)+len(cls.Negative))
	for _, w := range cls.Positive {
		ids = append(ids, w.ItemID)
	}
	for _, w := range cls.Negative {
		ids = append(ids, w.ItemID)
	}
	if lookup == nil {
		return res, fmt.Errorf("%w: no embedding lookup", core.ErrInvalidConfig)
	}
	embeddings, err := lookup.GetEmbeddings(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("get embeddings: %w", err)
	}
	if dim == 0 {
		dim = firstDim(ids, embeddings)
	}
	if dim == 0 {
		// 没有任何可用向量：等同于无反馈
		res.Counts.MissingEmbedding = len(ids)
		res.Vector = core.Normalize(original)
		log.Warn().Int("items", len(ids)).Msg("no embeddings for feedback items")
		return res, nil
	}

	pos, hasPos, missPos := Centroid(cls.Positive, embeddings, dim)
	neg, hasNeg, missNeg := Centroid(cls.Negative, embeddings, dim)
	res.Counts.MissingEmbedding = missPos + missNeg
	if res.Counts.MissingEmbedding > 0 {
		log.Warn().Int("missing", res.Counts.MissingEmbedding).Msg("feedback items without embedding")
	}

	vec, err := e.Params.Update(original, pos, neg, hasPos, hasNeg)
	if err != nil {
		return res, err
	}
	res.Vector = vec
	if !hasPos && !hasNeg {
		return res, nil
	}

	before := core.Normalize(original)
	if before == nil {
		before = core.ZeroVector(dim)
	}
	after := vec
	if after == nil {
		after = core.ZeroVector(dim)
	}
	res.ChangeMagnitude = core.EuclideanDistance(before, after)
	res.Changed = ShouldUpdate(res.ChangeMagnitude, e.Params.MinChange)
	if original == nil && core.IsZero(vec) {
		res.Changed = false
	}
	return res, nil
}

// ShouldUpdate 判断变化量是否达到写回阈值；threshold <= 0 时总是写回。
func ShouldUpdate(magnitude, threshold float64) bool {
	if threshold <= 0 {
		return true
	}
	return magnitude >= threshold
}

func firstDim(ids []string, embeddings map[string][]float64) int {
	for _, id := range ids {
		if e := embeddings[id]; len(e) > 0 {
			return len(e)
		}
	}
	return 0
}
