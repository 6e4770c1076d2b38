// Package rocchio 实现基于 Rocchio 算法的用户偏好向量增量更新。
//
//	new = α·original + β·positive_centroid − γ·negative_centroid
//
// 结果做 L2 归一化，避免多次更新后模长漂移。冷启动（没有原向量）时去掉 α 项。
package rocchio

import (
	"fmt"
	"sort"

	"github.com/rushteam/feedrank/core"
)

// Params 是 Rocchio 更新参数。
type Params struct {
	Alpha float64
	Beta  float64
	Gamma float64

	// RatingWeights 评分 → 权重；未出现的评分权重为 0
	RatingWeights map[int]float64

	// ClickWeight 隐式点击（无显式评分）的权重
	ClickWeight float64

	// MinChange 新旧向量欧氏距离低于该值时视为未变化；0 表示只要有反馈就写回
	MinChange float64
}

// DefaultParams 返回默认参数：α=0.7, β=0.3, γ=0.1，评分权重 5→1.0, 4→0.75, 2→0.75, 1→1.0，点击 0.75。
func DefaultParams() Params {
	return ParamsFromConfig(core.DefaultConfig().Rocchio)
}

// ParamsFromConfig 由配置构建参数。
func ParamsFromConfig(c core.RocchioConfig) Params {
	weights := make(map[int]float64, len(c.RatingWeights))
	for k, v := range c.RatingWeights {
		weights[k] = v
	}
	return Params{
		Alpha:         c.Alpha,
		Beta:          c.Beta,
		Gamma:         c.Gamma,
		RatingWeights: weights,
		ClickWeight:   c.ClickWeight,
		MinChange:     c.MinChange,
	}
}

// Class 是单条反馈的分类。
type Class int

const (
	Neutral Class = iota
	Positive
	Negative
)

func (c Class) String() string {
	switch c {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "neutral"
	}
}

// Weighted 是带权重的反馈物品。
type Weighted struct {
	ItemID string
	Weight float64
}

// Classification 是一批反馈的分类结果。
type Classification struct {
	Positive []Weighted
	Negative []Weighted
	Neutral  int
	Skipped  int     // 畸形记录数
	Invalid  []error // 畸形记录的原因，顺序与输入一致
}

// Empty 正负集合都为空。
func (c Classification) Empty() bool { return len(c.Positive) == 0 && len(c.Negative) == 0 }

// ClassOf 对单条合法反馈分类：评分 ≥4 或点击为正，评分 ≤2 为负；评分 3 与未点击为中性，不参与质心。
// 返回的权重来自评分权重表，点击使用 ClickWeight。
func (p Params) ClassOf(e core.FeedbackEvent) (Class, float64) {
	if e.Rating != nil {
		r := *e.Rating
		switch {
		case r >= 4:
			return Positive, p.RatingWeights[r]
		case r <= 2:
			return Negative, p.RatingWeights[r]
		default:
			return Neutral, 0
		}
	}
	if e.Clicked != nil && *e.Clicked {
		return Positive, p.ClickWeight
	}
	return Neutral, 0
}

// Classify 对一批反馈分类。
//
// 同一物品有多条反馈时只取一条：有显式评分时取最新的评分，否则取最新的点击。
// 畸形记录（评分越界、缺字段）跳过并计数，不影响其余记录。
// 输出按物品 ID 排序，保证质心的浮点累加顺序确定。
func (p Params) Classify(events []core.FeedbackEvent) Classification {
	var out Classification

	latest := make(map[string]core.FeedbackEvent, len(events))
	for _, e := range events {
		if err := e.Validate(); err != nil {
			out.Skipped++
			out.Invalid = append(out.Invalid, err)
			continue
		}
		old, ok := latest[e.ItemID]
		if !ok || supersedes(e, old) {
			latest[e.ItemID] = e
		}
	}

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		class, w := p.ClassOf(latest[id])
		switch class {
		case Positive:
			out.Positive = append(out.Positive, Weighted{ItemID: id, Weight: w})
		case Negative:
			out.Negative = append(out.Negative, Weighted{ItemID: id, Weight: w})
		default:
			out.Neutral++
		}
	}
	return out
}

// supersedes 判断 e 是否应替代同一物品上已有的反馈 old。
func supersedes(e, old core.FeedbackEvent) bool {
	if e.HasRating() != old.HasRating() {
		return e.HasRating()
	}
	return !e.Timestamp.Before(old.Timestamp)
}

// Centroid 计算加权质心 Σ(w·e)/Σw。缺少向量或维度不一致的物品跳过并计入 missing。
// 集合为空或总权重为 0 时返回 dim 维零向量，ok 为 false。
func Centroid(items []Weighted, embeddings map[string][]float64, dim int) (centroid []float64, ok bool, missing int) {
	sum := core.ZeroVector(dim)
	var total float64
	for _, it := range items {
		e, found := embeddings[it.ItemID]
		if !found || len(e) == 0 || len(e) != dim {
			missing++
			continue
		}
		if it.Weight <= 0 {
			continue
		}
		core.AddScaled(sum, it.Weight, e)
		total += it.Weight
	}
	if total == 0 {
		return sum, false, missing
	}
	for i := range sum {
		sum[i] /= total
	}
	return sum, true, missing
}

// Update 执行 Rocchio 更新并归一化。
//
//   - original 为 nil 表示冷启动：去掉 α 项
//   - hasPos/hasNeg 都为 false 时返回 normalize(original)（恒等）
//   - 维度不一致时返回 core.ErrDimensionMismatch
func (p Params) Update(original, pos, neg []float64, hasPos, hasNeg bool) ([]float64, error) {
	if !hasPos && !hasNeg {
		return core.Normalize(original), nil
	}

	dim := len(pos)
	if !hasPos {
		dim = len(neg)
	}
	if (hasPos && len(pos) != dim) || (hasNeg && len(neg) != dim) {
		return nil, fmt.Errorf("%w: centroid dims %d/%d", core.ErrDimensionMismatch, len(pos), len(neg))
	}

	out := core.ZeroVector(dim)
	if original != nil {
		if len(original) != dim {
			return nil, fmt.Errorf("%w: original has %d dims, centroid has %d", core.ErrDimensionMismatch, len(original), dim)
		}
		core.AddScaled(out, p.Alpha, original)
	}
	if hasPos {
		core.AddScaled(out, p.Beta, pos)
	}
	if hasNeg {
		core.AddScaled(out, -p.Gamma, neg)
	}
	return core.Normalize(out), nil
}
