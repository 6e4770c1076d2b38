package rank

import (
	"context"
	"math"
	"time"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pipeline"
)

// DefaultHalfLife 默认半衰期。
const DefaultHalfLife = 30 * 24 * time.Hour

// Recency 是时间衰减 Rank Node：score = score * decay(age)。
//
// decay(age) = 0.5^(age/HalfLife)，下限为 MinDecay，因此取值在 (0,1] 内且随 age 单调不增。
// 发布时间缺失（零值）的候选 decay = 1，不受惩罚；发布时间晚于请求时间时按 age = 0 处理。
type Recency struct {
	HalfLife time.Duration
	MinDecay float64
}

func (n *Recency) Name() string        { return "rank.recency" }
func (n *Recency) Kind() pipeline.Kind { return pipeline.KindRank }

// Decay 计算给定年龄的衰减系数。
func (n *Recency) Decay(age time.Duration) float64 {
	halfLife := n.HalfLife
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	floor := n.MinDecay
	if floor <= 0 || floor > 1 {
		floor = 0.01
	}
	if age <= 0 {
		return 1
	}
	d := math.Pow(0.5, float64(age)/float64(halfLife))
	if d < floor || math.IsNaN(d) {
		return floor
	}
	return d
}

// DecayAt 计算发布时间 published 在 now 时刻的衰减系数。
func (n *Recency) DecayAt(now, published time.Time) float64 {
	if published.IsZero() {
		return 1
	}
	return n.Decay(now.Sub(published))
}

func (n *Recency) Process(
	_ context.Context,
	rctx *core.RankContext,
	items []*core.ScoredCandidate,
) ([]*core.ScoredCandidate, error) {
	if len(items) == 0 {
		return items, nil
	}
	now := time.Now()
	if rctx != nil && !rctx.Now.IsZero() {
		now = rctx.Now
	}

	out := core.CloneAll(items)
	for _, c := range out {
		d := n.DecayAt(now, c.Item.PublishedAt)
		c.Score *= d
		c.AddContribution(core.StageRecency, d)
	}
	return out, nil
}
