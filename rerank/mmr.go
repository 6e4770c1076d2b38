package rerank

import (
	"context"
	"math"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pipeline"
)

// MMR 是多样性 ReRank Node（贪心 Maximal Marginal Relevance），带每组硬配额。
//
//	mmr(c) = Lambda * relevance(c) - (1-Lambda) * max_{s∈S} cos(c, s)
//
// S 为空时 max 记为 0。每轮选出 mmr 最高的候选，同分时输入中排名靠前者优先。
// 某组已选满 GroupCap 个后，该组剩余候选不再参与选择（硬约束，不是降权）。
// 可选候选不足 K 个时返回更短的列表。
//
// relevance 取候选当前分数；输入应已按相关性降序排列（输入顺序即相关性排名）。
// 没有向量的候选与任何候选的相似度按 0 处理；Group 为空的候选不受配额限制。
type MMR struct {
	// Lambda 相关性与多样性的权衡（1 = 纯相关性，0 = 纯多样性），超出 [0,1] 时截断
	Lambda float64

	// K 目标列表长度；0 时使用 rctx.K
	K int

	// GroupCap 每组（频道）最多入选数量；0 表示不限制
	GroupCap int
}

func (n *MMR) Name() string        { return "rerank.mmr" }
func (n *MMR) Kind() pipeline.Kind { return pipeline.KindReRank }

func (n *MMR) Process(
	_ context.Context,
	rctx *core.RankContext,
	items []*core.ScoredCandidate,
) ([]*core.ScoredCandidate, error) {
	k := n.K
	if k <= 0 && rctx != nil {
		k = rctx.K
	}
	if k <= 0 {
		k = len(items)
	}
	return n.Select(items, k), nil
}

// Select 从 items 中选出至多 k 个候选。不修改输入。
func (n *MMR) Select(items []*core.ScoredCandidate, k int) []*core.ScoredCandidate {
	if len(items) == 0 || k <= 0 {
		return []*core.ScoredCandidate{}
	}
	lambda := math.Max(0, math.Min(1, n.Lambda))

	// maxSim[i]：候选 i 与已选集合的最大相似度；已选集合为空时为 0
	maxSim := make([]float64, len(items))
	hasSim := make([]bool, len(items))
	selected := make([]bool, len(items))
	groupCount := make(map[string]int)

	out := make([]*core.ScoredCandidate, 0, min(k, len(items)))
	for len(out) < k {
		best := -1
		bestMMR := math.Inf(-1)

		for i, c := range items {
			if selected[i] || c == nil || n.capped(c, groupCount) {
				continue
			}
			sim := 0.0
			if hasSim[i] {
				sim = maxSim[i]
			}
			score := lambda*c.Score - (1-lambda)*sim
			// 严格大于：同分时保留排名靠前的候选
			if score > bestMMR {
				bestMMR = score
				best = i
			}
		}
		if best < 0 {
			break
		}

		chosen := items[best]
		selected[best] = true
		out = append(out, chosen)
		if chosen.Item.Group != "" {
			groupCount[chosen.Item.Group]++
		}

		for i, c := range items {
			if selected[i] || c == nil {
				continue
			}
			sim := similarity(c, chosen)
			if !hasSim[i] || sim > maxSim[i] {
				maxSim[i] = sim
				hasSim[i] = true
			}
		}
	}
	return out
}

func (n *MMR) capped(c *core.ScoredCandidate, groupCount map[string]int) bool {
	if n.GroupCap <= 0 || c.Item.Group == "" {
		return false
	}
	return groupCount[c.Item.Group] >= n.GroupCap
}

func similarity(a, b *core.ScoredCandidate) float64 {
	if len(a.Item.Embedding) == 0 || len(b.Item.Embedding) == 0 {
		return 0
	}
	return core.Cosine(a.Item.Embedding, b.Item.Embedding)
}
