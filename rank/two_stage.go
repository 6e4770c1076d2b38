package rank

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/model"
	"github.com/rushteam/feedrank/pipeline"
	"github.com/rushteam/feedrank/pkg/logx"
)

// TwoStage 是两阶段重排 Rank Node。
//
// Stage 1（逐点相关性）：用 Scorer 计算查询（会话查询优先，其次偏好向量）与候选摘要的相关性。
// 摘要缺失时回退到原始向量并扣减 MissingSummaryPenalty。
// s1 = max(relevance - penalty, 0) * decay，decay 取上游 rank.recency 记录的系数（无则为 1）。
// s1 下限为 0，乘以 decay 后同样相关性的旧物品分数不会高于新物品；
// relevance - penalty <= 0 的候选 s1 都为 0，彼此之间按发布时间、ID 排序（Stage 2 仍可拉开差距）。
// 查询为空时 s1 直接沿用上游分数。
//
// Stage 2（两两比较）：取 rctx.Anchors 前 MaxAnchors 个历史高分物品，
// 对每个锚点执行 Scorer.Compare(candidate, anchor)，
// pairwise = (wins - losses) / 锚点数，final = Stage1Weight*s1 + Stage2Weight*pairwise。
// 没有锚点时跳过 Stage 2，s1 原样作为最终分数。
//
// 输出按最终分数降序；同分时发布时间较新的在前，再按 ID 升序。
type TwoStage struct {
	Scorer    model.Scorer
	Summaries core.SummaryLookup

	Stage1Weight float64
	Stage2Weight float64

	MissingSummaryPenalty float64
	MaxAnchors            int

	// Stage1TopN Stage 1 之后保留的候选数；0 表示不截断
	Stage1TopN int

	// Concurrency 摘要获取与两两比较的并发上限
	Concurrency int

	Logger *zerolog.Logger
}

func (n *TwoStage) Name() string        { return "rank.two_stage" }
func (n *TwoStage) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *TwoStage) Process(
	ctx context.Context,
	rctx *core.RankContext,
	items []*core.ScoredCandidate,
) ([]*core.ScoredCandidate, error) {
	if len(items) == 0 {
		return items, nil
	}
	if n.Scorer == nil {
		return nil, fmt.Errorf("%w: two-stage reranker has no scorer", core.ErrInvalidConfig)
	}
	log := logx.Component(n.Logger, n.Name())

	out := core.CloneAll(items)
	query := model.Query{}
	var anchors []core.Anchor
	if rctx != nil {
		query = model.Query{Text: rctx.QueryText, Vector: rctx.Query()}
		anchors = rctx.Anchors
	}

	docs, hasSummary, err := n.loadDocs(ctx, log, out)
	if err != nil {
		return nil, err
	}

	if err := n.stage1(ctx, query, out, docs, hasSummary); err != nil {
		return nil, err
	}

	docs = permuteDocs(docs, sortByScore(out))
	if n.Stage1TopN > 0 && len(out) > n.Stage1TopN {
		out, docs = out[:n.Stage1TopN], docs[:n.Stage1TopN]
	}

	maxAnchors := n.MaxAnchors
	if maxAnchors <= 0 {
		maxAnchors = 5
	}
	if len(anchors) > maxAnchors {
		anchors = anchors[:maxAnchors]
	}
	if len(anchors) == 0 {
		for _, c := range out {
			c.AddContribution(core.StageFinal, c.Score)
		}
		return out, nil
	}

	if err := n.stage2(ctx, query, out, docs, anchors); err != nil {
		return nil, err
	}
	sortByScore(out)
	return out, nil
}

// loadDocs 并发获取摘要，按下标组装文档，保证结果与并发调度无关。
func (n *TwoStage) loadDocs(ctx context.Context, log zerolog.Logger, items []*core.ScoredCandidate) ([]model.Doc, []bool, error) {
	docs := make([]model.Doc, len(items))
	hasSummary := make([]bool, len(items))
	for i, c := range items {
		docs[i] = model.Doc{ID: c.Item.ID, Vector: c.Item.Embedding}
	}
	if n.Summaries == nil {
		return docs, hasSummary, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(n.concurrency())
	for i, c := range items {
		i := i
		ref := c.Item.SummaryRef
		if ref == "" {
			ref = c.Item.ID
		}
		eg.Go(func() error {
			summary, ok, err := n.Summaries.GetSummary(egCtx, ref)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				// 摘要缺失不致命：按原始向量打分并扣分
				log.Warn().Err(err).Str("item_id", docs[i].ID).Msg("summary lookup failed")
				return nil
			}
			if ok && summary != "" {
				docs[i].Text = summary
				hasSummary[i] = true
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, fmt.Errorf("summary lookup: %w", err)
	}

	for i := range docs {
		if !hasSummary[i] {
			log.Debug().Str("item_id", docs[i].ID).Msg("summary missing, falling back to embedding")
		}
	}
	return docs, hasSummary, nil
}

func (n *TwoStage) stage1(ctx context.Context, q model.Query, items []*core.ScoredCandidate, docs []model.Doc, hasSummary []bool) error {
	if q.IsEmpty() {
		for _, c := range items {
			c.AddContribution(core.StageRelevance, c.Score)
		}
		return nil
	}

	relevance, err := n.scoreAll(ctx, q, docs)
	if err != nil {
		return err
	}
	for i, c := range items {
		s := relevance[i]
		if !hasSummary[i] {
			s -= n.MissingSummaryPenalty
		}
		if s < 0 {
			s = 0
		}
		if d, ok := c.Contribution(core.StageRecency); ok {
			s *= d
		}
		c.Score = s
		c.AddContribution(core.StageRelevance, s)
	}
	return nil
}

func (n *TwoStage) scoreAll(ctx context.Context, q model.Query, docs []model.Doc) ([]float64, error) {
	if bs, ok := n.Scorer.(model.BatchScorer); ok {
		scores, err := bs.ScoreBatch(ctx, q, docs)
		if err != nil {
			return nil, n.scorerErr(ctx, "stage1", err)
		}
		return scores, nil
	}

	scores := make([]float64, len(docs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(n.concurrency())
	for i := range docs {
		i := i
		eg.Go(func() error {
			s, err := n.Scorer.Score(egCtx, q, docs[i])
			if err != nil {
				return err
			}
			scores[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, n.scorerErr(ctx, "stage1", err)
	}
	return scores, nil
}

func (n *TwoStage) stage2(ctx context.Context, q model.Query, items []*core.ScoredCandidate, docs []model.Doc, anchors []core.Anchor) error {
	anchorDocs := make([]model.Doc, len(anchors))
	for i, a := range anchors {
		anchorDocs[i] = model.Doc{ID: a.ItemID, Text: a.Summary, Vector: a.Embedding}
	}

	pairwise := make([]float64, len(items))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(n.concurrency())
	for i := range items {
		i := i
		eg.Go(func() error {
			var wins, losses int
			for _, ad := range anchorDocs {
				o, err := n.Scorer.Compare(egCtx, docs[i], ad, q)
				if err != nil {
					return err
				}
				switch o {
				case model.Win:
					wins++
				case model.Lose:
					losses++
				}
			}
			pairwise[i] = float64(wins-losses) / float64(len(anchorDocs))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return n.scorerErr(ctx, "stage2", err)
	}

	w1, w2 := n.Stage1Weight, n.Stage2Weight
	if w1 == 0 && w2 == 0 {
		w1, w2 = 0.6, 0.4
	}
	for i, c := range items {
		c.AddContribution(core.StagePairwise, pairwise[i])
		c.Score = w1*c.Score + w2*pairwise[i]
		c.AddContribution(core.StageFinal, c.Score)
	}
	return nil
}

// scorerErr 区分取消与上游失败：上游失败以 ErrPartialData 上报，不返回不完整的排序。
func (n *TwoStage) scorerErr(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", stage, ctxErr)
	}
	return fmt.Errorf("%w: %s scorer %s: %v", core.ErrPartialData, stage, n.Scorer.Name(), err)
}

func (n *TwoStage) concurrency() int {
	if n.Concurrency <= 0 {
		return 8
	}
	return n.Concurrency
}

// sortByScore 原地排序并返回排序前的下标顺序。
func sortByScore(items []*core.ScoredCandidate) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	snapshot := make([]*core.ScoredCandidate, len(items))
	copy(snapshot, items)
	sort.SliceStable(idx, func(a, b int) bool {
		return less(snapshot[idx[a]], snapshot[idx[b]])
	})
	for i, j := range idx {
		items[i] = snapshot[j]
	}
	return idx
}

// less 分数降序；同分时发布时间较新者在前，再按 ID 升序。
func less(a, b *core.ScoredCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.Item.PublishedAt.Equal(b.Item.PublishedAt) {
		return a.Item.PublishedAt.After(b.Item.PublishedAt)
	}
	return a.Item.ID < b.Item.ID
}

func permuteDocs(docs []model.Doc, order []int) []model.Doc {
	out := make([]model.Doc, len(docs))
	for i, j := range order {
		out[i] = docs[j]
	}
	return out
}
