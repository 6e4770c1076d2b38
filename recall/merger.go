package recall

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pipeline"
	"github.com/rushteam/feedrank/pkg/logx"
	"github.com/rushteam/feedrank/pkg/utils"
)

// Merger 是一个 Recall Node：并发执行语义召回与文本召回，归一化后按 ID 合并。
//
// 合并规则：
//   - 同一 ID 只保留一次，Provenance 标记来源（semantic / lexical / both）
//   - FusionMax：取两路归一化分数的最大值（默认）
//   - FusionWeighted：SemanticWeight*sem + LexicalWeight*lex，缺失的一路记 0
//
// 降级规则：
//   - 一路为空不是错误，直接使用另一路
//   - 一路失败时使用另一路，并在 rctx 上打 partial 标签
//   - 两路都失败时返回 core.ErrPartialData
//   - 两路都为空时返回空列表
type Merger struct {
	Semantic Source
	Lexical  Source

	Fusion         core.Fusion
	SemanticWeight float64
	LexicalWeight  float64

	// Timeout 每路召回的超时时间；0 表示只受 ctx 约束
	Timeout time.Duration

	// Items 补全候选元数据（标题、频道、发布时间、向量）；可为空
	Items core.ItemLookup

	// Embeddings 为元数据中缺少向量的候选补充向量；可为空
	Embeddings core.EmbeddingLookup

	Logger *zerolog.Logger
}

func (n *Merger) Name() string        { return "recall.merge" }
func (n *Merger) Kind() pipeline.Kind { return pipeline.KindRecall }

type sourceResult struct {
	hits []core.SearchHit
	err  error
}

type fused struct {
	id       string
	sem, lex float64
	hasSem   bool
	hasLex   bool
}

func (n *Merger) Process(
	ctx context.Context,
	rctx *core.RankContext,
	_ []*core.ScoredCandidate,
) ([]*core.ScoredCandidate, error) {
	log := logx.Component(n.Logger, n.Name())

	sources := []Source{n.Semantic, n.Lexical}
	results := make([]sourceResult, len(sources))

	// 不使用 errgroup.WithContext：一路失败不应取消另一路
	var eg errgroup.Group
	for i, src := range sources {
		if src == nil {
			continue
		}
		i, src := i, src
		eg.Go(func() error {
			recallCtx := ctx
			if n.Timeout > 0 {
				var cancel context.CancelFunc
				recallCtx, cancel = context.WithTimeout(ctx, n.Timeout)
				defer cancel()
			}
			hits, err := src.Recall(recallCtx, rctx)
			results[i] = sourceResult{hits: hits, err: err}
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}

	semRes, lexRes := results[0], results[1]
	switch {
	case semRes.err != nil && lexRes.err != nil:
		return nil, fmt.Errorf("%w: semantic: %v; lexical: %v", core.ErrPartialData, semRes.err, lexRes.err)
	case semRes.err != nil:
		n.degrade(rctx, log, n.Semantic.Name(), semRes.err)
	case lexRes.err != nil:
		n.degrade(rctx, log, n.Lexical.Name(), lexRes.err)
	}

	merged := n.fuse(semRes.hits, lexRes.hits)
	if len(merged) == 0 {
		return []*core.ScoredCandidate{}, nil
	}

	items, err := n.hydrate(ctx, log, merged)
	if err != nil {
		return nil, err
	}

	out := make([]*core.ScoredCandidate, 0, len(merged))
	for _, f := range merged {
		item := items[f.id]
		item.ID = f.id
		switch {
		case f.hasSem && f.hasLex:
			item.Provenance = core.ProvenanceBoth
		case f.hasSem:
			item.Provenance = core.ProvenanceSemantic
		default:
			item.Provenance = core.ProvenanceLexical
		}

		c := core.NewScoredCandidate(item, n.score(f))
		c.PutLabel("recall_source", utils.Label{Value: string(item.Provenance), Source: "recall"})
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	return out, nil
}

func (n *Merger) degrade(rctx *core.RankContext, log zerolog.Logger, source string, err error) {
	log.Warn().Err(err).Str("source", source).Msg("recall source failed, degrading to the other source")
	if rctx != nil {
		rctx.PutLabel(core.LabelPartial, utils.Label{Value: source, Source: "recall"})
	}
}

// fuse 归一化两路分数并按 ID 去重，保持首次出现的顺序（语义在前）。
func (n *Merger) fuse(sem, lex []core.SearchHit) []*fused {
	byID := make(map[string]*fused, len(sem)+len(lex))
	order := make([]*fused, 0, len(sem)+len(lex))

	get := func(id string) *fused {
		if f, ok := byID[id]; ok {
			return f
		}
		f := &fused{id: id}
		byID[id] = f
		order = append(order, f)
		return f
	}

	semNorm := normalizeHits(sem, n.Semantic)
	for i, h := range sem {
		if h.ID == "" {
			continue
		}
		f := get(h.ID)
		if !f.hasSem || semNorm[i] > f.sem {
			f.sem = semNorm[i]
		}
		f.hasSem = true
	}

	lexNorm := normalizeHits(lex, n.Lexical)
	for i, h := range lex {
		if h.ID == "" {
			continue
		}
		f := get(h.ID)
		if !f.hasLex || lexNorm[i] > f.lex {
			f.lex = lexNorm[i]
		}
		f.hasLex = true
	}
	return order
}

func (n *Merger) score(f *fused) float64 {
	if n.Fusion == core.FusionWeighted {
		ws, wl := n.SemanticWeight, n.LexicalWeight
		if ws == 0 && wl == 0 {
			ws, wl = 0.7, 0.3
		}
		var s float64
		if f.hasSem {
			s += ws * f.sem
		}
		if f.hasLex {
			s += wl * f.lex
		}
		return s
	}

	switch {
	case f.hasSem && f.hasLex:
		if f.sem > f.lex {
			return f.sem
		}
		return f.lex
	case f.hasSem:
		return f.sem
	default:
		return f.lex
	}
}

// hydrate 批量补全元数据与缺失向量。元数据查询失败视为必需数据缺失。
func (n *Merger) hydrate(ctx context.Context, log zerolog.Logger, merged []*fused) (map[string]core.CandidateItem, error) {
	ids := make([]string, len(merged))
	for i, f := range merged {
		ids[i] = f.id
	}

	items := make(map[string]core.CandidateItem, len(ids))
	if n.Items != nil {
		got, err := n.Items.GetItems(ctx, ids)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("item lookup: %w", ctxErr)
			}
			return nil, fmt.Errorf("%w: item lookup: %v", core.ErrPartialData, err)
		}
		for id, it := range got {
			items[id] = it
		}
	}

	var missing []string
	for _, id := range ids {
		it, ok := items[id]
		if !ok {
			log.Debug().Str("item_id", id).Msg("item metadata missing")
		}
		if len(it.Embedding) == 0 {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 || n.Embeddings == nil {
		return items, nil
	}

	embs, err := n.Embeddings.GetEmbeddings(ctx, missing)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("embedding lookup: %w", ctxErr)
			}
		}
		// 向量缺失不致命：MMR 中相似度按 0 处理
		log.Warn().Err(err).Int("count", len(missing)).Msg("embedding lookup failed")
		return items, nil
	}
	for _, id := range missing {
		it := items[id]
		if e, ok := embs[id]; ok && len(e) > 0 {
			it.Embedding = e
			items[id] = it
			continue
		}
		log.Warn().Str("item_id", id).Msg("candidate has no embedding")
	}
	return items, nil
}

// normalizeHits 把一路召回分数映射到 [0,1]。
// Source 声明了范围时按声明范围线性映射并截断；否则按 [min(0,最小分), 最大分] 映射，
// 区间退化（例如全部为 0）时记为 1。
func normalizeHits(hits []core.SearchHit, src Source) []float64 {
	out := make([]float64, len(hits))
	if len(hits) == 0 {
		return out
	}

	var lo, hi float64
	if r, ok := src.(ScoreRange); ok {
		lo, hi = r.ScoreRange()
	} else {
		// 以 0 为下界：非负分数（ts_rank、词重合度）等价于按最大值缩放
		for _, h := range hits {
			if h.Score < lo {
				lo = h.Score
			}
			if h.Score > hi {
				hi = h.Score
			}
		}
	}

	if hi <= lo {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, h := range hits {
		v := (h.Score - lo) / (hi - lo)
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		out[i] = v
	}
	return out
}
