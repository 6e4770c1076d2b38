// Package engine 组装排序链路（Ranker）与批量偏好向量更新（VectorUpdater）。
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pipeline"
	"github.com/rushteam/feedrank/pkg/logx"
	"github.com/rushteam/feedrank/pkg/metrics"
	"github.com/rushteam/feedrank/pkg/utils"
)

// ErrInvalidRequest 请求缺少必要字段。
var ErrInvalidRequest = core.NewDomainError(core.ModulePipeline, core.ErrorCodeInvalidInput, "pipeline: invalid rank request")

// Ranker 处理单个排序请求：构建 RankContext（偏好向量、锚点），执行 Pipeline，产出 FinalList。
//
// 结果约定：
//   - 没有任何候选时返回空列表（不是错误）
//   - ctx 取消返回错误，不返回截断的结果
//   - 必需数据源失败时返回 core.ErrPartialData
//   - 某一路召回降级时 FinalList.Partial 为 true
type Ranker struct {
	Pipeline *pipeline.Pipeline

	Preferences core.PreferenceStore
	Feedback    core.FeedbackStore
	Embeddings  core.EmbeddingLookup
	Summaries   core.SummaryLookup

	Config  *core.Config
	Metrics *metrics.Metrics
	Logger  *zerolog.Logger
}

// Rank 执行一次排序请求。
func (r *Ranker) Rank(ctx context.Context, req core.RankRequest) (*core.FinalList, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	if r.Pipeline == nil {
		return nil, fmt.Errorf("%w: ranker has no pipeline", core.ErrInvalidConfig)
	}
	cfg := r.Config
	if cfg == nil {
		cfg = core.DefaultConfig()
	}

	rctx, err := r.buildContext(ctx, cfg, req)
	if err != nil {
		return nil, err
	}
	log := logx.Component(r.Logger, "ranker").With().
		Str("request_id", rctx.RequestID).
		Str("user_id", rctx.UserID).
		Logger()

	items, err := r.Pipeline.Run(ctx, rctx, nil)
	if err != nil {
		log.Warn().Err(err).Msg("rank failed")
		return nil, err
	}

	list := &core.FinalList{
		RequestID: rctx.RequestID,
		UserID:    rctx.UserID,
		Items:     make([]core.CandidateItem, 0, len(items)),
		Scores:    make([]float64, 0, len(items)),
	}
	for _, c := range items {
		if len(list.Items) == rctx.K {
			break
		}
		list.Items = append(list.Items, c.Item)
		list.Scores = append(list.Scores, c.Score)
	}
	if _, ok := rctx.GetLabel(core.LabelPartial); ok {
		list.Partial = true
		r.Metrics.Partial()
	}

	log.Info().
		Int("k", rctx.K).
		Int("returned", list.Len()).
		Int("anchors", len(rctx.Anchors)).
		Bool("partial", list.Partial).
		Msg("ranked")
	return list, nil
}

func (r *Ranker) buildContext(ctx context.Context, cfg *core.Config, req core.RankRequest) (*core.RankContext, error) {
	k := req.K
	if k <= 0 {
		k = cfg.Ranking.DefaultK
	}
	if cfg.Ranking.MaxK > 0 && k > cfg.Ranking.MaxK {
		k = cfg.Ranking.MaxK
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	rctx := &core.RankContext{
		RequestID:   uuid.NewString(),
		UserID:      req.UserID,
		K:           k,
		Now:         now,
		QueryText:   req.QueryText,
		QueryVector: core.CloneVector(req.QueryVector),
		Exclude:     make(map[string]struct{}, len(req.Exclude)),
		Params:      map[string]any{},
	}
	for _, id := range req.Exclude {
		rctx.Exclude[id] = struct{}{}
	}
	log := logx.Component(r.Logger, "ranker").With().Str("request_id", rctx.RequestID).Logger()

	if r.Preferences != nil {
		pv, ok, err := r.Preferences.GetVector(ctx, req.UserID)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, fmt.Errorf("get preference vector: %w", ctx.Err())
		case err != nil:
			// 没有会话查询时偏好向量是唯一的查询表示
			if req.QueryText == "" && len(req.QueryVector) == 0 {
				return nil, fmt.Errorf("%w: preference vector: %v", core.ErrPartialData, err)
			}
			log.Warn().Err(err).Msg("preference vector unavailable, using session query only")
			rctx.PutLabel(core.LabelPartial, utils.Label{Value: "preferences", Source: "context"})
		case ok:
			rctx.PreferenceVector = pv.Values
		}
	}

	anchors, err := r.loadAnchors(ctx, cfg, req.UserID, now)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("load anchors: %w", ctx.Err())
		}
		// 锚点缺失只会跳过 Stage 2
		log.Warn().Err(err).Msg("anchors unavailable, pairwise stage skipped")
		rctx.PutLabel(core.LabelPartial, utils.Label{Value: "anchors", Source: "context"})
	}
	rctx.Anchors = anchors
	return rctx, nil
}

// loadAnchors 读取回看窗口内评分 >= AnchorMinRating 的物品作为锚点。
// 顺序确定：最近的在前，其次评分高的在前，再按 ID；同一物品只取最新一条。
func (r *Ranker) loadAnchors(ctx context.Context, cfg *core.Config, userID string, now time.Time) ([]core.Anchor, error) {
	if r.Feedback == nil || cfg.Rerank.MaxAnchors <= 0 {
		return nil, nil
	}
	rng := core.DateRange{End: now.Add(time.Nanosecond)}
	if cfg.Ranking.AnchorLookback > 0 {
		rng.Start = now.Add(-cfg.Ranking.AnchorLookback)
	}
	events, err := r.Feedback.GetFeedback(ctx, userID, rng)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]core.Anchor)
	for _, e := range events {
		if e.Validate() != nil || e.Rating == nil || *e.Rating < cfg.Rerank.AnchorMinRating {
			continue
		}
		if old, ok := latest[e.ItemID]; ok && old.Timestamp.After(e.Timestamp) {
			continue
		}
		latest[e.ItemID] = core.Anchor{ItemID: e.ItemID, Rating: *e.Rating, Timestamp: e.Timestamp}
	}
	anchors := make([]core.Anchor, 0, len(latest))
	for _, a := range latest {
		anchors = append(anchors, a)
	}
	sort.Slice(anchors, func(i, j int) bool {
		a, b := anchors[i], anchors[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.ItemID < b.ItemID
	})
	if len(anchors) == 0 {
		return nil, nil
	}

	ids := make([]string, len(anchors))
	for i, a := range anchors {
		ids[i] = a.ItemID
	}
	var embeddings map[string][]float64
	if r.Embeddings != nil {
		embeddings, err = r.Embeddings.GetEmbeddings(ctx, ids)
		if err != nil {
			return nil, err
		}
	}

	out := make([]core.Anchor, 0, cfg.Rerank.MaxAnchors)
	for _, a := range anchors {
		if len(out) == cfg.Rerank.MaxAnchors {
			break
		}
		a.Embedding = embeddings[a.ItemID]
		if r.Summaries != nil {
			// 摘要可选：查询失败时该锚点只用向量
			s, ok, err := r.Summaries.GetSummary(ctx, a.ItemID)
			if err != nil && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err == nil && ok {
				a.Summary = s
			}
		}
		if len(a.Embedding) == 0 && a.Summary == "" {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
