// Package config 把 core.Config 与外部依赖组装成 Pipeline、Ranker 与 VectorUpdater。
package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/engine"
	"github.com/rushteam/feedrank/filter"
	"github.com/rushteam/feedrank/model"
	"github.com/rushteam/feedrank/pipeline"
	"github.com/rushteam/feedrank/pkg/metrics"
	"github.com/rushteam/feedrank/rank"
	"github.com/rushteam/feedrank/recall"
	"github.com/rushteam/feedrank/rerank"
)

// Deps 是构建 Node 所需的外部依赖。通常传入 gateway 包装后的实现。
type Deps struct {
	Config *core.Config

	Searcher    core.VectorSearcher
	Lexical     core.LexicalSearcher
	Items       core.ItemLookup
	Embeddings  core.EmbeddingLookup
	Summaries   core.SummaryLookup
	Seen        core.SeenStore
	ApproxSeen  core.ApproxSeenStore
	Preferences core.PreferenceStore
	Feedback    core.FeedbackStore

	// Scorer 两阶段重排使用的打分器；为空时使用本地余弦打分
	Scorer model.Scorer

	Metrics *metrics.Metrics
	Logger  *zerolog.Logger
}

// Conf 返回配置；未设置时返回默认配置。
func (d *Deps) Conf() *core.Config {
	if d == nil || d.Config == nil {
		return core.DefaultConfig()
	}
	return d.Config
}

// DefaultScorer 返回 deps.Scorer，未设置时返回 EmbeddingScorer。
func (d *Deps) DefaultScorer() model.Scorer {
	if d.Scorer != nil {
		return d.Scorer
	}
	return &model.EmbeddingScorer{TieMargin: d.Conf().Rerank.TieMargin}
}

// NewMerger 按配置创建候选合并节点。
func NewMerger(deps *Deps) *recall.Merger {
	c := deps.Conf().Merge
	return &recall.Merger{
		Semantic: &recall.SemanticSource{
			Searcher: deps.Searcher,
			TopN:     c.SemanticTopN,
			Min:      c.SemanticMin,
			Max:      c.SemanticMax,
		},
		Lexical: &recall.LexicalSource{
			Searcher: deps.Lexical,
			TopM:     c.LexicalTopM,
		},
		Fusion:         c.Fusion,
		SemanticWeight: c.SemanticWeight,
		LexicalWeight:  c.LexicalWeight,
		Timeout:        c.SourceTimeout,
		Items:          deps.Items,
		Embeddings:     deps.Embeddings,
		Logger:         deps.Logger,
	}
}

// NewTwoStage 按配置创建两阶段重排节点。
func NewTwoStage(deps *Deps, scorer model.Scorer) *rank.TwoStage {
	c := deps.Conf().Rerank
	if scorer == nil {
		scorer = deps.DefaultScorer()
	}
	return &rank.TwoStage{
		Scorer:                scorer,
		Summaries:             deps.Summaries,
		Stage1Weight:          c.Stage1Weight,
		Stage2Weight:          c.Stage2Weight,
		MissingSummaryPenalty: c.MissingSummaryPenalty,
		MaxAnchors:            c.MaxAnchors,
		Stage1TopN:            c.Stage1TopN,
		Concurrency:           c.SummaryConcurrency,
		Logger:                deps.Logger,
	}
}

// DefaultPipeline 返回默认链路：合并召回 → 过滤 → 时间衰减 → 两阶段重排 → MMR。
func DefaultPipeline(deps *Deps) *pipeline.Pipeline {
	cfg := deps.Conf()

	filters := []filter.Filter{filter.NewExcludeFilter(nil)}
	if deps.Seen != nil {
		filters = append(filters, &filter.SeenFilter{Store: deps.Seen})
	}
	if deps.ApproxSeen != nil {
		filters = append(filters, &filter.BloomSeenFilter{Store: deps.ApproxSeen})
	}

	p := &pipeline.Pipeline{
		Nodes: []pipeline.Node{
			NewMerger(deps),
			&filter.FilterNode{Filters: filters, Logger: deps.Logger},
			&rank.Recency{HalfLife: cfg.Recency.HalfLife, MinDecay: cfg.Recency.MinDecay},
			NewTwoStage(deps, nil),
			&rerank.MMR{Lambda: cfg.Diversity.Lambda, GroupCap: cfg.Diversity.GroupCap},
		},
		Logger: deps.Logger,
	}
	if deps.Metrics != nil {
		p.Observer = deps.Metrics
	}
	return p
}

// BuildPipeline 按 pipeline 配置构建链路；pcfg 为 nil 时返回 DefaultPipeline。
func BuildPipeline(pcfg *pipeline.Config, deps *Deps) (*pipeline.Pipeline, error) {
	if deps == nil {
		deps = &Deps{}
	}
	if pcfg == nil {
		return DefaultPipeline(deps), nil
	}
	if err := ValidatePipelineConfig(pcfg); err != nil {
		return nil, err
	}
	p, err := pcfg.BuildPipeline(Factory(deps))
	if err != nil {
		return nil, fmt.Errorf("build pipeline %q: %w", pcfg.Pipeline.Name, err)
	}
	p.Logger = deps.Logger
	if deps.Metrics != nil {
		p.Observer = deps.Metrics
	}
	return p, nil
}

// NewRanker 创建绑定 deps 的 Ranker。
func NewRanker(p *pipeline.Pipeline, deps *Deps) *engine.Ranker {
	return &engine.Ranker{
		Pipeline:    p,
		Preferences: deps.Preferences,
		Feedback:    deps.Feedback,
		Embeddings:  deps.Embeddings,
		Summaries:   deps.Summaries,
		Config:      deps.Conf(),
		Metrics:     deps.Metrics,
		Logger:      deps.Logger,
	}
}

// NewVectorUpdater 创建绑定 deps 的批量向量更新器。
func NewVectorUpdater(deps *Deps) *engine.VectorUpdater {
	return engine.NewVectorUpdater(deps.Conf(), deps.Preferences, deps.Feedback, deps.Embeddings, deps.Metrics, deps.Logger)
}
