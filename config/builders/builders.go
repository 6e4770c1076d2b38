// Package builders 注册内置 Node 的配置构建器。
//
// YAML 示例：
//
//	pipeline:
//	  name: feed
//	  nodes:
//	    - type: recall.merge
//	      config: {semantic_top_n: 100, lexical_top_m: 50, fusion: max, timeout: 2s}
//	      # 可选：语义召回改走 HTTP ANN 服务
//	      # config: {ann_endpoint: "http://ann:8080", ann_collection: items}
//	    - type: filter
//	      config:
//	        filters:
//	          - {type: exclude, item_ids: ["v_banned"]}
//	          - {type: seen}
//	          - {type: expr, expr: 'item.topic == "shorts"'}
//	    - type: rank.recency
//	      config: {half_life: 720h}
//	    - type: rank.two_stage
//	      config: {scorer: rpc, endpoint: "http://reranker:8080/score", timeout: 3s}
//	    - type: rerank.mmr
//	      config: {lambda: 0.7, group_cap: 2}
package builders

import (
	"fmt"

	"github.com/rushteam/feedrank/config"
	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/filter"
	"github.com/rushteam/feedrank/model"
	"github.com/rushteam/feedrank/pipeline"
	"github.com/rushteam/feedrank/pkg/conv"
	"github.com/rushteam/feedrank/rank"
	"github.com/rushteam/feedrank/recall"
	"github.com/rushteam/feedrank/rerank"
	"github.com/rushteam/feedrank/vector"
)

func init() {
	config.Register("recall.merge", BuildMergeNode)
	config.Register("filter", BuildFilterNode)
	config.Register("rank.recency", BuildRecencyNode)
	config.Register("rank.two_stage", BuildTwoStageNode)
	config.Register("rerank.mmr", BuildMMRNode)
	config.Register("rerank.topn", BuildTopNNode)
}

// BuildMergeNode 未出现的字段沿用 core.Config.Merge。
// 配置了 ann_endpoint 时语义召回使用 vector.ANNClient 替代 deps.Searcher。
func BuildMergeNode(deps *config.Deps, cfg map[string]interface{}) (pipeline.Node, error) {
	m := config.NewMerger(deps)
	def := deps.Conf().Merge

	sem := m.Semantic.(*recall.SemanticSource)
	if endpoint := conv.ConfigGet(cfg, "ann_endpoint", ""); endpoint != "" {
		opts := []vector.ANNOption{vector.WithANNMetric(conv.ConfigGet(cfg, "ann_metric", "cosine"))}
		if d := conv.ConfigGetDuration(cfg, "ann_timeout", 0); d > 0 {
			opts = append(opts, vector.WithANNTimeout(d))
		}
		if token := conv.ConfigGet(cfg, "ann_token", ""); token != "" {
			opts = append(opts, vector.WithANNAuth(&vector.AuthConfig{Type: "bearer", Token: token}))
		}
		sem.Searcher = vector.NewANNClient(endpoint, conv.ConfigGet(cfg, "ann_collection", "items"), opts...)
	}
	sem.TopN = int(conv.ConfigGetInt64(cfg, "semantic_top_n", int64(def.SemanticTopN)))
	sem.Min = conv.ConfigGetFloat64(cfg, "semantic_min", def.SemanticMin)
	sem.Max = conv.ConfigGetFloat64(cfg, "semantic_max", def.SemanticMax)
	lex := m.Lexical.(*recall.LexicalSource)
	lex.TopM = int(conv.ConfigGetInt64(cfg, "lexical_top_m", int64(def.LexicalTopM)))

	switch f := core.Fusion(conv.ConfigGet(cfg, "fusion", string(def.Fusion))); f {
	case core.FusionMax, core.FusionWeighted:
		m.Fusion = f
	default:
		return nil, fmt.Errorf("%w: unknown fusion %q", core.ErrInvalidConfig, f)
	}
	m.SemanticWeight = conv.ConfigGetFloat64(cfg, "semantic_weight", def.SemanticWeight)
	m.LexicalWeight = conv.ConfigGetFloat64(cfg, "lexical_weight", def.LexicalWeight)
	if m.Fusion == core.FusionWeighted && m.SemanticWeight+m.LexicalWeight == 0 {
		return nil, fmt.Errorf("%w: weighted fusion needs a non-zero weight", core.ErrInvalidConfig)
	}
	m.Timeout = conv.ConfigGetDuration(cfg, "timeout", def.SourceTimeout)
	return m, nil
}

func BuildFilterNode(deps *config.Deps, cfg map[string]interface{}) (pipeline.Node, error) {
	filtersConfig, ok := cfg["filters"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: filters not found or invalid", core.ErrInvalidConfig)
	}

	filters := make([]filter.Filter, 0, len(filtersConfig))
	for _, fc := range filtersConfig {
		filterMap, ok := fc.(map[string]interface{})
		if !ok {
			continue
		}
		switch filterType := conv.ConfigGet(filterMap, "type", ""); filterType {
		case "exclude":
			filters = append(filters, filter.NewExcludeFilter(conv.SliceAnyToString(filterMap["item_ids"])))

		case "seen":
			if deps.Seen == nil {
				return nil, fmt.Errorf("%w: seen filter needs a seen store", core.ErrInvalidConfig)
			}
			filters = append(filters, &filter.SeenFilter{Store: deps.Seen})

		case "bloom_seen":
			if deps.ApproxSeen == nil {
				return nil, fmt.Errorf("%w: bloom_seen filter needs an approximate seen store", core.ErrInvalidConfig)
			}
			filters = append(filters, &filter.BloomSeenFilter{Store: deps.ApproxSeen})

		case "expr":
			f, err := filter.NewExprFilter(conv.ConfigGet(filterMap, "expr", ""))
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)

		default:
			return nil, fmt.Errorf("%w: unknown filter type: %s", core.ErrInvalidConfig, filterType)
		}
	}

	return &filter.FilterNode{Filters: filters, Logger: deps.Logger}, nil
}

func BuildRecencyNode(deps *config.Deps, cfg map[string]interface{}) (pipeline.Node, error) {
	def := deps.Conf().Recency
	n := &rank.Recency{
		HalfLife: conv.ConfigGetDuration(cfg, "half_life", def.HalfLife),
		MinDecay: conv.ConfigGetFloat64(cfg, "min_decay", def.MinDecay),
	}
	if n.HalfLife <= 0 {
		return nil, fmt.Errorf("%w: half_life must be positive", core.ErrInvalidConfig)
	}
	if n.MinDecay <= 0 || n.MinDecay > 1 {
		return nil, fmt.Errorf("%w: min_decay must be in (0,1]", core.ErrInvalidConfig)
	}
	return n, nil
}

// BuildTwoStageNode 的 scorer 可选 default（deps.Scorer 或本地余弦）、embedding、rpc。
func BuildTwoStageNode(deps *config.Deps, cfg map[string]interface{}) (pipeline.Node, error) {
	def := deps.Conf().Rerank
	tie := conv.ConfigGetFloat64(cfg, "tie_margin", def.TieMargin)

	var scorer model.Scorer
	switch kind := conv.ConfigGet(cfg, "scorer", "default"); kind {
	case "", "default":
		scorer = deps.DefaultScorer()
	case "embedding":
		scorer = &model.EmbeddingScorer{TieMargin: tie}
	case "rpc":
		endpoint := conv.ConfigGet(cfg, "endpoint", "")
		if endpoint == "" {
			return nil, fmt.Errorf("%w: rpc scorer endpoint not found", core.ErrInvalidConfig)
		}
		s := model.NewRPCScorer(conv.ConfigGet(cfg, "name", "rpc"), endpoint, conv.ConfigGetDuration(cfg, "timeout", 0))
		s.TieMargin = tie
		scorer = s
	default:
		return nil, fmt.Errorf("%w: unknown scorer %q", core.ErrInvalidConfig, kind)
	}

	n := config.NewTwoStage(deps, scorer)
	n.Stage1Weight = conv.ConfigGetFloat64(cfg, "stage1_weight", def.Stage1Weight)
	n.Stage2Weight = conv.ConfigGetFloat64(cfg, "stage2_weight", def.Stage2Weight)
	n.MissingSummaryPenalty = conv.ConfigGetFloat64(cfg, "missing_summary_penalty", def.MissingSummaryPenalty)
	n.MaxAnchors = int(conv.ConfigGetInt64(cfg, "max_anchors", int64(def.MaxAnchors)))
	n.Stage1TopN = int(conv.ConfigGetInt64(cfg, "stage1_top_n", int64(def.Stage1TopN)))
	n.Concurrency = int(conv.ConfigGetInt64(cfg, "concurrency", int64(def.SummaryConcurrency)))
	return n, nil
}

func BuildMMRNode(deps *config.Deps, cfg map[string]interface{}) (pipeline.Node, error) {
	def := deps.Conf().Diversity
	n := &rerank.MMR{
		Lambda:   conv.ConfigGetFloat64(cfg, "lambda", def.Lambda),
		K:        int(conv.ConfigGetInt64(cfg, "k", 0)),
		GroupCap: int(conv.ConfigGetInt64(cfg, "group_cap", int64(def.GroupCap))),
	}
	if n.Lambda < 0 || n.Lambda > 1 {
		return nil, fmt.Errorf("%w: lambda must be in [0,1]", core.ErrInvalidConfig)
	}
	return n, nil
}

func BuildTopNNode(_ *config.Deps, cfg map[string]interface{}) (pipeline.Node, error) {
	return &rerank.TopNNode{N: int(conv.ConfigGetInt64(cfg, "n", 0))}, nil
}
