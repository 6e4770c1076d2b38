package filter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pipeline"
	"github.com/rushteam/feedrank/pkg/logx"
	"github.com/rushteam/feedrank/pkg/utils"
)

// FilterNode 是过滤 Node，可以组合多个过滤器进行过滤。
// 如果任何一个过滤器返回 true，该候选就会被过滤掉。
// 过滤器自身出错时记录日志并视为不过滤，不中断请求，同时给 rctx 打上 partial 标记；ctx 取消除外。
type FilterNode struct {
	Filters []Filter
	Logger  *zerolog.Logger
}

func (n *FilterNode) Name() string {
	return "filter.node"
}

func (n *FilterNode) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *FilterNode) Process(
	ctx context.Context,
	rctx *core.RankContext,
	items []*core.ScoredCandidate,
) ([]*core.ScoredCandidate, error) {
	if len(n.Filters) == 0 || len(items) == 0 {
		return items, nil
	}
	log := logx.Component(n.Logger, n.Name())

	filters := make([]Filter, 0, len(n.Filters))
	for _, f := range n.Filters {
		p, ok := f.(Preparer)
		if !ok {
			filters = append(filters, f)
			continue
		}
		prepared, err := p.Prepare(ctx, rctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("prepare %s: %w", f.Name(), ctxErr)
			}
			log.Warn().Err(err).Str("filter", f.Name()).Msg("filter prepare failed, skipped")
			markPartial(rctx, f.Name())
			continue
		}
		filters = append(filters, prepared)
	}

	out := make([]*core.ScoredCandidate, 0, len(items))
	filtered := 0
	failed := make(map[string]bool)

	for _, c := range items {
		if c == nil {
			continue
		}

		reason := ""
		for _, f := range filters {
			ok, err := f.ShouldFilter(ctx, rctx, c)
			if err != nil {
				// 过滤器错误时记录但不中断流程
				log.Debug().Err(err).Str("filter", f.Name()).Str("item_id", c.Item.ID).Msg("filter error")
				if !failed[f.Name()] {
					failed[f.Name()] = true
					markPartial(rctx, f.Name())
				}
				continue
			}
			if ok {
				reason = f.Name()
				break
			}
		}

		if reason != "" {
			filtered++
			log.Debug().Str("item_id", c.Item.ID).Str("filter", reason).Msg("filtered")
			continue
		}
		out = append(out, c)
	}

	if filtered > 0 {
		log.Debug().Int("filtered", filtered).Int("kept", len(out)).Msg("filter done")
	}
	return out, nil
}

func markPartial(rctx *core.RankContext, filterName string) {
	if rctx != nil {
		rctx.PutLabel(core.LabelPartial, utils.Label{Value: filterName, Source: "filter"})
	}
}
