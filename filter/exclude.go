package filter

import (
	"context"

	"github.com/rushteam/feedrank/core"
)

// ExcludeFilter 过滤请求级排除列表（RankContext.Exclude）以及静态黑名单中的物品。
type ExcludeFilter struct {
	// ItemIDs 是静态黑名单物品 ID
	ItemIDs []string

	set map[string]struct{}
}

// NewExcludeFilter 创建排除过滤器。
func NewExcludeFilter(itemIDs []string) *ExcludeFilter {
	set := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		set[id] = struct{}{}
	}
	return &ExcludeFilter{ItemIDs: itemIDs, set: set}
}

func (f *ExcludeFilter) Name() string {
	return "filter.exclude"
}

func (f *ExcludeFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RankContext,
	c *core.ScoredCandidate,
) (bool, error) {
	if c == nil {
		return true, nil
	}
	if rctx.IsExcluded(c.Item.ID) {
		return true, nil
	}
	if f.set != nil {
		_, ok := f.set[c.Item.ID]
		return ok, nil
	}
	for _, id := range f.ItemIDs {
		if c.Item.ID == id {
			return true, nil
		}
	}
	return false, nil
}
