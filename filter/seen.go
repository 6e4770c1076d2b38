package filter

import (
	"context"

	"github.com/rushteam/feedrank/core"
)

// SeenFilter 过滤用户已经看过（已消费）的物品。
// 每个请求只读取一次 SeenStore。
type SeenFilter struct {
	Store core.SeenStore
}

func (f *SeenFilter) Name() string {
	return "filter.seen"
}

// Prepare 读取用户已看过的物品集合。
func (f *SeenFilter) Prepare(ctx context.Context, rctx *core.RankContext) (Filter, error) {
	set := seenSet{}
	if f.Store == nil || rctx == nil || rctx.UserID == "" {
		return set, nil
	}
	ids, err := f.Store.SeenItems(ctx, rctx.UserID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// ShouldFilter 未经 Prepare 时逐个查询，供单独使用。
func (f *SeenFilter) ShouldFilter(ctx context.Context, rctx *core.RankContext, c *core.ScoredCandidate) (bool, error) {
	prepared, err := f.Prepare(ctx, rctx)
	if err != nil {
		return false, err
	}
	return prepared.ShouldFilter(ctx, rctx, c)
}

type seenSet map[string]struct{}

func (s seenSet) Name() string { return "filter.seen" }

func (s seenSet) ShouldFilter(_ context.Context, _ *core.RankContext, c *core.ScoredCandidate) (bool, error) {
	_, ok := s[c.Item.ID]
	return ok, nil
}
