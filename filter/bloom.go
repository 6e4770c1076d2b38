package filter

import (
	"context"

	"github.com/rushteam/feedrank/core"
)

// BloomSeenFilter 用近似集合过滤已看过的物品，少量没看过的物品会被误过滤。
type BloomSeenFilter struct {
	Store core.ApproxSeenStore
}

func (f *BloomSeenFilter) Name() string {
	return "filter.bloom_seen"
}

// Prepare 每个请求加载一次用户的集合。
func (f *BloomSeenFilter) Prepare(ctx context.Context, rctx *core.RankContext) (Filter, error) {
	if f.Store == nil || rctx == nil || rctx.UserID == "" {
		return setFilter{name: f.Name()}, nil
	}
	set, err := f.Store.LoadSeen(ctx, rctx.UserID)
	if err != nil {
		return nil, err
	}
	return setFilter{name: f.Name(), set: set}, nil
}

func (f *BloomSeenFilter) ShouldFilter(ctx context.Context, rctx *core.RankContext, c *core.ScoredCandidate) (bool, error) {
	prepared, err := f.Prepare(ctx, rctx)
	if err != nil {
		return false, err
	}
	return prepared.ShouldFilter(ctx, rctx, c)
}

type setFilter struct {
	name string
	set  core.ItemSet
}

func (s setFilter) Name() string { return s.name }

func (s setFilter) ShouldFilter(_ context.Context, _ *core.RankContext, c *core.ScoredCandidate) (bool, error) {
	return s.set != nil && s.set.Contains(c.Item.ID), nil
}
