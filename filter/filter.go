package filter

import (
	"context"

	"github.com/rushteam/feedrank/core"
)

// Filter 是过滤器的抽象接口，用于判断一个候选是否应该被过滤掉。
// 返回 true 表示应该过滤（移除），false 表示保留。
type Filter interface {
	// Name 返回过滤器名称
	Name() string

	// ShouldFilter 判断候选是否应该被过滤
	ShouldFilter(ctx context.Context, rctx *core.RankContext, c *core.ScoredCandidate) (bool, error)
}

// Preparer 由需要按请求预加载数据的过滤器实现（例如已看过的物品集合）。
// Node 在处理候选前调用一次 Prepare，用返回的 Filter 判断每个候选。
type Preparer interface {
	Prepare(ctx context.Context, rctx *core.RankContext) (Filter, error)
}

// FilterFunc 把函数适配为 Filter。
type FilterFunc struct {
	FilterName string
	Fn         func(rctx *core.RankContext, c *core.ScoredCandidate) bool
}

func (f FilterFunc) Name() string { return f.FilterName }

func (f FilterFunc) ShouldFilter(_ context.Context, rctx *core.RankContext, c *core.ScoredCandidate) (bool, error) {
	return f.Fn(rctx, c), nil
}
