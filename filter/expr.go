package filter

import (
	"context"
	"fmt"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/dsl"
)

// ExprFilter 使用 CEL 表达式过滤候选：表达式为 true 时移除。
//
// 示例：
//   - `item.topic == "shorts"`
//   - `item.group in ["spam_a", "spam_b"]`
//   - `item.age_hours > 24.0 * 365.0`
type ExprFilter struct {
	prg *dsl.Program
}

// NewExprFilter 编译表达式并创建过滤器。
func NewExprFilter(expr string) (*ExprFilter, error) {
	prg, err := dsl.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: filter expr %q: %v", core.ErrInvalidConfig, expr, err)
	}
	return &ExprFilter{prg: prg}, nil
}

func (f *ExprFilter) Name() string {
	return "filter.expr"
}

// Expr 返回原始表达式。
func (f *ExprFilter) Expr() string { return f.prg.String() }

func (f *ExprFilter) ShouldFilter(_ context.Context, rctx *core.RankContext, c *core.ScoredCandidate) (bool, error) {
	return f.prg.Eval(c, rctx)
}
