package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/logx"
)

// Pipeline 把排序逻辑拆成可组合的 Node 链，按顺序执行。
//
// 执行规则：
//   - 每个 Node 执行前检查 ctx，取消时返回错误而不是截断后的结果
//   - 任一 Node 输出空列表时短路，后续 Node 不再执行，返回空列表（不是错误）
//   - Observer 非空时记录每个 Node 的耗时与输出规模
type Pipeline struct {
	Nodes    []Node
	Observer Observer
	Logger   *zerolog.Logger
}

func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RankContext,
	items []*core.ScoredCandidate,
) ([]*core.ScoredCandidate, error) {
	log := logx.Component(p.Logger, "pipeline")

	cur := items
	for _, node := range p.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("before node %s: %w", node.Name(), err)
		}

		start := time.Now()
		next, err := node.Process(ctx, rctx, cur)
		elapsed := time.Since(start)
		if p.Observer != nil {
			p.Observer.ObserveStage(node.Name(), string(node.Kind()), elapsed, len(next), err)
		}
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.Name(), err)
		}

		log.Debug().
			Str("node", node.Name()).
			Int("in", len(cur)).
			Int("out", len(next)).
			Dur("elapsed", elapsed).
			Msg("node done")

		cur = next
		if len(cur) == 0 {
			return []*core.ScoredCandidate{}, nil
		}
	}
	return cur, nil
}
