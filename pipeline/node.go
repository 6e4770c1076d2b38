package pipeline

import (
	"context"
	"time"

	"github.com/rushteam/feedrank/core"
)

// Kind 用于标记 Node 类型，方便观测/治理/编排（例如按阶段打点）。
type Kind string

const (
	KindRecall Kind = "recall" // 召回阶段：合并语义与文本召回，生成候选集
	KindFilter Kind = "filter" // 过滤阶段：剔除已看过、被排除的候选
	KindRank   Kind = "rank"   // 排序阶段：时间衰减、两阶段重排打分
	KindReRank Kind = "rerank" // 重排阶段：MMR 多样性选择、截断
)

// Node 是 Pipeline 的最小可扩展单元。
// 统一采用“输入 items -> 输出 items”的形态。
//
// 约定：Node 不修改输入切片中的候选，需要改分数时先 Clone，
// 这样每个阶段的输入都是不可变快照，便于重放与测试。
type Node interface {
	Name() string
	Kind() Kind

	Process(
		ctx context.Context,
		rctx *core.RankContext,
		items []*core.ScoredCandidate,
	) ([]*core.ScoredCandidate, error)
}

// Observer 接收每个 Node 的执行结果，用于打点（见 pkg/metrics）。
type Observer interface {
	ObserveStage(node, kind string, d time.Duration, out int, err error)
}
