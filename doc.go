// Package feedrank 是个性化内容流的排序与偏好向量引擎。
//
// 两条路径：
//   - 排序：合并召回（语义 + 文本）→ 过滤 → 时间衰减 → 两阶段重排 → MMR 多样性选择
//   - 批量更新：按日期区间读取用户反馈，以 Rocchio 公式更新偏好向量，带版本号写回
//
// 设计要点：
//   - Pipeline-first: 排序逻辑通过 Node 串联，可用 YAML 配置（见 config/builders）
//   - 节点不修改输入候选，结果只由输入与配置决定
//   - 外部依赖通过 core 中的窄接口注入，gateway 统一超时、重试与熔断
package feedrank

import (
	"github.com/rushteam/feedrank/engine"
	"github.com/rushteam/feedrank/pipeline"
)

// 轻量 facade：便于直接 import "feedrank" 使用核心抽象。
type (
	Pipeline      = pipeline.Pipeline
	Node          = pipeline.Node
	Kind          = pipeline.Kind
	Ranker        = engine.Ranker
	VectorUpdater = engine.VectorUpdater
)

const (
	KindRecall = pipeline.KindRecall
	KindFilter = pipeline.KindFilter
	KindRank   = pipeline.KindRank
	KindReRank = pipeline.KindReRank
)
