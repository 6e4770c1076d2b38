package core

import (
	"time"

	"github.com/rushteam/feedrank/pkg/utils"
)

// RankRequest 是一次排序请求的输入。
type RankRequest struct {
	UserID string
	K      int // 最终列表长度；0 使用配置默认值

	// 会话查询（可选）。非空时 Stage 1 以它代替偏好向量作为 query。
	QueryText   string
	QueryVector []float64

	// Exclude 请求级排除的物品 ID
	Exclude []string

	// Now 请求时间；零值使用 time.Now()，测试中固定以保证确定性
	Now time.Time
}

// Anchor 是 Stage 2 两两比较使用的用户历史高分物品。
type Anchor struct {
	ItemID    string
	Rating    int
	Embedding []float64
	Summary   string
	Timestamp time.Time
}

// RankContext 承载用户/请求信息，贯穿整个 Pipeline 透传。
// 各 Node 只读访问；由 engine.Ranker 在请求开始时一次性构建。
type RankContext struct {
	RequestID string
	UserID    string
	K         int
	Now       time.Time

	QueryText   string
	QueryVector []float64

	// PreferenceVector 用户偏好向量；冷启动用户为空
	PreferenceVector []float64

	// Anchors 用户历史高分物品（rating >= 4），已按确定性顺序排列
	Anchors []Anchor

	Exclude map[string]struct{}

	// Labels 是请求级标签，可驱动 Pipeline 行为（例如 partial 降级标记）
	Labels map[string]utils.Label

	// Params 请求级上下文参数，供 CEL 过滤表达式使用
	Params map[string]any
}

// Query 返回 Stage 1 使用的查询向量：会话向量优先，其次偏好向量。
func (rctx *RankContext) Query() []float64 {
	if rctx == nil {
		return nil
	}
	if len(rctx.QueryVector) > 0 {
		return rctx.QueryVector
	}
	return rctx.PreferenceVector
}

// PutLabel 写入请求级 Label。
func (rctx *RankContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取请求级 Label。
func (rctx *RankContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}

// IsExcluded 判断物品是否在请求排除列表中。
func (rctx *RankContext) IsExcluded(itemID string) bool {
	if rctx == nil || rctx.Exclude == nil {
		return false
	}
	_, ok := rctx.Exclude[itemID]
	return ok
}

// LabelPartial 标记请求降级（某一路数据源失败）。
const LabelPartial = "partial"
