package core

import (
	"time"

	"github.com/rushteam/feedrank/pkg/utils"
)

// Provenance 标记候选物品的召回来源。
type Provenance string

const (
	ProvenanceSemantic Provenance = "semantic" // 向量语义召回
	ProvenanceLexical  Provenance = "lexical"  // 标题/文本匹配召回
	ProvenanceBoth     Provenance = "both"     // 两路均命中
)

// Union 合并两个来源标记。
func (p Provenance) Union(other Provenance) Provenance {
	switch {
	case p == "":
		return other
	case other == "" || p == other:
		return p
	default:
		return ProvenanceBoth
	}
}

// CandidateItem 是一个可排序的候选物品（例如一条视频）。
// 同一阶段输出中，同一 ID 至多出现一次。
type CandidateItem struct {
	ID          string
	Embedding   []float64
	Title       string
	Group       string // 频道 / 分组，用于多样性配额
	Topic       string
	PublishedAt time.Time // 零值表示缺失
	SummaryRef  string    // 摘要引用；为空时使用 ID 查询
	Provenance  Provenance
}

// Contribution 记录某一阶段对分数的贡献，用于 explain 与测试。
type Contribution struct {
	Stage string
	Value float64
}

// 分数贡献的阶段名称。
const (
	StageRetrieval = "retrieval"
	StageRecency   = "recency"
	StageRelevance = "stage1"
	StagePairwise  = "stage2"
	StageFinal     = "final"
)

// ScoredCandidate 是候选物品 + 可变分数 + 分数贡献链。
// Merger 创建，下游各阶段在副本上更新分数，MMR 只读消费。
type ScoredCandidate struct {
	Item          CandidateItem
	Score         float64
	Contributions []Contribution
	Labels        map[string]utils.Label
}

// NewScoredCandidate 以召回分数创建候选。
func NewScoredCandidate(item CandidateItem, score float64) *ScoredCandidate {
	return &ScoredCandidate{
		Item:          item,
		Score:         score,
		Contributions: []Contribution{{Stage: StageRetrieval, Value: score}},
		Labels:        make(map[string]utils.Label),
	}
}

// Clone 返回深拷贝，供各阶段在不修改上游输入的前提下更新分数。
// Embedding 视为只读，共享底层数组。
func (c *ScoredCandidate) Clone() *ScoredCandidate {
	if c == nil {
		return nil
	}
	out := &ScoredCandidate{
		Item:          c.Item,
		Score:         c.Score,
		Contributions: make([]Contribution, len(c.Contributions)),
		Labels:        make(map[string]utils.Label, len(c.Labels)),
	}
	copy(out.Contributions, c.Contributions)
	for k, v := range c.Labels {
		out.Labels[k] = v
	}
	return out
}

// AddContribution 追加一个阶段的分数贡献。
func (c *ScoredCandidate) AddContribution(stage string, value float64) {
	c.Contributions = append(c.Contributions, Contribution{Stage: stage, Value: value})
}

// Contribution 返回最近一次记录的指定阶段贡献。
func (c *ScoredCandidate) Contribution(stage string) (float64, bool) {
	for i := len(c.Contributions) - 1; i >= 0; i-- {
		if c.Contributions[i].Stage == stage {
			return c.Contributions[i].Value, true
		}
	}
	return 0, false
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (c *ScoredCandidate) PutLabel(key string, lbl utils.Label) {
	if c.Labels == nil {
		c.Labels = make(map[string]utils.Label)
	}
	if old, ok := c.Labels[key]; ok {
		c.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	c.Labels[key] = lbl
}

// CloneAll 拷贝整个候选列表。
func CloneAll(items []*ScoredCandidate) []*ScoredCandidate {
	out := make([]*ScoredCandidate, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		out = append(out, it.Clone())
	}
	return out
}

// FinalList 是最终推荐列表：按相关性排序、满足多样性约束、无重复 ID。
type FinalList struct {
	RequestID string
	UserID    string
	Items     []CandidateItem
	Scores    []float64
	// Partial 为 true 表示某一路召回源降级（另一路仍然成功）。
	Partial bool
}

// Len 返回列表长度。
func (l *FinalList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Items)
}
