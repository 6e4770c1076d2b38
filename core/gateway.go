package core

import "context"

// 本文件定义排序与向量更新所依赖的外部能力（领域接口）。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store / vector / gateway）实现
//   - 遵循依赖倒置原则：领域层定义接口，基础设施层实现接口
//   - 接口保持窄：每个接口只描述一种能力，便于在测试中替换为确定性实现
//
// 实现：
//   - store.MemoryStore / store.MemoryVectorIndex（内存实现，测试/开发）
//   - store.RedisStore（偏好向量、反馈、摘要、向量）
//   - vector.PGStore（pgvector 语义检索、全文检索、向量批量查询）
//   - gateway.Resilient（超时 / 重试 / 熔断包装）

// SearchHit 是检索结果项（按分数降序）。
type SearchHit struct {
	ID    string
	Score float64
}

// VectorSearcher 向量相似度检索：search(query_vector, top_k)。
type VectorSearcher interface {
	Search(ctx context.Context, vector []float64, topK int) ([]SearchHit, error)
}

// LexicalSearcher 标题/文本检索：search_by_text(query_text, top_k)。
type LexicalSearcher interface {
	SearchByText(ctx context.Context, query string, topK int) ([]SearchHit, error)
}

// EmbeddingLookup 批量获取物品向量；缺失的 ID 不出现在返回 map 中。
type EmbeddingLookup interface {
	GetEmbeddings(ctx context.Context, itemIDs []string) (map[string][]float64, error)
}

// ItemLookup 批量获取候选物品元数据（标题、频道、发布时间等）。
// 返回的 CandidateItem 可以携带 Embedding；缺失的 ID 不出现在返回 map 中。
type ItemLookup interface {
	GetItems(ctx context.Context, itemIDs []string) (map[string]CandidateItem, error)
}

// SummaryLookup 获取物品的抽取式摘要；不存在时 ok 为 false。
type SummaryLookup interface {
	GetSummary(ctx context.Context, itemID string) (summary string, ok bool, err error)
}

// PreferenceStore 用户偏好向量存储。
//
// SetVector 以 expectedVersion 做比较并交换：存储中的版本与 expectedVersion 不一致时
// 返回 ErrVersionConflict。expectedVersion 为 0 表示期望该用户尚无向量（冷启动）。
type PreferenceStore interface {
	GetVector(ctx context.Context, userID string) (vec PreferenceVector, ok bool, err error)
	SetVector(ctx context.Context, userID string, values []float64, expectedVersion int64) (newVersion int64, err error)
}

// FeedbackStore 用户反馈存储。
type FeedbackStore interface {
	// GetFeedback 获取用户在区间内的反馈记录
	GetFeedback(ctx context.Context, userID string, r DateRange) ([]FeedbackEvent, error)

	// UsersWithFeedback 返回区间内有反馈的用户 ID（批量更新入口）
	UsersWithFeedback(ctx context.Context, r DateRange) ([]string, error)
}

// SeenStore 用户已消费（已观看 / 已推送）物品集合。
type SeenStore interface {
	SeenItems(ctx context.Context, userID string) ([]string, error)
}

// ItemSet 是只读的物品集合。
type ItemSet interface {
	Contains(itemID string) bool
}

// ApproxSeenStore 近似的已看过集合（布隆过滤器）：可能把没看过的判为看过，不会漏判。
// 用户量大、SeenStore 全量读取代价高时替代 SeenStore。
type ApproxSeenStore interface {
	LoadSeen(ctx context.Context, userID string) (ItemSet, error)
}
