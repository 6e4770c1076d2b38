package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/feedrank/core"
)

// MemoryStore 是内存实现的存储，用于测试/开发/原型，进程重启后数据丢失。
//
// 同时实现：
//   - core.PreferenceStore（带版本号的 CAS 写入）
//   - core.FeedbackStore
//   - core.ItemLookup / core.EmbeddingLookup / core.SummaryLookup
//   - core.SeenStore
type MemoryStore struct {
	mu        sync.RWMutex
	vectors   map[string]core.PreferenceVector
	feedback  map[string][]core.FeedbackEvent
	items     map[string]core.CandidateItem
	summaries map[string]string
	seen      map[string]map[string]struct{}

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vectors:   make(map[string]core.PreferenceVector),
		feedback:  make(map[string][]core.FeedbackEvent),
		items:     make(map[string]core.CandidateItem),
		summaries: make(map[string]string),
		seen:      make(map[string]map[string]struct{}),
		now:       time.Now,
	}
}

func (m *MemoryStore) Name() string { return "memory" }

// GetVector 读取用户偏好向量（返回拷贝）。
func (m *MemoryStore) GetVector(_ context.Context, userID string) (core.PreferenceVector, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vectors[userID]
	if !ok {
		return core.PreferenceVector{}, false, nil
	}
	v.Values = core.CloneVector(v.Values)
	return v, true, nil
}

// SetVector 以 expectedVersion 比较并交换。
func (m *MemoryStore) SetVector(_ context.Context, userID string, values []float64, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.vectors[userID] // 不存在时 Version 为 0
	if cur.Version != expectedVersion {
		return 0, core.ErrVersionConflict
	}
	next := core.PreferenceVector{
		UserID:    userID,
		Values:    core.CloneVector(values),
		Version:   cur.Version + 1,
		UpdatedAt: m.now(),
	}
	m.vectors[userID] = next
	return next.Version, nil
}

// AddFeedback 追加反馈记录（不做校验，畸形记录由消费方跳过）。
func (m *MemoryStore) AddFeedback(events ...core.FeedbackEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range events {
		m.feedback[e.UserID] = append(m.feedback[e.UserID], e)
	}
}

// GetFeedback 返回区间内的反馈，按时间升序。
func (m *MemoryStore) GetFeedback(_ context.Context, userID string, r core.DateRange) ([]core.FeedbackEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []core.FeedbackEvent
	for _, e := range m.feedback[userID] {
		if r.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// UsersWithFeedback 返回区间内有反馈的用户，按 ID 排序。
func (m *MemoryStore) UsersWithFeedback(_ context.Context, r core.DateRange) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []string
	for user, events := range m.feedback {
		for _, e := range events {
			if r.Contains(e.Timestamp) {
				users = append(users, user)
				break
			}
		}
	}
	sort.Strings(users)
	return users, nil
}

// PutItem 写入物品元数据。
func (m *MemoryStore) PutItem(items ...core.CandidateItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range items {
		m.items[it.ID] = it
	}
}

func (m *MemoryStore) GetItems(_ context.Context, itemIDs []string) (map[string]core.CandidateItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]core.CandidateItem, len(itemIDs))
	for _, id := range itemIDs {
		if it, ok := m.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

func (m *MemoryStore) GetEmbeddings(_ context.Context, itemIDs []string) (map[string][]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]float64, len(itemIDs))
	for _, id := range itemIDs {
		if it, ok := m.items[id]; ok && len(it.Embedding) > 0 {
			out[id] = it.Embedding
		}
	}
	return out, nil
}

// PutSummary 写入物品摘要。
func (m *MemoryStore) PutSummary(itemID, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[itemID] = summary
}

func (m *MemoryStore) GetSummary(_ context.Context, itemID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[itemID]
	return s, ok, nil
}

// MarkSeen 记录用户已看过的物品。
func (m *MemoryStore) MarkSeen(userID string, itemIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.seen[userID]
	if !ok {
		set = make(map[string]struct{})
		m.seen[userID] = set
	}
	for _, id := range itemIDs {
		set[id] = struct{}{}
	}
}

func (m *MemoryStore) SeenItems(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.seen[userID]))
	for id := range m.seen[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

var (
	_ core.PreferenceStore = (*MemoryStore)(nil)
	_ core.FeedbackStore   = (*MemoryStore)(nil)
	_ core.ItemLookup      = (*MemoryStore)(nil)
	_ core.EmbeddingLookup = (*MemoryStore)(nil)
	_ core.SummaryLookup   = (*MemoryStore)(nil)
	_ core.SeenStore       = (*MemoryStore)(nil)
)
