package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/rushteam/feedrank/core"
)

// MemoryVectorIndex 是内存实现的检索服务，用于测试/开发/原型。
// 平替 pgvector 等向量数据库：
//   - Search：暴力余弦相似度检索（core.VectorSearcher）
//   - SearchByText：标题词重合度检索（core.LexicalSearcher）
//
// 线程安全；同分时按 ID 升序，结果确定。
type MemoryVectorIndex struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[string][]float64
	titles    map[string][]string // item ID -> 标题分词
}

// NewMemoryVectorIndex 创建索引；dimension 为 0 时以第一条向量的维度为准。
func NewMemoryVectorIndex(dimension int) *MemoryVectorIndex {
	return &MemoryVectorIndex{
		dimension: dimension,
		vectors:   make(map[string][]float64),
		titles:    make(map[string][]string),
	}
}

func (m *MemoryVectorIndex) Name() string { return "memory_vector" }

// Insert 写入或覆盖一个物品。
func (m *MemoryVectorIndex) Insert(itemID string, vector []float64, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(vector) > 0 {
		if m.dimension == 0 {
			m.dimension = len(vector)
		}
		if len(vector) != m.dimension {
			return fmt.Errorf("%w: item %s has %d dims, index has %d", core.ErrDimensionMismatch, itemID, len(vector), m.dimension)
		}
		m.vectors[itemID] = core.CloneVector(vector)
	}
	if title != "" {
		m.titles[itemID] = tokenize(title)
	}
	return nil
}

// InsertItems 批量写入候选物品（向量与标题）。
func (m *MemoryVectorIndex) InsertItems(items ...core.CandidateItem) error {
	for _, it := range items {
		if err := m.Insert(it.ID, it.Embedding, it.Title); err != nil {
			return err
		}
	}
	return nil
}

// Delete 删除物品。
func (m *MemoryVectorIndex) Delete(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vectors, itemID)
	delete(m.titles, itemID)
}

// Search 实现 core.VectorSearcher。
func (m *MemoryVectorIndex) Search(ctx context.Context, vector []float64, topK int) ([]core.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimension != 0 && len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", core.ErrDimensionMismatch, len(vector), m.dimension)
	}

	hits := make([]core.SearchHit, 0, len(m.vectors))
	for id, v := range m.vectors {
		hits = append(hits, core.SearchHit{ID: id, Score: core.Cosine(vector, v)})
	}
	return topHits(hits, topK), nil
}

// SearchByText 实现 core.LexicalSearcher：分数为查询词在标题中出现的比例。
func (m *MemoryVectorIndex) SearchByText(ctx context.Context, query string, topK int) ([]core.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]core.SearchHit, 0)
	for id, tokens := range m.titles {
		set := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			set[t] = struct{}{}
		}
		matched := 0
		for _, t := range terms {
			if _, ok := set[t]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, core.SearchHit{ID: id, Score: float64(matched) / float64(len(terms))})
	}
	return topHits(hits, topK), nil
}

func topHits(hits []core.SearchHit, topK int) []core.SearchHit {
	if topK <= 0 {
		topK = 10
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

var (
	_ core.VectorSearcher  = (*MemoryVectorIndex)(nil)
	_ core.LexicalSearcher = (*MemoryVectorIndex)(nil)
)
