package store

import (
	"context"
	"sync"
	"time"

	"github.com/rushteam/feedrank/core"
)

// CachedLookup 在远端 SummaryLookup / EmbeddingLookup 前加一层进程内缓存，
// 过期淘汰 + 超出容量时淘汰最久未访问的条目。
//
// 只缓存命中结果；查询失败与不存在的 ID 不缓存。
type CachedLookup struct {
	Summaries  core.SummaryLookup
	Embeddings core.EmbeddingLookup

	mu         sync.Mutex
	summaries  map[string]*cacheEntry[string]
	embeddings map[string]*cacheEntry[[]float64]
	maxSize    int
	ttl        time.Duration
	now        func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

type cacheEntry[T any] struct {
	value      T
	expireTime time.Time
	accessTime time.Time
}

// NewCachedLookup 创建缓存；maxSize 为每类数据的最大条目数，cleanup > 0 时后台定期清理过期条目。
func NewCachedLookup(summaries core.SummaryLookup, embeddings core.EmbeddingLookup, maxSize int, ttl, cleanup time.Duration) *CachedLookup {
	c := &CachedLookup{
		Summaries:  summaries,
		Embeddings: embeddings,
		summaries:  make(map[string]*cacheEntry[string]),
		embeddings: make(map[string]*cacheEntry[[]float64]),
		maxSize:    maxSize,
		ttl:        ttl,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if cleanup > 0 {
		c.ticker = time.NewTicker(cleanup)
		go c.cleanup()
	}
	return c
}

// Close 停止后台清理。
func (c *CachedLookup) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *CachedLookup) cleanup() {
	defer c.ticker.Stop()
	for {
		select {
		case <-c.ticker.C:
			c.mu.Lock()
			now := c.now()
			dropExpired(c.summaries, now)
			dropExpired(c.embeddings, now)
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// GetSummary 实现 core.SummaryLookup。
func (c *CachedLookup) GetSummary(ctx context.Context, itemID string) (string, bool, error) {
	c.mu.Lock()
	if e, ok := lookup(c.summaries, itemID, c.now()); ok {
		c.mu.Unlock()
		return e, true, nil
	}
	c.mu.Unlock()

	if c.Summaries == nil {
		return "", false, nil
	}
	s, ok, err := c.Summaries.GetSummary(ctx, itemID)
	if err != nil || !ok {
		return s, ok, err
	}
	c.mu.Lock()
	put(c.summaries, itemID, s, c.now(), c.ttl, c.maxSize)
	c.mu.Unlock()
	return s, true, nil
}

// GetEmbeddings 实现 core.EmbeddingLookup，只向下游查询未命中的 ID。
func (c *CachedLookup) GetEmbeddings(ctx context.Context, itemIDs []string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(itemIDs))
	var missing []string

	c.mu.Lock()
	now := c.now()
	for _, id := range itemIDs {
		if v, ok := lookup(c.embeddings, id, now); ok {
			out[id] = core.CloneVector(v)
		} else {
			missing = append(missing, id)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 || c.Embeddings == nil {
		return out, nil
	}
	fetched, err := c.Embeddings.GetEmbeddings(ctx, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	now = c.now()
	for id, v := range fetched {
		out[id] = v
		put(c.embeddings, id, core.CloneVector(v), now, c.ttl, c.maxSize)
	}
	c.mu.Unlock()
	return out, nil
}

// Len 返回当前缓存的摘要数与向量数。
func (c *CachedLookup) Len() (summaries, embeddings int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.summaries), len(c.embeddings)
}

func lookup[T any](m map[string]*cacheEntry[T], key string, now time.Time) (T, bool) {
	e, ok := m[key]
	if !ok {
		var zero T
		return zero, false
	}
	if now.After(e.expireTime) {
		delete(m, key)
		var zero T
		return zero, false
	}
	e.accessTime = now
	return e.value, true
}

func put[T any](m map[string]*cacheEntry[T], key string, v T, now time.Time, ttl time.Duration, maxSize int) {
	m[key] = &cacheEntry[T]{value: v, expireTime: now.Add(ttl), accessTime: now}
	if maxSize <= 0 {
		return
	}
	for len(m) > maxSize {
		evictLRU(m)
	}
}

func evictLRU[T any](m map[string]*cacheEntry[T]) {
	var (
		oldestKey  string
		oldestTime time.Time
		first      = true
	)
	for k, e := range m {
		if first || e.accessTime.Before(oldestTime) || (e.accessTime.Equal(oldestTime) && k < oldestKey) {
			oldestKey, oldestTime, first = k, e.accessTime, false
		}
	}
	delete(m, oldestKey)
}

func dropExpired[T any](m map[string]*cacheEntry[T], now time.Time) {
	for k, e := range m {
		if now.After(e.expireTime) {
			delete(m, k)
		}
	}
}

var (
	_ core.SummaryLookup   = (*CachedLookup)(nil)
	_ core.EmbeddingLookup = (*CachedLookup)(nil)
)
