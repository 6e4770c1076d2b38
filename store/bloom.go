package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"

	"github.com/rushteam/feedrank/core"
)

// BloomSeen 把每个用户已看过的物品存成 Redis 中的布隆过滤器：{p}:seen_bloom:{user}。
//
// 使用方式：
//
//	bs := store.NewBloomSeen(rs, 100000, 0.01, 30*24*time.Hour)
//	_ = bs.MarkSeen(ctx, "alice", "v1", "v2")
//	f := &filter.BloomSeenFilter{Store: bs}
type BloomSeen struct {
	client *redis.Client
	prefix string

	// capacity 预期元素数量，falsePositiveRate 期望误判率（例如 0.01）
	capacity          uint
	falsePositiveRate float64

	// ttl 为 0 表示不过期；每次写入刷新
	ttl time.Duration
}

// NewBloomSeen 复用 RedisStore 的客户端与前缀。
func NewBloomSeen(rs *RedisStore, capacity uint, falsePositiveRate float64, ttl time.Duration) *BloomSeen {
	return &BloomSeen{
		client:            rs.client,
		prefix:            rs.prefix,
		capacity:          capacity,
		falsePositiveRate: falsePositiveRate,
		ttl:               ttl,
	}
}

func (b *BloomSeen) key(userID string) string {
	return b.prefix + ":seen_bloom:" + userID
}

func (b *BloomSeen) newFilter() *bloom.BloomFilter {
	return bloom.NewWithEstimates(b.capacity, b.falsePositiveRate)
}

func (b *BloomSeen) decode(data []byte) (*bloom.BloomFilter, error) {
	bf := b.newFilter()
	if _, err := bf.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decode bloom filter: %w", err)
	}
	return bf, nil
}

// LoadSeen 实现 core.ApproxSeenStore；用户没有记录时返回空集合。
func (b *BloomSeen) LoadSeen(ctx context.Context, userID string) (core.ItemSet, error) {
	data, err := b.client.Get(ctx, b.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return bloomSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bloom filter: %w", err)
	}
	bf, err := b.decode(data)
	if err != nil {
		return nil, err
	}
	return bloomSet{bf: bf}, nil
}

// MarkSeen 把物品加入用户的布隆过滤器。WATCH 保证并发写入不丢元素。
func (b *BloomSeen) MarkSeen(ctx context.Context, userID string, itemIDs ...string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	key := b.key(userID)
	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		bf := b.newFilter()
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if bf, err = b.decode(data); err != nil {
				return err
			}
		}
		for _, id := range itemIDs {
			bf.AddString(id)
		}

		var buf bytes.Buffer
		if _, err := bf.WriteTo(&buf); err != nil {
			return fmt.Errorf("encode bloom filter: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf.Bytes(), b.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("mark seen for %s: %w", userID, core.ErrVersionConflict)
	}
	return err
}

type bloomSet struct {
	bf *bloom.BloomFilter
}

func (s bloomSet) Contains(itemID string) bool {
	return s.bf != nil && s.bf.TestString(itemID)
}

var _ core.ApproxSeenStore = (*BloomSeen)(nil)
