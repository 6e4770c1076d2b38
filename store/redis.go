package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/logx"
	"github.com/rushteam/feedrank/pkg/metrics"
)

// RedisStore 是 Redis 实现的存储，生产环境常用。
//
// Key 布局（{p} 为前缀）：
//   - {p}:pref:{user}   HASH  values(JSON) / version / updated_at   偏好向量，WATCH/MULTI 实现 CAS
//   - {p}:fb:{user}     ZSET  score=毫秒时间戳, member=反馈 JSON
//   - {p}:fb_users      SET   有反馈的用户
//   - {p}:item:{id}     STRING 物品元数据 JSON（含向量）
//   - {p}:summary       HASH  item → 摘要
//   - {p}:seen:{user}   SET   已看过的物品
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time

	// 无法解码的反馈记录计入 Metrics.FeedbackSkipped 并打 warn 日志
	Metrics *metrics.Metrics
	Logger  *zerolog.Logger
}

func NewRedisStore(addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(client, "feedrank"), nil
}

// NewRedisStoreWithClient 使用已有客户端创建存储。
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "feedrank"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

type storedVector struct {
	Values []float64 `json:"values"`
}

func (r *RedisStore) GetVector(ctx context.Context, userID string) (core.PreferenceVector, bool, error) {
	vals, err := r.client.HGetAll(ctx, r.key("pref", userID)).Result()
	if err != nil {
		return core.PreferenceVector{}, false, err
	}
	if len(vals) == 0 {
		return core.PreferenceVector{}, false, nil
	}

	var sv storedVector
	if err := json.Unmarshal([]byte(vals["values"]), &sv); err != nil {
		return core.PreferenceVector{}, false, fmt.Errorf("decode vector for %s: %w", userID, err)
	}
	version, err := strconv.ParseInt(vals["version"], 10, 64)
	if err != nil {
		return core.PreferenceVector{}, false, fmt.Errorf("decode version for %s: %w", userID, err)
	}
	pv := core.PreferenceVector{UserID: userID, Values: sv.Values, Version: version}
	if ts, err := strconv.ParseInt(vals["updated_at"], 10, 64); err == nil {
		pv.UpdatedAt = time.UnixMilli(ts)
	}
	return pv, true, nil
}

// SetVector 通过 WATCH/MULTI 比较版本并写入；版本不符或事务被打断时返回 core.ErrVersionConflict。
func (r *RedisStore) SetVector(ctx context.Context, userID string, values []float64, expectedVersion int64) (int64, error) {
	key := r.key("pref", userID)
	data, err := json.Marshal(storedVector{Values: values})
	if err != nil {
		return 0, fmt.Errorf("encode vector: %w", err)
	}

	var next int64
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "version").Int64()
		if errors.Is(err, redis.Nil) {
			cur = 0
		} else if err != nil {
			return err
		}
		if cur != expectedVersion {
			return core.ErrVersionConflict
		}
		next = cur + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"values", data,
				"version", next,
				"updated_at", r.now().UnixMilli(),
			)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, redis.TxFailedErr):
		return 0, core.ErrVersionConflict
	default:
		return 0, err
	}
}

// AddFeedback 写入反馈记录。
func (r *RedisStore) AddFeedback(ctx context.Context, events ...core.FeedbackEvent) error {
	pipe := r.client.Pipeline()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode feedback: %w", err)
		}
		score := float64(e.Timestamp.UnixMilli())
		pipe.ZAdd(ctx, r.key("fb", e.UserID), redis.Z{Score: score, Member: string(data)})
		pipe.SAdd(ctx, r.key("fb_users"), e.UserID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func scoreRange(rg core.DateRange) *redis.ZRangeBy {
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !rg.Start.IsZero() {
		by.Min = strconv.FormatInt(rg.Start.UnixMilli(), 10)
	}
	if !rg.End.IsZero() {
		by.Max = "(" + strconv.FormatInt(rg.End.UnixMilli(), 10)
	}
	return by
}

// GetFeedback 返回区间内的反馈，按时间升序；无法解码的记录跳过并计数。
func (r *RedisStore) GetFeedback(ctx context.Context, userID string, rg core.DateRange) ([]core.FeedbackEvent, error) {
	members, err := r.client.ZRangeByScore(ctx, r.key("fb", userID), scoreRange(rg)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]core.FeedbackEvent, 0, len(members))
	skipped := 0
	for _, m := range members {
		var e core.FeedbackEvent
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			skipped++
			log := logx.Component(r.Logger, "redis_store")
			log.Warn().Err(err).
				Str("user_id", userID).
				Int("bytes", len(m)).
				Msg("malformed feedback record skipped")
			continue
		}
		out = append(out, e)
	}
	r.Metrics.SkipFeedback(skipped)
	return out, nil
}

// UsersWithFeedback 返回区间内有反馈的用户，按 ID 排序。
func (r *RedisStore) UsersWithFeedback(ctx context.Context, rg core.DateRange) ([]string, error) {
	candidates, err := r.client.SMembers(ctx, r.key("fb_users")).Result()
	if err != nil {
		return nil, err
	}

	sr := scoreRange(rg)
	pipe := r.client.Pipeline()
	counts := make([]*redis.IntCmd, len(candidates))
	for i, user := range candidates {
		counts[i] = pipe.ZCount(ctx, r.key("fb", user), sr.Min, sr.Max)
	}
	if len(candidates) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	users := make([]string, 0, len(candidates))
	for i, user := range candidates {
		if counts[i].Val() > 0 {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users, nil
}

// PutItems 写入物品元数据。
func (r *RedisStore) PutItems(ctx context.Context, items ...core.CandidateItem) error {
	pipe := r.client.Pipeline()
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode item %s: %w", it.ID, err)
		}
		pipe.Set(ctx, r.key("item", it.ID), data, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetItems(ctx context.Context, itemIDs []string) (map[string]core.CandidateItem, error) {
	out := make(map[string]core.CandidateItem, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = r.key("item", id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var it core.CandidateItem
		if err := json.Unmarshal([]byte(s), &it); err != nil {
			continue
		}
		it.ID = itemIDs[i]
		out[itemIDs[i]] = it
	}
	return out, nil
}

func (r *RedisStore) GetEmbeddings(ctx context.Context, itemIDs []string) (map[string][]float64, error) {
	items, err := r.GetItems(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float64, len(items))
	for id, it := range items {
		if len(it.Embedding) > 0 {
			out[id] = it.Embedding
		}
	}
	return out, nil
}

// PutSummary 写入物品摘要。
func (r *RedisStore) PutSummary(ctx context.Context, itemID, summary string) error {
	return r.client.HSet(ctx, r.key("summary"), itemID, summary).Err()
}

func (r *RedisStore) GetSummary(ctx context.Context, itemID string) (string, bool, error) {
	s, err := r.client.HGet(ctx, r.key("summary"), itemID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

// MarkSeen 记录用户已看过的物品。
func (r *RedisStore) MarkSeen(ctx context.Context, userID string, itemIDs ...string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	members := make([]any, len(itemIDs))
	for i, id := range itemIDs {
		members[i] = id
	}
	return r.client.SAdd(ctx, r.key("seen", userID), members...).Err()
}

func (r *RedisStore) SeenItems(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.key("seen", userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

var (
	_ core.PreferenceStore = (*RedisStore)(nil)
	_ core.FeedbackStore   = (*RedisStore)(nil)
	_ core.ItemLookup      = (*RedisStore)(nil)
	_ core.EmbeddingLookup = (*RedisStore)(nil)
	_ core.SummaryLookup   = (*RedisStore)(nil)
	_ core.SeenStore       = (*RedisStore)(nil)
)
