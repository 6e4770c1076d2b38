package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/logx"
	"github.com/rushteam/feedrank/pkg/metrics"
	"github.com/rushteam/feedrank/rocchio"
)

// 单个用户更新的结果。
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
)

// maxWriteAttempts 版本冲突时最多重新读取并写入的次数（首次 + 1 次重试）。
const maxWriteAttempts = 2

// UserResult 是一个用户的更新结果。
type UserResult struct {
	UserID  string
	Outcome string
	Version int64
	Result  rocchio.Result
	Err     error
}

// Report 是一次批量更新的汇总。
type Report struct {
	Processed int
	Updated   int
	Unchanged int
	Failed    int
	Conflicts int // 最终因版本冲突失败的用户数（已包含在 Failed 中）
	Skipped   int // 跳过的畸形反馈条数

	// Errors 失败用户 → 原因
	Errors map[string]error
}

func (r *Report) add(res UserResult) {
	r.Processed++
	r.Skipped += res.Result.Counts.Skipped
	switch res.Outcome {
	case OutcomeUpdated:
		r.Updated++
	case OutcomeUnchanged:
		r.Unchanged++
	default:
		r.Failed++
		if res.Outcome == OutcomeConflict {
			r.Conflicts++
		}
		if r.Errors == nil {
			r.Errors = make(map[string]error)
		}
		r.Errors[res.UserID] = res.Err
	}
}

// VectorUpdater 批量执行 Rocchio 偏好向量更新。
//
// 每个用户独立处理：读取反馈 → 读取当前向量 → 计算 → 带版本写回。
// 同一用户的更新在进程内串行；跨进程的并发写由存储的版本号兜底，
// 冲突时重新读取并重算一次，仍冲突则记为失败。单个用户失败不影响其他用户。
type VectorUpdater struct {
	Engine      *rocchio.Engine
	Preferences core.PreferenceStore
	Feedback    core.FeedbackStore
	Embeddings  core.EmbeddingLookup

	// Workers 并发处理的用户数；<= 0 时为 1
	Workers int

	// Window 未指定区间时默认回看的时间窗口
	Window time.Duration

	Metrics *metrics.Metrics
	Logger  *zerolog.Logger

	// Now 用于计算默认区间，测试中固定
	Now func() time.Time

	locks keyLock
}

// NewVectorUpdater 由配置创建 VectorUpdater。
func NewVectorUpdater(
	cfg *core.Config,
	prefs core.PreferenceStore,
	feedback core.FeedbackStore,
	embeddings core.EmbeddingLookup,
	m *metrics.Metrics,
	logger *zerolog.Logger,
) *VectorUpdater {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	return &VectorUpdater{
		Engine:      rocchio.NewEngine(rocchio.ParamsFromConfig(cfg.Rocchio), cfg.Dimension, logger),
		Preferences: prefs,
		Feedback:    feedback,
		Embeddings:  embeddings,
		Workers:     cfg.Batch.Workers,
		Window:      cfg.Batch.Window,
		Metrics:     m,
		Logger:      logger,
	}
}

// DefaultRange 返回以当前时间为终点、长度为 Window 的区间。
func (u *VectorUpdater) DefaultRange() core.DateRange {
	now := time.Now()
	if u.Now != nil {
		now = u.Now()
	}
	window := u.Window
	if window <= 0 {
		window = core.DefaultConfig().Batch.Window
	}
	return core.DateRange{Start: now.Add(-window), End: now}
}

// Run 对区间内所有有反馈的用户执行更新；区间为零值时使用 DefaultRange。
// 只有列举用户失败或 ctx 取消时返回错误，单个用户的失败记录在 Report 中。
func (u *VectorUpdater) Run(ctx context.Context, rng core.DateRange) (*Report, error) {
	if rng.Start.IsZero() && rng.End.IsZero() {
		rng = u.DefaultRange()
	}
	users, err := u.Feedback.UsersWithFeedback(ctx, rng)
	if err != nil {
		return nil, fmt.Errorf("list users with feedback: %w", err)
	}
	return u.UpdateUsers(ctx, users, rng)
}

// UpdateUsers 并发更新一组用户。
func (u *VectorUpdater) UpdateUsers(ctx context.Context, users []string, rng core.DateRange) (*Report, error) {
	log := logx.Component(u.Logger, "vector_updater")
	start := time.Now()

	workers := u.Workers
	if workers <= 0 {
		workers = 1
	}

	var (
		mu     sync.Mutex
		report = &Report{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, user := range dedupe(users) {
		user := user
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := u.UpdateUser(gctx, user, rng)
			mu.Lock()
			report.add(res)
			mu.Unlock()
			// 取消时停止派发，其余失败只记录
			if res.Err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	log.Info().
		Int("users", report.Processed).
		Int("updated", report.Updated).
		Int("unchanged", report.Unchanged).
		Int("failed", report.Failed).
		Int("conflicts", report.Conflicts).
		Int("skipped_feedback", report.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("batch update done")
	return report, nil
}

// UpdateUser 更新单个用户的偏好向量。
func (u *VectorUpdater) UpdateUser(ctx context.Context, userID string, rng core.DateRange) UserResult {
	log := logx.Component(u.Logger, "vector_updater").With().Str("user_id", userID).Logger()

	u.locks.Lock(userID)
	defer u.locks.Unlock(userID)

	res := u.update(ctx, userID, rng)
	u.Metrics.VectorUpdate(res.Outcome)
	u.Metrics.SkipFeedback(res.Result.Counts.Skipped)

	ev := log.Debug()
	if res.Err != nil {
		ev = log.Warn().Err(res.Err)
	}
	ev.Str("outcome", res.Outcome).
		Int("positive", res.Result.Counts.Positive).
		Int("negative", res.Result.Counts.Negative).
		Int("skipped", res.Result.Counts.Skipped).
		Float64("change", res.Result.ChangeMagnitude).
		Msg("user vector update")
	return res
}

func (u *VectorUpdater) update(ctx context.Context, userID string, rng core.DateRange) UserResult {
	out := UserResult{UserID: userID, Outcome: OutcomeFailed}
	if u.Engine == nil {
		out.Err = fmt.Errorf("%w: no rocchio engine", core.ErrInvalidConfig)
		return out
	}

	events, err := u.Feedback.GetFeedback(ctx, userID, rng)
	if err != nil {
		out.Err = fmt.Errorf("get feedback: %w", err)
		return out
	}

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		pv, ok, err := u.Preferences.GetVector(ctx, userID)
		if err != nil {
			out.Err = fmt.Errorf("get vector: %w", err)
			return out
		}
		var original []float64
		if ok {
			original = pv.Values
		}

		result, err := u.Engine.Apply(ctx, original, events, u.Embeddings)
		out.Result = result
		if err != nil {
			out.Err = err
			return out
		}
		if !result.Changed {
			out.Outcome = OutcomeUnchanged
			out.Version = pv.Version
			out.Err = nil
			return out
		}

		version, err := u.Preferences.SetVector(ctx, userID, result.Vector, pv.Version)
		switch {
		case err == nil:
			out.Outcome = OutcomeUpdated
			out.Version = version
			out.Err = nil
			return out
		case errors.Is(err, core.ErrVersionConflict):
			out.Outcome = OutcomeConflict
			out.Err = fmt.Errorf("set vector (attempt %d): %w", attempt, err)
			continue
		default:
			out.Outcome = OutcomeFailed
			out.Err = fmt.Errorf("set vector: %w", err)
			return out
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
