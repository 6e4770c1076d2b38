// Package gateway 为外部依赖（向量检索、元数据、摘要、偏好向量、反馈存储）的调用
// 提供统一的超时、有界指数退避重试、熔断与限流。
//
// 重试耗尽或熔断打开时返回 core.ErrUnavailable；ctx 取消直接返回，不重试。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pkg/logx"
	"github.com/rushteam/feedrank/pkg/metrics"
)

// Resilient 包装一个外部依赖的所有调用。每个实例持有独立的熔断器与限流器。
type Resilient struct {
	name    string
	cfg     core.GatewayConfig
	breaker *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Option 配置 Resilient。
type Option func(*Resilient)

// WithMetrics 设置指标。
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resilient) { r.metrics = m }
}

// WithLogger 设置日志。
func WithLogger(l *zerolog.Logger) Option {
	return func(r *Resilient) { r.logger = logx.Component(l, "gateway").With().Str("gateway", r.name).Logger() }
}

// New 创建 Resilient。cfg 中为 0 的字段使用默认值。
func New(name string, cfg core.GatewayConfig, opts ...Option) *Resilient {
	def := core.DefaultConfig().Gateway
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}

	r := &Resilient{name: name, cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}

	failures := cfg.BreakerFailures
	r.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    name,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return r
}

// Name 返回依赖名称。
func (r *Resilient) Name() string { return r.name }

// State 返回熔断器状态（closed / half-open / open）。
func (r *Resilient) State() string { return r.breaker.State().String() }

// Do 以超时、重试、熔断、限流执行 fn。
func Do[T any](ctx context.Context, r *Resilient, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result  T
		attempt int
	)

	operation := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		_, err := r.breaker.Execute(func() (any, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
			v, err := fn(callCtx)
			if err != nil {
				return nil, err
			}
			result = v
			return nil, nil
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			r.metrics.GatewayCall(r.name, op, "open")
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case !retryable(err):
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		r.metrics.GatewayRetry(r.name, op)
		r.logger.Debug().Err(err).Str("op", op).Int("attempt", attempt).Dur("wait", wait).Msg("retrying")
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		r.metrics.GatewayCall(r.name, op, "ok")
		return result, nil
	}

	var zero T
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, fmt.Errorf("%s %s: %w", r.name, op, ctxErr)
	}
	if isBreakerErr(err) {
		r.logger.Warn().Err(err).Str("op", op).Msg("circuit open")
		return zero, fmt.Errorf("%w: %s %s: %v", core.ErrUnavailable, r.name, op, err)
	}
	r.metrics.GatewayCall(r.name, op, "error")
	if !retryable(err) {
		return zero, err
	}
	r.logger.Warn().Err(err).Str("op", op).Int("attempts", attempt).Msg("gateway unavailable")
	return zero, fmt.Errorf("%w: %s %s after %d attempts: %v", core.ErrUnavailable, r.name, op, attempt, err)
}

func isBreakerErr(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// retryable 判断错误是否值得重试。业务语义错误（版本冲突、非法输入、不存在）不重试，也不计入熔断。
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if de := core.GetDomainError(err); de != nil {
		switch de.Code {
		case core.ErrorCodeVersionConflict, core.ErrorCodeInvalidInput, core.ErrorCodeNotFound, core.ErrorCodeNotSupported:
			return false
		}
	}
	return true
}
