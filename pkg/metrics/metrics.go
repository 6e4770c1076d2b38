// Package metrics 定义排序链路与向量更新的 Prometheus 指标。
//
// 指标注册在调用方传入的 prometheus.Registerer 上，避免全局注册冲突；
// 所有方法对 nil *Metrics 安全，未配置指标时直接跳过。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedrank"

// Metrics 汇总所有指标向量。
type Metrics struct {
	StageDuration    *prometheus.HistogramVec
	StageCandidates  *prometheus.HistogramVec
	StageErrors      *prometheus.CounterVec
	GatewayCalls     *prometheus.CounterVec
	GatewayRetries   *prometheus.CounterVec
	FeedbackSkipped  prometheus.Counter
	VectorUpdates    *prometheus.CounterVec
	PartialResponses prometheus.Counter
}

// New 在 reg 上注册并返回指标集合；reg 为 nil 时使用一个独立的 Registry。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node", "kind"},
		),
		StageCandidates: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_candidates",
				Help:      "Number of candidates emitted by each pipeline stage",
				Buckets:   []float64{0, 5, 10, 20, 50, 100, 200, 500},
			},
			[]string{"node", "kind"},
		),
		StageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_errors_total",
				Help:      "Total number of pipeline stage failures",
			},
			[]string{"node", "kind"},
		),
		GatewayCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_calls_total",
				Help:      "Total number of external gateway calls by outcome",
			},
			[]string{"gateway", "op", "outcome"}, // "ok", "error", "open"
		),
		GatewayRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_retries_total",
				Help:      "Total number of gateway call retries",
			},
			[]string{"gateway", "op"},
		),
		FeedbackSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feedback_skipped_total",
				Help:      "Total number of malformed feedback records skipped",
			},
		),
		VectorUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vector_updates_total",
				Help:      "Total number of preference vector updates by outcome",
			},
			[]string{"outcome"}, // "updated", "unchanged", "conflict", "failed"
		),
		PartialResponses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partial_responses_total",
				Help:      "Total number of ranking responses served from a single retrieval source",
			},
		),
	}
}

// ObserveStage 记录一个 Pipeline 节点的耗时与输出规模。
func (m *Metrics) ObserveStage(node, kind string, d time.Duration, out int, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(node, kind).Observe(d.Seconds())
	if err != nil {
		m.StageErrors.WithLabelValues(node, kind).Inc()
		return
	}
	m.StageCandidates.WithLabelValues(node, kind).Observe(float64(out))
}

// GatewayCall 记录一次外部调用结果。
func (m *Metrics) GatewayCall(gateway, op, outcome string) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(gateway, op, outcome).Inc()
}

// GatewayRetry 记录一次重试。
func (m *Metrics) GatewayRetry(gateway, op string) {
	if m == nil {
		return
	}
	m.GatewayRetries.WithLabelValues(gateway, op).Inc()
}

// SkipFeedback 累加被跳过的畸形反馈数。
func (m *Metrics) SkipFeedback(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FeedbackSkipped.Add(float64(n))
}

// VectorUpdate 记录一次用户向量更新结果。
func (m *Metrics) VectorUpdate(outcome string) {
	if m == nil {
		return
	}
	m.VectorUpdates.WithLabelValues(outcome).Inc()
}

// Partial 记录一次降级响应。
func (m *Metrics) Partial() {
	if m == nil {
		return
	}
	m.PartialResponses.Inc()
}
