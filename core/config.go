package core

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config 集中管理排序与向量更新的全部参数（α、β、γ、λ、半衰期、配额等），
// 显式传入各组件。DefaultConfig 给出默认值。
type Config struct {
	// Dimension 向量维度；0 表示不强制校验
	Dimension int `yaml:"dimension" validate:"gte=0"`

	Ranking   RankingConfig   `yaml:"ranking"`
	Merge     MergeConfig     `yaml:"merge"`
	Recency   RecencyConfig   `yaml:"recency"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Diversity DiversityConfig `yaml:"diversity"`
	Rocchio   RocchioConfig   `yaml:"rocchio"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Batch     BatchConfig     `yaml:"batch"`
}

// RankingConfig 请求级限制。
type RankingConfig struct {
	DefaultK int `yaml:"default_k" validate:"gt=0"`
	MaxK     int `yaml:"max_k" validate:"gtefield=DefaultK"`

	// AnchorLookback 读取 Stage 2 锚点时回看的反馈时间窗口
	AnchorLookback time.Duration `yaml:"anchor_lookback" validate:"gte=0"`
}

// Fusion 两路召回的分数融合方式。
type Fusion string

const (
	FusionMax      Fusion = "max"
	FusionWeighted Fusion = "weighted"
)

// MergeConfig 候选合并参数。
type MergeConfig struct {
	SemanticTopN int    `yaml:"semantic_top_n" validate:"gte=0"`
	LexicalTopM  int    `yaml:"lexical_top_m" validate:"gte=0"`
	Fusion       Fusion `yaml:"fusion" validate:"oneof=max weighted"`

	// 加权融合权重（仅 Fusion=weighted 生效）
	SemanticWeight float64 `yaml:"semantic_weight" validate:"gte=0"`
	LexicalWeight  float64 `yaml:"lexical_weight" validate:"gte=0"`

	// 语义分数的取值范围，用于归一化到 [0,1]（余弦默认 [-1,1]）
	SemanticMin float64 `yaml:"semantic_min"`
	SemanticMax float64 `yaml:"semantic_max" validate:"gtfield=SemanticMin"`

	// SourceTimeout 单路召回超时
	SourceTimeout time.Duration `yaml:"source_timeout" validate:"gte=0"`
}

// RecencyConfig 时间衰减参数：decay(age) = 0.5^(age/HalfLife)，不低于 MinDecay。
type RecencyConfig struct {
	HalfLife time.Duration `yaml:"half_life" validate:"gt=0"`
	MinDecay float64       `yaml:"min_decay" validate:"gt=0,lte=1"`
}

// RerankConfig 两阶段重排参数。
type RerankConfig struct {
	Stage1Weight float64 `yaml:"stage1_weight" validate:"gte=0"`
	Stage2Weight float64 `yaml:"stage2_weight" validate:"gte=0"`

	// MissingSummaryPenalty 摘要缺失、回退到原始向量打分时扣减的分数
	MissingSummaryPenalty float64 `yaml:"missing_summary_penalty" validate:"gte=0"`

	// MaxAnchors P：Stage 2 最多使用的历史高分锚点数
	MaxAnchors int `yaml:"max_anchors" validate:"gte=0"`

	// AnchorMinRating 锚点最低评分
	AnchorMinRating int `yaml:"anchor_min_rating" validate:"gte=1,lte=5"`

	// Stage1TopN Stage 1 后保留的候选数；0 表示不截断
	Stage1TopN int `yaml:"stage1_top_n" validate:"gte=0"`

	// TieMargin 两两比较时分差小于该值视为平局
	TieMargin float64 `yaml:"tie_margin" validate:"gte=0"`

	// SummaryConcurrency 并发获取摘要的上限
	SummaryConcurrency int `yaml:"summary_concurrency" validate:"gt=0"`
}

// DiversityConfig MMR 多样性参数。
type DiversityConfig struct {
	Lambda   float64 `yaml:"lambda" validate:"gte=0,lte=1"`
	GroupCap int     `yaml:"group_cap" validate:"gte=0"` // 0 表示不限制
}

// RocchioConfig Rocchio 向量更新参数。
type RocchioConfig struct {
	Alpha float64 `yaml:"alpha" validate:"gte=0"`
	Beta  float64 `yaml:"beta" validate:"gte=0"`
	Gamma float64 `yaml:"gamma" validate:"gte=0"`

	// RatingWeights 评分 → 权重（强度比极性更重要，因此对称）
	RatingWeights map[int]float64 `yaml:"rating_weights"`

	// ClickWeight 隐式点击（无显式评分）的权重，默认等同 rating 4
	ClickWeight float64 `yaml:"click_weight" validate:"gte=0"`

	// MinChange 新旧向量欧氏距离低于该值时不写回；0 表示总是写回
	MinChange float64 `yaml:"min_change" validate:"gte=0"`
}

// GatewayConfig 外部调用的超时、重试与熔断参数。
type GatewayConfig struct {
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=1"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`

	// 连续失败 BreakerFailures 次后熔断，BreakerTimeout 后半开
	BreakerFailures uint32        `yaml:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" validate:"gte=0"`

	// RateLimit 每秒请求数；0 表示不限流
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

// BatchConfig 批量向量更新参数。
type BatchConfig struct {
	Workers int `yaml:"workers" validate:"gt=0"`

	// Window 未指定日期区间时默认回看的时间窗口
	Window time.Duration `yaml:"window" validate:"gt=0"`
}

// DefaultRatingWeights 默认评分权重表：5→1.0, 4→0.75, 2→0.75, 1→1.0；3 不参与质心。
func DefaultRatingWeights() map[int]float64 {
	return map[int]float64{
		5: 1.0,
		4: 0.75,
		2: 0.75,
		1: 1.0,
	}
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		Dimension: 0,
		Ranking: RankingConfig{
			DefaultK:       10,
			MaxK:           50,
			AnchorLookback: 90 * 24 * time.Hour,
		},
		Merge: MergeConfig{
			SemanticTopN:   100,
			LexicalTopM:    50,
			Fusion:         FusionMax,
			SemanticWeight: 0.7,
			LexicalWeight:  0.3,
			SemanticMin:    -1,
			SemanticMax:    1,
			SourceTimeout:  2 * time.Second,
		},
		Recency: RecencyConfig{
			HalfLife: 30 * 24 * time.Hour,
			MinDecay: 0.01,
		},
		Rerank: RerankConfig{
			Stage1Weight:          0.6,
			Stage2Weight:          0.4,
			MissingSummaryPenalty: 0.1,
			MaxAnchors:            5,
			AnchorMinRating:       4,
			Stage1TopN:            50,
			TieMargin:             0.01,
			SummaryConcurrency:    8,
		},
		Diversity: DiversityConfig{
			Lambda:   0.7,
			GroupCap: 2,
		},
		Rocchio: RocchioConfig{
			Alpha:         0.7,
			Beta:          0.3,
			Gamma:         0.1,
			RatingWeights: DefaultRatingWeights(),
			ClickWeight:   0.75,
		},
		Gateway: GatewayConfig{
			Timeout:         2 * time.Second,
			MaxAttempts:     3,
			InitialBackoff:  100 * time.Millisecond,
			MaxBackoff:      2 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Batch: BatchConfig{
			Workers: 8,
			Window:  24 * time.Hour,
		},
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验配置。
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Merge.Fusion == FusionWeighted && c.Merge.SemanticWeight+c.Merge.LexicalWeight == 0 {
		return fmt.Errorf("%w: weighted fusion needs a non-zero weight", ErrInvalidConfig)
	}
	for rating, w := range c.Rocchio.RatingWeights {
		if rating < MinRating || rating > MaxRating {
			return fmt.Errorf("%w: rating weight key %d out of range", ErrInvalidConfig, rating)
		}
		if w < 0 {
			return fmt.Errorf("%w: negative weight for rating %d", ErrInvalidConfig, rating)
		}
	}
	return nil
}

// LoadConfig 从 YAML 文件加载配置，未出现的字段保留默认值。
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig 解析 YAML 配置内容。
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
