package model

import "context"

// Query 是相关性打分的查询表示：会话文本和/或向量（偏好向量或会话查询向量）。
type Query struct {
	Text   string
	Vector []float64
}

// IsEmpty 查询既无文本也无向量。
func (q Query) IsEmpty() bool { return q.Text == "" && len(q.Vector) == 0 }

// Doc 是被打分的文档：候选摘要或锚点物品。
// Text 为抽取式摘要（可能为空），Vector 为物品原始向量。
type Doc struct {
	ID     string
	Text   string
	Vector []float64
}

// Outcome 是两两比较的结果。
type Outcome int

const (
	Lose Outcome = -1
	Tie  Outcome = 0
	Win  Outcome = 1
)

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case Lose:
		return "lose"
	default:
		return "tie"
	}
}

// Scorer 是重排阶段的打分能力：交叉编码器风格的 score(query, doc)，
// 以及对称模式下的 compare(a, b)。
//
// 约定：
//   - Score 对语义接近程度单调
//   - Compare(a, b, ref) == -Compare(b, a, ref)
//   - 相同输入给出相同输出（测试可替换为确定性实现）
type Scorer interface {
	Name() string
	Score(ctx context.Context, q Query, d Doc) (float64, error)
	Compare(ctx context.Context, a, b Doc, ref Query) (Outcome, error)
}

// CompareByScore 用 Score 实现对称比较：分差超过 margin 判胜负，否则平局。
func CompareByScore(ctx context.Context, s Scorer, a, b Doc, ref Query, margin float64) (Outcome, error) {
	sa, err := s.Score(ctx, ref, a)
	if err != nil {
		return Tie, err
	}
	sb, err := s.Score(ctx, ref, b)
	if err != nil {
		return Tie, err
	}
	return outcome(sa, sb, margin), nil
}

func outcome(sa, sb, margin float64) Outcome {
	switch d := sa - sb; {
	case d > margin:
		return Win
	case d < -margin:
		return Lose
	default:
		return Tie
	}
}
