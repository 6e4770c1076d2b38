package rank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/model"
)

// tableScorer 按文档 ID 查表打分；beats 非空时 Compare 直接按表判定胜负。
type tableScorer struct {
	scores map[string]float64
	beats  map[string]bool
	err    error
}

func (s *tableScorer) Name() string { return "table" }

func (s *tableScorer) Score(_ context.Context, _ model.Query, d model.Doc) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.scores[d.ID], nil
}

func (s *tableScorer) Compare(ctx context.Context, a, b model.Doc, ref model.Query) (model.Outcome, error) {
	if s.err != nil {
		return model.Tie, s.err
	}
	if s.beats != nil {
		if s.beats[a.ID] {
			return model.Win, nil
		}
		return model.Lose, nil
	}
	return model.CompareByScore(ctx, s, a, b, ref, 0)
}

type mapSummaries map[string]string

func (m mapSummaries) GetSummary(_ context.Context, id string) (string, bool, error) {
	s, ok := m[id]
	return s, ok, nil
}

func scored(ids ...string) []*core.ScoredCandidate {
	out := make([]*core.ScoredCandidate, len(ids))
	for i, id := range ids {
		out[i] = core.NewScoredCandidate(core.CandidateItem{ID: id, Embedding: []float64{1, 0}}, 0.5)
	}
	return out
}

func order(items []*core.ScoredCandidate) []string {
	out := make([]string, len(items))
	for i, c := range items {
		out[i] = c.Item.ID
	}
	return out
}

func scoreOf(items []*core.ScoredCandidate, id string) float64 {
	for _, c := range items {
		if c.Item.ID == id {
			return c.Score
		}
	}
	return -1
}

func withQuery() *core.RankContext {
	return &core.RankContext{UserID: "u1", PreferenceVector: []float64{1, 0}}
}

func TestTwoStage_Stage1Only(t *testing.T) {
	scorer := &tableScorer{scores: map[string]float64{"a": 0.9, "b": 0.5, "c": 0.05}}

	tests := []struct {
		name      string
		summaries mapSummaries
		want      map[string]float64
	}{
		{
			name: "no summaries, all penalized",
			want: map[string]float64{"a": 0.8, "b": 0.4, "c": 0},
		},
		{
			name:      "summary present skips penalty",
			summaries: mapSummaries{"a": "cats playing piano"},
			want:      map[string]float64{"a": 0.9, "b": 0.4, "c": 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &TwoStage{Scorer: scorer, MissingSummaryPenalty: 0.1}
			if tt.summaries != nil {
				n.Summaries = tt.summaries
			}
			out, err := n.Process(context.Background(), withQuery(), scored("c", "b", "a"))
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, order(out))
			for id, want := range tt.want {
				assert.InDelta(t, want, scoreOf(out, id), 1e-9, id)
			}
			// 没有锚点时 final = s1
			f, ok := out[0].Contribution(core.StageFinal)
			require.True(t, ok)
			assert.Equal(t, out[0].Score, f)
		})
	}
}

func TestTwoStage_RecencyDecayApplied(t *testing.T) {
	scorer := &tableScorer{scores: map[string]float64{"a": 0.8, "b": 0.6}}
	in := scored("a", "b")
	in[0].AddContribution(core.StageRecency, 0.5)

	n := &TwoStage{Scorer: scorer, Summaries: mapSummaries{"a": "x", "b": "y"}}
	out, err := n.Process(context.Background(), withQuery(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, order(out))
	assert.InDelta(t, 0.4, scoreOf(out, "a"), 1e-9)
	assert.InDelta(t, 0.6, scoreOf(out, "b"), 1e-9)
}

func TestTwoStage_Pairwise(t *testing.T) {
	rctx := withQuery()
	rctx.Anchors = []core.Anchor{
		{ItemID: "x", Rating: 5, Embedding: []float64{1, 0}},
		{ItemID: "y", Rating: 4, Summary: "liked"},
	}

	t.Run("pairwise reorders", func(t *testing.T) {
		scorer := &tableScorer{
			scores: map[string]float64{"a": 0.6, "b": 0.5},
			beats:  map[string]bool{"b": true},
		}
		n := &TwoStage{Scorer: scorer, Summaries: mapSummaries{"a": "x", "b": "y"}, Stage1Weight: 0.6, Stage2Weight: 0.4}
		out, err := n.Process(context.Background(), rctx, scored("a", "b"))
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, order(out))
		assert.InDelta(t, 0.6*0.5+0.4*1, scoreOf(out, "b"), 1e-9)
		assert.InDelta(t, 0.6*0.6-0.4*1, scoreOf(out, "a"), 1e-9)

		pw, ok := out[0].Contribution(core.StagePairwise)
		require.True(t, ok)
		assert.Equal(t, 1.0, pw)
	})

	t.Run("compare by score against anchors", func(t *testing.T) {
		scorer := &tableScorer{scores: map[string]float64{"a": 0.9, "b": 0.5, "x": 0.6, "y": 0.3}}
		n := &TwoStage{Scorer: scorer, Summaries: mapSummaries{"a": "x", "b": "y"}}
		out, err := n.Process(context.Background(), rctx, scored("a", "b"))
		require.NoError(t, err)
		assert.InDelta(t, 0.6*0.9+0.4*1, scoreOf(out, "a"), 1e-9)
		// b 输给 x、赢 y：pairwise = 0
		assert.InDelta(t, 0.6*0.5, scoreOf(out, "b"), 1e-9)
	})

	t.Run("max anchors limits comparisons", func(t *testing.T) {
		scorer := &tableScorer{scores: map[string]float64{"a": 0.5, "x": 0.9, "y": 0.1}}
		n := &TwoStage{Scorer: scorer, Summaries: mapSummaries{"a": "x"}, MaxAnchors: 1, Stage1Weight: 0.6, Stage2Weight: 0.4}
		out, err := n.Process(context.Background(), rctx, scored("a"))
		require.NoError(t, err)
		// 只与 x 比较：lose
		assert.InDelta(t, 0.6*0.5-0.4, out[0].Score, 1e-9)
	})
}

func TestTwoStage_NonPositiveRelevanceFloorsAtZero(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	scorer := &tableScorer{scores: map[string]float64{"far": -0.9, "near": -0.1, "ok": 0.3}}
	in := scored("far", "near", "ok")
	in[0].Item.PublishedAt = now
	in[1].Item.PublishedAt = now.Add(-time.Hour)
	in[2].Item.PublishedAt = now.Add(-time.Hour)
	// 旧物品带衰减：负分乘以 decay 也不会排到前面
	in[1].AddContribution(core.StageRecency, 0.5)

	n := &TwoStage{Scorer: scorer, Summaries: mapSummaries{"far": "a", "near": "b", "ok": "c"}}
	out, err := n.Process(context.Background(), withQuery(), in)
	require.NoError(t, err)

	assert.Equal(t, []string{"ok", "far", "near"}, order(out))
	assert.Equal(t, 0.0, scoreOf(out, "far"))
	assert.Equal(t, 0.0, scoreOf(out, "near"))
	for _, c := range out {
		assert.GreaterOrEqual(t, c.Score, 0.0, c.Item.ID)
	}
}

func TestTwoStage_EmptyQueryPassesThrough(t *testing.T) {
	in := scored("a", "b")
	in[0].Score, in[1].Score = 0.3, 0.7

	n := &TwoStage{Scorer: &tableScorer{scores: map[string]float64{"a": 1, "b": 0}}}
	out, err := n.Process(context.Background(), &core.RankContext{UserID: "cold"}, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, order(out))
	assert.Equal(t, 0.7, out[0].Score)
}

func TestTwoStage_TieBreak(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	in := scored("c", "b", "a")
	in[0].Item.PublishedAt = now.Add(-time.Hour)
	in[1].Item.PublishedAt = now
	in[2].Item.PublishedAt = now.Add(-time.Hour)

	n := &TwoStage{Scorer: &tableScorer{scores: map[string]float64{}}}
	out, err := n.Process(context.Background(), withQuery(), in)
	require.NoError(t, err)
	// 同分：较新的 b 在前，其余按 ID
	assert.Equal(t, []string{"b", "a", "c"}, order(out))
}

func TestTwoStage_DeterministicAndPure(t *testing.T) {
	scorer := &tableScorer{scores: map[string]float64{"a": 0.7, "b": 0.7, "c": 0.2, "x": 0.5}}
	rctx := withQuery()
	rctx.Anchors = []core.Anchor{{ItemID: "x", Rating: 5, Embedding: []float64{1, 0}}}
	n := &TwoStage{Scorer: scorer, Summaries: mapSummaries{"a": "1", "b": "2", "c": "3"}, Stage1TopN: 2}

	in := scored("c", "b", "a")
	first, err := n.Process(context.Background(), rctx, in)
	require.NoError(t, err)
	second, err := n.Process(context.Background(), rctx, in)
	require.NoError(t, err)

	assert.Equal(t, order(first), order(second))
	assert.Equal(t, []string{"a", "b"}, order(first))
	for _, c := range in {
		assert.Equal(t, 0.5, c.Score)
	}
}

func TestTwoStage_ScorerFailure(t *testing.T) {
	n := &TwoStage{Scorer: &tableScorer{err: errors.New("reranker 503")}}
	_, err := n.Process(context.Background(), withQuery(), scored("a"))
	assert.ErrorIs(t, err, core.ErrPartialData)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = n.Process(ctx, withQuery(), scored("a"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, core.ErrPartialData)

	_, err = (&TwoStage{}).Process(context.Background(), withQuery(), scored("a"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
