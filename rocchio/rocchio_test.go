package rocchio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/feedrank/core"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type mapLookup struct {
	embs  map[string][]float64
	err   error
	calls int
}

func (m *mapLookup) GetEmbeddings(_ context.Context, ids []string) (map[string][]float64, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string][]float64)
	for _, id := range ids {
		if e, ok := m.embs[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func TestParams_ClassOf(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		name       string
		event      core.FeedbackEvent
		wantClass  Class
		wantWeight float64
	}{
		{name: "rating 5", event: core.RatingEvent("u", "i", 5, t0), wantClass: Positive, wantWeight: 1.0},
		{name: "rating 4", event: core.RatingEvent("u", "i", 4, t0), wantClass: Positive, wantWeight: 0.75},
		{name: "rating 3", event: core.RatingEvent("u", "i", 3, t0), wantClass: Neutral},
		{name: "rating 2", event: core.RatingEvent("u", "i", 2, t0), wantClass: Negative, wantWeight: 0.75},
		{name: "rating 1", event: core.RatingEvent("u", "i", 1, t0), wantClass: Negative, wantWeight: 1.0},
		{name: "click", event: core.ClickEvent("u", "i", true, t0), wantClass: Positive, wantWeight: 0.75},
		{name: "sent without click", event: core.ClickEvent("u", "i", false, t0), wantClass: Neutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := p.ClassOf(tt.event)
			assert.Equal(t, tt.wantClass, c)
			assert.Equal(t, tt.wantWeight, w)
		})
	}
}

func TestParams_Classify(t *testing.T) {
	p := DefaultParams()
	events := []core.FeedbackEvent{
		core.RatingEvent("u", "b", 1, t0),
		core.ClickEvent("u", "a", true, t0),
		core.RatingEvent("u", "a", 2, t0.Add(-time.Hour)), // 评分优先于点击
		core.RatingEvent("u", "c", 5, t0),
		core.RatingEvent("u", "c", 3, t0.Add(time.Hour)), // 最新评分生效
		core.RatingEvent("u", "d", 9, t0),                // 畸形
		{UserID: "u", ItemID: "e", Timestamp: t0},        // 畸形
	}
	cls := p.Classify(events)

	assert.Empty(t, cls.Positive)
	assert.Equal(t, []Weighted{{ItemID: "a", Weight: 0.75}, {ItemID: "b", Weight: 1.0}}, cls.Negative)
	assert.Equal(t, 1, cls.Neutral)
	assert.Equal(t, 2, cls.Skipped)
	require.Len(t, cls.Invalid, 2)
	assert.True(t, errors.Is(cls.Invalid[0], core.ErrInvalidFeedback))
}

func TestCentroid(t *testing.T) {
	embs := map[string][]float64{"a": {1, 0}, "b": {0, 1}, "bad": {1, 1, 1}}
	c, ok, missing := Centroid([]Weighted{{"a", 1}, {"b", 3}, {"bad", 1}, {"gone", 1}}, embs, 2)
	require.True(t, ok)
	assert.Equal(t, 2, missing)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, c, 1e-12)

	c, ok, _ = Centroid(nil, embs, 2)
	assert.False(t, ok)
	assert.Equal(t, []float64{0, 0}, c)
}

func TestParams_Update(t *testing.T) {
	p := DefaultParams()
	v0 := []float64{1, 0, 0}
	eA := []float64{0, 1, 0}
	eB := []float64{0, 0, 1}

	t.Run("formula", func(t *testing.T) {
		got, err := p.Update(v0, eA, eB, true, true)
		require.NoError(t, err)
		want := core.Normalize([]float64{0.7, 0.3, -0.1})
		assert.InDeltaSlice(t, want, got, 1e-12)
		assert.InDelta(t, 1.0, core.Norm(got), 1e-12)
	})

	t.Run("identity without feedback", func(t *testing.T) {
		got, err := p.Update([]float64{2, 0, 0}, nil, nil, false, false)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 0, 0}, got)
	})

	t.Run("cold start drops alpha", func(t *testing.T) {
		got, err := p.Update(nil, eA, nil, true, false)
		require.NoError(t, err)
		assert.InDeltaSlice(t, eA, got, 1e-12)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := p.Update([]float64{1, 0}, eA, nil, true, false)
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	})
}

func TestEngine_Apply(t *testing.T) {
	lookup := &mapLookup{embs: map[string][]float64{
		"A": {0, 1, 0},
		"B": {0, 0, 1},
	}}
	v0 := []float64{1, 0, 0}

	t.Run("rating 5 and rating 1", func(t *testing.T) {
		e := NewEngine(DefaultParams(), 3, nil)
		res, err := e.Apply(context.Background(), v0, []core.FeedbackEvent{
			core.RatingEvent("u", "A", 5, t0),
			core.RatingEvent("u", "B", 1, t0),
		}, lookup)
		require.NoError(t, err)
		assert.InDeltaSlice(t, core.Normalize([]float64{0.7, 0.3, -0.1}), res.Vector, 1e-12)
		assert.True(t, res.Changed)
		assert.Greater(t, res.ChangeMagnitude, 0.0)
		assert.Equal(t, Counts{Positive: 1, Negative: 1}, res.Counts)
	})

	t.Run("only neutral feedback is identity", func(t *testing.T) {
		e := NewEngine(DefaultParams(), 3, nil)
		calls := lookup.calls
		res, err := e.Apply(context.Background(), v0, []core.FeedbackEvent{
			core.RatingEvent("u", "A", 3, t0),
			core.ClickEvent("u", "B", false, t0),
		}, lookup)
		require.NoError(t, err)
		assert.Equal(t, v0, res.Vector)
		assert.False(t, res.Changed)
		assert.Equal(t, 2, res.Counts.Neutral)
		assert.Equal(t, calls, lookup.calls, "no lookup without positive or negative feedback")
	})

	t.Run("cold start", func(t *testing.T) {
		e := NewEngine(DefaultParams(), 0, nil)
		res, err := e.Apply(context.Background(), nil, []core.FeedbackEvent{
			core.ClickEvent("u", "A", true, t0),
		}, lookup)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0, 1, 0}, res.Vector, 1e-12)
		assert.True(t, res.Changed)
	})

	t.Run("missing embeddings are skipped", func(t *testing.T) {
		e := NewEngine(DefaultParams(), 3, nil)
		res, err := e.Apply(context.Background(), v0, []core.FeedbackEvent{
			core.RatingEvent("u", "A", 5, t0),
			core.RatingEvent("u", "gone", 1, t0),
		}, lookup)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Counts.MissingEmbedding)
		assert.InDeltaSlice(t, core.Normalize([]float64{0.7, 0.3, 0}), res.Vector, 1e-12)
	})

	t.Run("malformed records do not abort", func(t *testing.T) {
		e := NewEngine(DefaultParams(), 3, nil)
		res, err := e.Apply(context.Background(), v0, []core.FeedbackEvent{
			core.RatingEvent("u", "A", 0, t0),
			core.RatingEvent("u", "B", 1, t0),
		}, lookup)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Counts.Skipped)
		assert.Equal(t, 1, res.Counts.Negative)
	})

	t.Run("small change below threshold", func(t *testing.T) {
		p := DefaultParams()
		p.MinChange = 0.5
		e := NewEngine(p, 3, nil)
		res, err := e.Apply(context.Background(), v0, []core.FeedbackEvent{
			core.RatingEvent("u", "A", 4, t0),
		}, lookup)
		require.NoError(t, err)
		assert.False(t, res.Changed)
	})

	t.Run("lookup failure", func(t *testing.T) {
		e := NewEngine(DefaultParams(), 3, nil)
		_, err := e.Apply(context.Background(), v0, []core.FeedbackEvent{
			core.RatingEvent("u", "A", 5, t0),
		}, &mapLookup{err: core.ErrUnavailable})
		assert.ErrorIs(t, err, core.ErrUnavailable)
	})

	t.Run("stored vector dimension mismatch", func(t *testing.T) {
		e := NewEngine(DefaultParams(), 3, nil)
		_, err := e.Apply(context.Background(), []float64{1, 0}, []core.FeedbackEvent{
			core.RatingEvent("u", "A", 5, t0),
		}, lookup)
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	})
}
