package filter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/feedrank/core"
)

type fakeSeen struct {
	ids   []string
	err   error
	calls int
}

func (f *fakeSeen) SeenItems(context.Context, string) ([]string, error) {
	f.calls++
	return f.ids, f.err
}

type errFilter struct {
	calls *int
}

func (f errFilter) Name() string { return "filter.broken" }

func (f errFilter) ShouldFilter(context.Context, *core.RankContext, *core.ScoredCandidate) (bool, error) {
	*f.calls++
	return false, errors.New("lookup failed")
}

func items(ids ...string) []*core.ScoredCandidate {
	out := make([]*core.ScoredCandidate, len(ids))
	for i, id := range ids {
		out[i] = core.NewScoredCandidate(core.CandidateItem{ID: id, Topic: "news"}, 1)
	}
	return out
}

func itemIDs(cs []*core.ScoredCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Item.ID
	}
	return out
}

func TestFilterNode(t *testing.T) {
	shorts := core.NewScoredCandidate(core.CandidateItem{ID: "s1", Topic: "shorts"}, 1)
	in := append(items("a", "b", "c", "d"), shorts)

	expr, err := NewExprFilter(`item.topic == "shorts"`)
	require.NoError(t, err)
	seen := &fakeSeen{ids: []string{"c"}}

	node := &FilterNode{Filters: []Filter{
		NewExcludeFilter([]string{"d"}),
		&SeenFilter{Store: seen},
		expr,
	}}
	rctx := &core.RankContext{UserID: "u1", Exclude: map[string]struct{}{"a": {}}}

	out, err := node.Process(context.Background(), rctx, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, itemIDs(out))
	assert.Equal(t, 1, seen.calls, "seen set is loaded once per request")
	// 输入不被修改
	assert.Len(t, in, 5)
}

func TestFilterNode_SeenStoreFailureIsSkipped(t *testing.T) {
	node := &FilterNode{Filters: []Filter{&SeenFilter{Store: &fakeSeen{err: errors.New("redis down")}}}}
	rctx := &core.RankContext{UserID: "u1"}
	out, err := node.Process(context.Background(), rctx, items("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, itemIDs(out))

	lbl, ok := rctx.GetLabel(core.LabelPartial)
	require.True(t, ok, "skipped filter marks the request partial")
	assert.Equal(t, "filter.seen", lbl.Value)
	assert.Equal(t, "filter", lbl.Source)

	// nil rctx 不 panic
	out, err = node.Process(context.Background(), nil, items("a"))
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestFilterNode_ItemErrorMarksPartial(t *testing.T) {
	calls := 0
	broken := errFilter{calls: &calls}
	node := &FilterNode{Filters: []Filter{broken, NewExcludeFilter([]string{"b"})}}
	rctx := &core.RankContext{UserID: "u1"}

	out, err := node.Process(context.Background(), rctx, items("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, itemIDs(out))
	assert.Equal(t, 3, calls)

	lbl, ok := rctx.GetLabel(core.LabelPartial)
	require.True(t, ok)
	assert.Equal(t, "filter.broken", lbl.Value)

	clean := &core.RankContext{UserID: "u1"}
	_, err = (&FilterNode{Filters: []Filter{NewExcludeFilter([]string{"b"})}}).Process(context.Background(), clean, items("a", "b"))
	require.NoError(t, err)
	_, ok = clean.GetLabel(core.LabelPartial)
	assert.False(t, ok)
}

func TestFilterNode_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	node := &FilterNode{Filters: []Filter{&SeenFilter{Store: &fakeSeen{err: context.Canceled}}}}
	_, err := node.Process(ctx, &core.RankContext{UserID: "u1"}, items("a"))
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeApprox struct {
	sets  map[string]map[string]struct{}
	err   error
	calls int
}

type idSet map[string]struct{}

func (s idSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

func (f *fakeApprox) LoadSeen(_ context.Context, userID string) (core.ItemSet, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return idSet(f.sets[userID]), nil
}

func TestBloomSeenFilter(t *testing.T) {
	store := &fakeApprox{sets: map[string]map[string]struct{}{"u1": {"b": {}}}}
	node := &FilterNode{Filters: []Filter{&BloomSeenFilter{Store: store}}}

	out, err := node.Process(context.Background(), &core.RankContext{UserID: "u1"}, items("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, itemIDs(out))
	assert.Equal(t, 1, store.calls)

	out, err = node.Process(context.Background(), &core.RankContext{UserID: "u2"}, items("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, itemIDs(out))

	// 单独使用
	f := &BloomSeenFilter{Store: store}
	drop, err := f.ShouldFilter(context.Background(), &core.RankContext{UserID: "u1"}, items("b")[0])
	require.NoError(t, err)
	assert.True(t, drop)

	store.err = errors.New("redis down")
	out, err = node.Process(context.Background(), &core.RankContext{UserID: "u1"}, items("a", "b"))
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestExprFilter(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	old := core.NewScoredCandidate(core.CandidateItem{ID: "old", Group: "ch1", PublishedAt: now.Add(-48 * time.Hour)}, 0.3)
	fresh := core.NewScoredCandidate(core.CandidateItem{ID: "fresh", Group: "ch2", PublishedAt: now.Add(-time.Hour)}, 0.9)
	rctx := &core.RankContext{UserID: "u1", Now: now, Params: map[string]any{"blocked": "ch1"}}

	tests := []struct {
		name    string
		expr    string
		wantOld bool
		wantNew bool
	}{
		{name: "age", expr: `item.age_hours > 24.0`, wantOld: true, wantNew: false},
		{name: "score", expr: `item.score < 0.5`, wantOld: true, wantNew: false},
		{name: "request param", expr: `item.group == rctx.params.blocked`, wantOld: true, wantNew: false},
		{name: "group list", expr: `item.group in ["ch1", "ch2"]`, wantOld: true, wantNew: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewExprFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, f.Expr())

			got, err := f.ShouldFilter(context.Background(), rctx, old)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOld, got)
			got, err = f.ShouldFilter(context.Background(), rctx, fresh)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNew, got)
		})
	}

	_, err := NewExprFilter(`item.score >`)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
