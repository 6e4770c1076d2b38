package recall

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/feedrank/core"
)

type fakeVector struct {
	hits []core.SearchHit
	err  error
}

func (f *fakeVector) Search(context.Context, []float64, int) ([]core.SearchHit, error) {
	return f.hits, f.err
}

type fakeLexical struct {
	hits []core.SearchHit
	err  error
}

func (f *fakeLexical) SearchByText(context.Context, string, int) ([]core.SearchHit, error) {
	return f.hits, f.err
}

type fakeItems struct {
	items map[string]core.CandidateItem
	err   error
}

func (f *fakeItems) GetItems(_ context.Context, ids []string) (map[string]core.CandidateItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]core.CandidateItem)
	for _, id := range ids {
		if it, ok := f.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

type fakeEmbeddings struct {
	embs map[string][]float64
	err  error
}

func (f *fakeEmbeddings) GetEmbeddings(_ context.Context, ids []string) (map[string][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]float64)
	for _, id := range ids {
		if e, ok := f.embs[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func newMerger(sem *fakeVector, lex *fakeLexical) *Merger {
	return &Merger{
		Semantic: &SemanticSource{Searcher: sem, TopN: 10},
		Lexical:  &LexicalSource{Searcher: lex, TopM: 10},
		Fusion:   core.FusionMax,
	}
}

func queryContext() *core.RankContext {
	return &core.RankContext{UserID: "u1", QueryText: "cats", QueryVector: []float64{1, 0}}
}

func ids(items []*core.ScoredCandidate) []string {
	out := make([]string, len(items))
	for i, c := range items {
		out[i] = c.Item.ID
	}
	return out
}

func TestMerger_FuseAndDedup(t *testing.T) {
	sem := &fakeVector{hits: []core.SearchHit{{ID: "a", Score: 0.8}, {ID: "b", Score: 0.2}}}
	lex := &fakeLexical{hits: []core.SearchHit{{ID: "b", Score: 2.0}, {ID: "c", Score: 1.0}}}

	tests := []struct {
		name       string
		fusion     core.Fusion
		wantOrder  []string
		wantScores map[string]float64
	}{
		{
			name:       "max fusion",
			fusion:     core.FusionMax,
			wantOrder:  []string{"b", "a", "c"},
			wantScores: map[string]float64{"a": 0.9, "b": 1.0, "c": 0.5},
		},
		{
			name:       "weighted fusion",
			fusion:     core.FusionWeighted,
			wantOrder:  []string{"b", "a", "c"},
			wantScores: map[string]float64{"a": 0.63, "b": 0.72, "c": 0.15},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMerger(sem, lex)
			m.Fusion = tt.fusion
			m.SemanticWeight, m.LexicalWeight = 0.7, 0.3

			rctx := queryContext()
			out, err := m.Process(context.Background(), rctx, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrder, ids(out))
			for _, c := range out {
				assert.InDelta(t, tt.wantScores[c.Item.ID], c.Score, 1e-9, c.Item.ID)
			}

			prov := map[string]core.Provenance{}
			for _, c := range out {
				prov[c.Item.ID] = c.Item.Provenance
			}
			assert.Equal(t, core.ProvenanceSemantic, prov["a"])
			assert.Equal(t, core.ProvenanceBoth, prov["b"])
			assert.Equal(t, core.ProvenanceLexical, prov["c"])

			_, partial := rctx.GetLabel(core.LabelPartial)
			assert.False(t, partial)
		})
	}
}

func TestMerger_DuplicateWithinSourceKeepsBest(t *testing.T) {
	sem := &fakeVector{hits: []core.SearchHit{{ID: "a", Score: 0.0}, {ID: "a", Score: 1.0}}}
	m := newMerger(sem, &fakeLexical{})

	out, err := m.Process(context.Background(), queryContext(), nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].Score, 1e-9)
}

func TestMerger_Degradation(t *testing.T) {
	down := errors.New("connection refused")

	t.Run("semantic fails", func(t *testing.T) {
		m := newMerger(
			&fakeVector{err: down},
			&fakeLexical{hits: []core.SearchHit{{ID: "c", Score: 1}}},
		)
		rctx := queryContext()
		out, err := m.Process(context.Background(), rctx, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, ids(out))
		lbl, ok := rctx.GetLabel(core.LabelPartial)
		require.True(t, ok)
		assert.Equal(t, "semantic", lbl.Value)
	})

	t.Run("lexical fails", func(t *testing.T) {
		m := newMerger(
			&fakeVector{hits: []core.SearchHit{{ID: "a", Score: 0.5}}},
			&fakeLexical{err: down},
		)
		rctx := queryContext()
		out, err := m.Process(context.Background(), rctx, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(out))
		_, ok := rctx.GetLabel(core.LabelPartial)
		assert.True(t, ok)
	})

	t.Run("both fail", func(t *testing.T) {
		m := newMerger(&fakeVector{err: down}, &fakeLexical{err: down})
		_, err := m.Process(context.Background(), queryContext(), nil)
		assert.ErrorIs(t, err, core.ErrPartialData)
	})

	t.Run("both empty", func(t *testing.T) {
		m := newMerger(&fakeVector{}, &fakeLexical{})
		out, err := m.Process(context.Background(), queryContext(), nil)
		require.NoError(t, err)
		assert.NotNil(t, out)
		assert.Empty(t, out)
	})

	t.Run("no query at all", func(t *testing.T) {
		m := newMerger(
			&fakeVector{hits: []core.SearchHit{{ID: "a", Score: 0.5}}},
			&fakeLexical{hits: []core.SearchHit{{ID: "c", Score: 1}}},
		)
		out, err := m.Process(context.Background(), &core.RankContext{UserID: "cold"}, nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestMerger_Hydrate(t *testing.T) {
	sem := &fakeVector{hits: []core.SearchHit{{ID: "a", Score: 0.8}, {ID: "b", Score: 0.2}}}

	t.Run("metadata and embeddings", func(t *testing.T) {
		m := newMerger(sem, &fakeLexical{})
		m.Items = &fakeItems{items: map[string]core.CandidateItem{
			"a": {ID: "a", Title: "A", Group: "ch1", Embedding: []float64{1, 0}},
			"b": {ID: "b", Title: "B", Group: "ch2"},
		}}
		m.Embeddings = &fakeEmbeddings{embs: map[string][]float64{"b": {0, 1}}}

		out, err := m.Process(context.Background(), queryContext(), nil)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "A", out[0].Item.Title)
		assert.Equal(t, "ch2", out[1].Item.Group)
		assert.Equal(t, []float64{0, 1}, out[1].Item.Embedding)
	})

	t.Run("item lookup failure is partial data", func(t *testing.T) {
		m := newMerger(sem, &fakeLexical{})
		m.Items = &fakeItems{err: errors.New("timeout")}
		_, err := m.Process(context.Background(), queryContext(), nil)
		assert.ErrorIs(t, err, core.ErrPartialData)
	})

	t.Run("embedding lookup failure is tolerated", func(t *testing.T) {
		m := newMerger(sem, &fakeLexical{})
		m.Embeddings = &fakeEmbeddings{err: errors.New("timeout")}
		out, err := m.Process(context.Background(), queryContext(), nil)
		require.NoError(t, err)
		assert.Len(t, out, 2)
	})
}

func TestNormalizeHits(t *testing.T) {
	lex := &LexicalSource{}
	assert.Equal(t, []float64{1, 1}, normalizeHits([]core.SearchHit{{ID: "a"}, {ID: "b"}}, lex))

	got := normalizeHits([]core.SearchHit{{ID: "a", Score: 4}, {ID: "b", Score: 1}}, lex)
	assert.InDeltaSlice(t, []float64{1, 0.25}, got, 1e-12)

	sem := &SemanticSource{Min: -1, Max: 1}
	got = normalizeHits([]core.SearchHit{{ID: "a", Score: 1}, {ID: "b", Score: -1}, {ID: "c", Score: 0}}, sem)
	assert.InDeltaSlice(t, []float64{1, 0, 0.5}, got, 1e-12)
}
