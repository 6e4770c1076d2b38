package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// overlapServer 按查询词在文档文本中出现的次数打分。
func overlapServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := rpcResponse{Scores: make([]float64, len(req.Docs))}
		for i, d := range req.Docs {
			for _, term := range strings.Fields(req.Query) {
				resp.Scores[i] += float64(strings.Count(d.Text, term))
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRPCScorer(t *testing.T) {
	ctx := context.Background()
	s := NewRPCScorer("cross-encoder", overlapServer(t).URL, 0)
	q := Query{Text: "go"}

	scores, err := s.ScoreBatch(ctx, q, []Doc{
		{ID: "a", Text: "go go go"},
		{ID: "b", Text: "rust"},
		{ID: "c", Text: "go"},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 0, 1}, scores)

	score, err := s.Score(ctx, q, Doc{ID: "a", Text: "go go"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, score)

	empty, err := s.ScoreBatch(ctx, q, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	a, b := Doc{ID: "a", Text: "go go"}, Doc{ID: "b", Text: "go"}
	o, err := s.Compare(ctx, a, b, q)
	require.NoError(t, err)
	assert.Equal(t, Win, o)
	o, err = s.Compare(ctx, b, a, q)
	require.NoError(t, err)
	assert.Equal(t, Lose, o)

	s.TieMargin = 1
	o, err = s.Compare(ctx, a, b, q)
	require.NoError(t, err)
	assert.Equal(t, Tie, o)
}

func TestRPCScorer_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			wantErr: "status=503",
		},
		{
			name: "count mismatch",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"scores":[1]}`))
			},
			wantErr: "mismatch",
		},
		{
			name: "bad body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{`))
			},
			wantErr: "decode response",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			s := NewRPCScorer("rpc", srv.URL, 0)
			_, err := s.ScoreBatch(ctx, Query{Text: "q"}, []Doc{{ID: "a"}, {ID: "b"}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type mapEmbedder map[string][]float64

func (m mapEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	v, ok := m[text]
	if !ok {
		return nil, errors.New("unknown text")
	}
	return v, nil
}

func TestEmbeddingScorer_Score(t *testing.T) {
	ctx := context.Background()
	emb := mapEmbedder{
		"gophers":          {1, 0},
		"about goroutines": {0.6, 0.8},
	}

	tests := []struct {
		name   string
		scorer *EmbeddingScorer
		q      Query
		d      Doc
		want   float64
	}{
		{name: "vectors", scorer: &EmbeddingScorer{}, q: Query{Vector: []float64{1, 0}}, d: Doc{Vector: []float64{0, 1}}, want: 0},
		{name: "same direction", scorer: &EmbeddingScorer{}, q: Query{Vector: []float64{2, 0}}, d: Doc{Vector: []float64{1, 0}}, want: 1},
		{name: "no vector no embedder", scorer: &EmbeddingScorer{}, q: Query{Text: "gophers"}, d: Doc{Vector: []float64{1, 0}}, want: 0},
		{name: "query text embedded", scorer: &EmbeddingScorer{Embedder: emb}, q: Query{Text: "gophers"}, d: Doc{Vector: []float64{1, 0}}, want: 1},
		{name: "summary preferred over vector", scorer: &EmbeddingScorer{Embedder: emb}, q: Query{Vector: []float64{1, 0}}, d: Doc{Text: "about goroutines", Vector: []float64{1, 0}}, want: 0.6},
		{name: "query vector preferred over text", scorer: &EmbeddingScorer{Embedder: emb}, q: Query{Text: "about goroutines", Vector: []float64{1, 0}}, d: Doc{Vector: []float64{1, 0}}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.scorer.Score(ctx, tt.q, tt.d)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := (&EmbeddingScorer{Embedder: emb}).Score(ctx, Query{Text: "unknown"}, Doc{Vector: []float64{1}})
	assert.Error(t, err)
}

func TestCompareByScore_Antisymmetric(t *testing.T) {
	ctx := context.Background()
	s := &EmbeddingScorer{TieMargin: 0.05}
	ref := Query{Vector: []float64{1, 0}}
	docs := []Doc{
		{ID: "a", Vector: []float64{1, 0}},
		{ID: "b", Vector: []float64{0.99, 0.14}},
		{ID: "c", Vector: []float64{0, 1}},
		{ID: "d", Vector: []float64{-1, 0}},
	}

	for _, a := range docs {
		for _, b := range docs {
			ab, err := s.Compare(ctx, a, b, ref)
			require.NoError(t, err)
			ba, err := s.Compare(ctx, b, a, ref)
			require.NoError(t, err)
			assert.Equal(t, ab, -ba, "%s vs %s", a.ID, b.ID)
		}
	}

	o, _ := s.Compare(ctx, docs[0], docs[1], ref)
	assert.Equal(t, Tie, o, "within margin")
	o, _ = s.Compare(ctx, docs[0], docs[2], ref)
	assert.Equal(t, Win, o)
	assert.Equal(t, "win", Win.String())
	assert.Equal(t, "tie", Tie.String())
}
