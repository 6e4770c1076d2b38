package gateway

import (
	"context"

	"github.com/rushteam/feedrank/core"
)

// Searcher 为 core.VectorSearcher 加上容错。
type Searcher struct {
	Next core.VectorSearcher
	R    *Resilient
}

func (g *Searcher) Search(ctx context.Context, vector []float64, topK int) ([]core.SearchHit, error) {
	return Do(ctx, g.R, "search", func(ctx context.Context) ([]core.SearchHit, error) {
		return g.Next.Search(ctx, vector, topK)
	})
}

// Lexical 为 core.LexicalSearcher 加上容错。
type Lexical struct {
	Next core.LexicalSearcher
	R    *Resilient
}

func (g *Lexical) SearchByText(ctx context.Context, query string, topK int) ([]core.SearchHit, error) {
	return Do(ctx, g.R, "search_by_text", func(ctx context.Context) ([]core.SearchHit, error) {
		return g.Next.SearchByText(ctx, query, topK)
	})
}

// Embeddings 为 core.EmbeddingLookup 加上容错。
type Embeddings struct {
	Next core.EmbeddingLookup
	R    *Resilient
}

func (g *Embeddings) GetEmbeddings(ctx context.Context, itemIDs []string) (map[string][]float64, error) {
	return Do(ctx, g.R, "get_embeddings", func(ctx context.Context) (map[string][]float64, error) {
		return g.Next.GetEmbeddings(ctx, itemIDs)
	})
}

// Items 为 core.ItemLookup 加上容错。
type Items struct {
	Next core.ItemLookup
	R    *Resilient
}

func (g *Items) GetItems(ctx context.Context, itemIDs []string) (map[string]core.CandidateItem, error) {
	return Do(ctx, g.R, "get_items", func(ctx context.Context) (map[string]core.CandidateItem, error) {
		return g.Next.GetItems(ctx, itemIDs)
	})
}

// Summaries 为 core.SummaryLookup 加上容错。
type Summaries struct {
	Next core.SummaryLookup
	R    *Resilient
}

type summaryResult struct {
	text string
	ok   bool
}

func (g *Summaries) GetSummary(ctx context.Context, itemID string) (string, bool, error) {
	res, err := Do(ctx, g.R, "get_summary", func(ctx context.Context) (summaryResult, error) {
		text, ok, err := g.Next.GetSummary(ctx, itemID)
		return summaryResult{text: text, ok: ok}, err
	})
	return res.text, res.ok, err
}

// Preferences 为 core.PreferenceStore 加上容错。
// 版本冲突不重试，原样返回给调用方处理。
type Preferences struct {
	Next core.PreferenceStore
	R    *Resilient
}

type vectorResult struct {
	vec core.PreferenceVector
	ok  bool
}

func (g *Preferences) GetVector(ctx context.Context, userID string) (core.PreferenceVector, bool, error) {
	res, err := Do(ctx, g.R, "get_vector", func(ctx context.Context) (vectorResult, error) {
		vec, ok, err := g.Next.GetVector(ctx, userID)
		return vectorResult{vec: vec, ok: ok}, err
	})
	return res.vec, res.ok, err
}

func (g *Preferences) SetVector(ctx context.Context, userID string, values []float64, expectedVersion int64) (int64, error) {
	return Do(ctx, g.R, "set_vector", func(ctx context.Context) (int64, error) {
		return g.Next.SetVector(ctx, userID, values, expectedVersion)
	})
}

// Feedback 为 core.FeedbackStore 加上容错。
type Feedback struct {
	Next core.FeedbackStore
	R    *Resilient
}

func (g *Feedback) GetFeedback(ctx context.Context, userID string, r core.DateRange) ([]core.FeedbackEvent, error) {
	return Do(ctx, g.R, "get_feedback", func(ctx context.Context) ([]core.FeedbackEvent, error) {
		return g.Next.GetFeedback(ctx, userID, r)
	})
}

func (g *Feedback) UsersWithFeedback(ctx context.Context, r core.DateRange) ([]string, error) {
	return Do(ctx, g.R, "users_with_feedback", func(ctx context.Context) ([]string, error) {
		return g.Next.UsersWithFeedback(ctx, r)
	})
}

// Seen 为 core.SeenStore 加上容错。
type Seen struct {
	Next core.SeenStore
	R    *Resilient
}

func (g *Seen) SeenItems(ctx context.Context, userID string) ([]string, error) {
	return Do(ctx, g.R, "seen_items", func(ctx context.Context) ([]string, error) {
		return g.Next.SeenItems(ctx, userID)
	})
}

// ApproxSeen 为 core.ApproxSeenStore 加上容错。
type ApproxSeen struct {
	Next core.ApproxSeenStore
	R    *Resilient
}

func (g *ApproxSeen) LoadSeen(ctx context.Context, userID string) (core.ItemSet, error) {
	return Do(ctx, g.R, "load_seen", func(ctx context.Context) (core.ItemSet, error) {
		return g.Next.LoadSeen(ctx, userID)
	})
}

var (
	_ core.VectorSearcher  = (*Searcher)(nil)
	_ core.LexicalSearcher = (*Lexical)(nil)
	_ core.EmbeddingLookup = (*Embeddings)(nil)
	_ core.ItemLookup      = (*Items)(nil)
	_ core.SummaryLookup   = (*Summaries)(nil)
	_ core.PreferenceStore = (*Preferences)(nil)
	_ core.FeedbackStore   = (*Feedback)(nil)
	_ core.SeenStore       = (*Seen)(nil)
	_ core.ApproxSeenStore = (*ApproxSeen)(nil)
)
