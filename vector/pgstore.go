// Package vector 提供基于 Postgres + pgvector 的检索实现。
package vector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/rushteam/feedrank/core"
)

// PGStore 基于 pgvector 实现：
//   - core.VectorSearcher：余弦距离检索（embedding <=> query）
//   - core.LexicalSearcher：标题全文检索（ts_rank）
//   - core.EmbeddingLookup / core.ItemLookup：按 ID 批量读取
type PGStore struct {
	db    *sql.DB
	table string
}

// Open 通过 lib/pq 连接 Postgres。
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	return db, nil
}

// NewPGStore 创建存储；table 为空时使用 "items"。
func NewPGStore(db *sql.DB, table string) *PGStore {
	if table == "" {
		table = "items"
	}
	return &PGStore{db: db, table: table}
}

func (s *PGStore) Name() string { return "pgvector" }

// Schema 返回建表语句。
func (s *PGStore) Schema(dimension int) string {
	return fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS %[1]s (
			id           TEXT PRIMARY KEY,
			title        TEXT NOT NULL DEFAULT '',
			channel      TEXT NOT NULL DEFAULT '',
			topic        TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMPTZ,
			summary_ref  TEXT NOT NULL DEFAULT '',
			embedding    vector(%[2]d)
		);
		CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s USING hnsw (embedding vector_cosine_ops);
		CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s USING gin (to_tsvector('simple', title));
	`, pq.QuoteIdentifier(s.table), dimension,
		pq.QuoteIdentifier(s.table+"_embedding_idx"), pq.QuoteIdentifier(s.table+"_title_idx"))
}

// Migrate 执行建表语句。
func (s *PGStore) Migrate(ctx context.Context, dimension int) error {
	if _, err := s.db.ExecContext(ctx, s.Schema(dimension)); err != nil {
		return errors.Wrap(err, "failed to migrate items table")
	}
	return nil
}

// Upsert 写入或更新物品。
func (s *PGStore) Upsert(ctx context.Context, item core.CandidateItem) error {
	stmt := `
		INSERT INTO ` + pq.QuoteIdentifier(s.table) + ` (id, title, channel, topic, published_at, summary_ref, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			title = EXCLUDED.title,
			channel = EXCLUDED.channel,
			topic = EXCLUDED.topic,
			published_at = EXCLUDED.published_at,
			summary_ref = EXCLUDED.summary_ref,
			embedding = EXCLUDED.embedding
	`
	var published any
	if !item.PublishedAt.IsZero() {
		published = item.PublishedAt
	}
	var embedding any
	if len(item.Embedding) > 0 {
		embedding = pgvector.NewVector(ToFloat32(item.Embedding))
	}
	_, err := s.db.ExecContext(ctx, stmt,
		item.ID, item.Title, item.Group, item.Topic, published, item.SummaryRef, embedding,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert item %s", item.ID)
	}
	return nil
}

// Search 按余弦相似度检索，分数为 1 - cosine_distance，取值 [-1,1]。
func (s *PGStore) Search(ctx context.Context, vector []float64, topK int) ([]core.SearchHit, error) {
	query := `
		SELECT id, 1 - (embedding <=> $1) AS score
		FROM ` + pq.QuoteIdentifier(s.table) + `
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1, id
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(ToFloat32(vector)), topK)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search by vector")
	}
	return scanHits(rows)
}

// SearchByText 按标题全文检索。
func (s *PGStore) SearchByText(ctx context.Context, text string, topK int) ([]core.SearchHit, error) {
	query := `
		SELECT id, ts_rank(to_tsvector('simple', title), plainto_tsquery('simple', $1)) AS score
		FROM ` + pq.QuoteIdentifier(s.table) + `
		WHERE to_tsvector('simple', title) @@ plainto_tsquery('simple', $1)
		ORDER BY score DESC, id
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, text, topK)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search by text")
	}
	return scanHits(rows)
}

func scanHits(rows *sql.Rows) ([]core.SearchHit, error) {
	defer rows.Close()

	hits := []core.SearchHit{}
	for rows.Next() {
		var h core.SearchHit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, errors.Wrap(err, "failed to scan search hit")
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

// GetEmbeddings 批量读取向量；没有向量的物品不出现在结果中。
func (s *PGStore) GetEmbeddings(ctx context.Context, itemIDs []string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	query := `SELECT id, embedding FROM ` + pq.QuoteIdentifier(s.table) + ` WHERE id = ANY($1) AND embedding IS NOT NULL`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(itemIDs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get embeddings")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			vec pgvector.Vector
		)
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, errors.Wrap(err, "failed to scan embedding")
		}
		out[id] = ToFloat64(vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetItems 批量读取物品元数据（含向量）。
func (s *PGStore) GetItems(ctx context.Context, itemIDs []string) (map[string]core.CandidateItem, error) {
	out := make(map[string]core.CandidateItem, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	query := `
		SELECT id, title, channel, topic, published_at, summary_ref, embedding::text
		FROM ` + pq.QuoteIdentifier(s.table) + `
		WHERE id = ANY($1)
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(itemIDs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get items")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it        core.CandidateItem
			published sql.NullTime
			embedding sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.Title, &it.Group, &it.Topic, &published, &it.SummaryRef, &embedding); err != nil {
			return nil, errors.Wrap(err, "failed to scan item")
		}
		if published.Valid {
			it.PublishedAt = published.Time.In(time.UTC)
		}
		if embedding.Valid {
			var vec pgvector.Vector
			if err := vec.Scan(embedding.String); err != nil {
				return nil, errors.Wrapf(err, "failed to parse embedding of %s", it.ID)
			}
			it.Embedding = ToFloat64(vec.Slice())
		}
		out[it.ID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ToFloat32 转换为 pgvector 使用的 float32。
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// ToFloat64 转换为系统内使用的 float64。
func ToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

var (
	_ core.VectorSearcher  = (*PGStore)(nil)
	_ core.LexicalSearcher = (*PGStore)(nil)
	_ core.EmbeddingLookup = (*PGStore)(nil)
	_ core.ItemLookup      = (*PGStore)(nil)
)
