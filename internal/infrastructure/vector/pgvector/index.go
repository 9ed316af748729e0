// Package pgvector is the Postgres dense index backend.
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
	"github.com/kirillkom/localrag/internal/infrastructure/repository/postgres"
)

// Index stores one embedding row per chunk and ranks by cosine distance.
type Index struct {
	db         *sql.DB
	embedder   ports.Embedder
	dimensions int
}

func New(db *sql.DB, embedder ports.Embedder, dimensions int) *Index {
	return &Index{db: db, embedder: embedder, dimensions: dimensions}
}

func (i *Index) Name() string { return "dense" }

func (i *Index) Ping(ctx context.Context) error {
	return i.db.PingContext(ctx)
}

// EnsureSchema creates the extension, the table sized to the embedding model and its HNSW index.
func (i *Index) EnsureSchema(ctx context.Context) error {
	if i.dimensions <= 0 {
		return domain.WrapError(domain.ErrConfiguration, "pgvector ensure schema",
			fmt.Errorf("embedding dimensions must be positive, got %d", i.dimensions))
	}
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunk_embeddings (
	chunk_id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	doc_title TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	file_type TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	page INTEGER NOT NULL DEFAULT 0,
	section TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	embedding vector(%d) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_doc_id ON chunk_embeddings(doc_id);
CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_hnsw ON chunk_embeddings USING hnsw (embedding vector_cosine_ops);
`, i.dimensions)
	return postgres.ExecSchema(ctx, i.db, ddl)
}

const upsertChunk = `
INSERT INTO chunk_embeddings (chunk_id, doc_id, chunk_index, text, doc_title, source, file_type, language, page, section, created_at, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (chunk_id) DO UPDATE
SET doc_id = EXCLUDED.doc_id, chunk_index = EXCLUDED.chunk_index, text = EXCLUDED.text,
	doc_title = EXCLUDED.doc_title, source = EXCLUDED.source, file_type = EXCLUDED.file_type,
	language = EXCLUDED.language, page = EXCLUDED.page, section = EXCLUDED.section,
	created_at = EXCLUDED.created_at, embedding = EXCLUDED.embedding
`

func (i *Index) IndexChunks(ctx context.Context, chunks []domain.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	vectors, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(domain.ErrUpstreamUnavailable, "pgvector index chunks",
			fmt.Errorf("chunks/vectors mismatch: %d chunks, %d vectors", len(chunks), len(vectors)))
	}
	for _, v := range vectors {
		if len(v) != i.dimensions {
			return nil, domain.WrapError(domain.ErrConfiguration, "pgvector index chunks",
				fmt.Errorf("embedding has %d dimensions, table expects %d", len(v), i.dimensions))
		}
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, upstream("begin index tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, upsertChunk)
	if err != nil {
		return nil, upstream("prepare chunk upsert", err)
	}
	defer stmt.Close()

	ids := make([]string, 0, len(chunks))
	for n, c := range chunks {
		m := c.Metadata
		_, err := stmt.ExecContext(ctx,
			c.ChunkID, c.DocID, c.ChunkIndex, c.Text, m.DocTitle, m.Source, m.FileType, m.Language,
			m.Page, m.Section, m.CreatedAt, pgvector.NewVector(vectors[n]),
		)
		if err != nil {
			return nil, upstream("upsert chunk "+c.ChunkID, err)
		}
		ids = append(ids, c.ChunkID)
	}
	if err := tx.Commit(); err != nil {
		return nil, upstream("commit index tx", err)
	}
	return ids, nil
}

const searchChunks = `
SELECT chunk_id, doc_id, chunk_index, text, doc_title, source, file_type, language, page, section, created_at,
	1 - (embedding <=> $1) AS score
FROM chunk_embeddings
WHERE ($2 = '' OR doc_id = $2) AND ($3 = '' OR file_type = $3) AND ($4 = '' OR language = $4)
	AND 1 - (embedding <=> $1) >= $5
ORDER BY embedding <=> $1
LIMIT $6
`

func (i *Index) Search(ctx context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.ScoredResult, error) {
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return []domain.ScoredResult{}, nil
	}
	vector, err := i.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := i.db.QueryContext(ctx, searchChunks,
		pgvector.NewVector(vector), filter.DocID, filter.FileType, filter.Language, filter.MinScore, topK)
	if err != nil {
		return nil, upstream("search chunks", err)
	}
	defer rows.Close()

	out := make([]domain.ScoredResult, 0, topK)
	for rows.Next() {
		var r domain.ScoredResult
		var createdAt time.Time
		m := &r.Metadata
		if err := rows.Scan(&r.ChunkID, &r.DocID, &r.ChunkIndex, &r.Text, &m.DocTitle, &m.Source, &m.FileType,
			&m.Language, &m.Page, &m.Section, &createdAt, &r.Score); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		m.CreatedAt = createdAt.UTC()
		r.Debug.DenseScore = r.Score
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, upstream("iterate chunks", err)
	}
	return out, nil
}

func (i *Index) DeleteDocument(ctx context.Context, docID string) (int, error) {
	res, err := i.db.ExecContext(ctx, `DELETE FROM chunk_embeddings WHERE doc_id = $1`, docID)
	if err != nil {
		return 0, upstream("delete chunks", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete chunks rows affected: %w", err)
	}
	return int(removed), nil
}

func upstream(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrUpstreamTimeout, "pgvector "+op, err)
	default:
		return domain.WrapError(domain.ErrUpstreamUnavailable, "pgvector "+op, err)
	}
}
