package pgvector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/localrag/internal/core/domain"
)

type embedderFake struct {
	dim int
}

func (f embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = 1
	}
	return out, nil
}

func (f embedderFake) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	v := make([]float32, f.dim)
	v[0] = 0.5
	return v, nil
}

func TestIndexChunksUpsertsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	chunks := []domain.Chunk{
		{ChunkID: "d_001", DocID: "d", ChunkIndex: 0, Text: "a", Metadata: domain.ChunkMetadata{DocTitle: "T", Source: "t.md", CreatedAt: created}},
		{ChunkID: "d_002", DocID: "d", ChunkIndex: 1, Text: "b", Metadata: domain.ChunkMetadata{DocTitle: "T", Source: "t.md", CreatedAt: created}},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO chunk_embeddings")
	prep.ExpectExec().
		WithArgs("d_001", "d", 0, "a", "T", "t.md", "", "", 0, "", created, "[1,0]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("d_002", "d", 1, "b", "T", "t.md", "", "", 0, "", created, "[1,0]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	index := New(db, embedderFake{dim: 2}, 2)
	ids, err := index.IndexChunks(context.Background(), chunks)
	if err != nil {
		t.Fatalf("IndexChunks() error = %v", err)
	}
	if len(ids) != 2 || ids[1] != "d_002" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIndexChunksRejectsWrongDimensions(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	index := New(db, embedderFake{dim: 3}, 2)
	_, err = index.IndexChunks(context.Background(), []domain.Chunk{{ChunkID: "d_001", DocID: "d", Text: "a"}})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestSearchOrdersByCosineDistance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("1 - \\(embedding <=> \\$1\\) >= \\$5\\s+ORDER BY embedding <=> \\$1").
		WithArgs("[0.5,0]", "d", "", "", 0.3, 3).
		WillReturnRows(sqlmock.NewRows([]string{
			"chunk_id", "doc_id", "chunk_index", "text", "doc_title", "source", "file_type", "language", "page", "section", "created_at", "score",
		}).AddRow("d_002", "d", 1, "Премиум", "Тарифы", "pricing.pdf", "pdf", "ru", 2, "Цены", created, 0.91))

	index := New(db, embedderFake{dim: 2}, 2)
	results, err := index.Search(context.Background(), "премиум", 3, domain.SearchFilter{DocID: "d", MinScore: 0.3})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	got := results[0]
	if got.Score != 0.91 || got.Debug.DenseScore != 0.91 || got.Metadata.Page != 2 || got.Metadata.Section != "Цены" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchFailureIsUpstreamUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM chunk_embeddings").WillReturnError(errors.New("connection refused"))

	_, err = New(db, embedderFake{dim: 2}, 2).Search(context.Background(), "q", 3, domain.SearchFilter{})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestDeleteDocumentReportsRowsRemoved(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("DELETE FROM chunk_embeddings").
		WithArgs("d").
		WillReturnResult(sqlmock.NewResult(0, 4))

	removed, err := New(db, embedderFake{dim: 2}, 2).DeleteDocument(context.Background(), "d")
	if err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if removed != 4 {
		t.Fatalf("expected 4 removed, got %d", removed)
	}
}

func TestEnsureSchemaRequiresDimensions(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	if err := New(db, embedderFake{dim: 2}, 0).EnsureSchema(context.Background()); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
