package qdrant

import (
	"context"
	"strings"

	"github.com/kirillkom/localrag/internal/core/domain"
)

const sparseVectorName = "text"

// SparseIndex is the lexical backend: hashed term frequencies stored as a named sparse
// vector, with Qdrant applying IDF at query time.
type SparseIndex struct {
	client *Client
}

func NewSparseIndex(client *Client) *SparseIndex {
	return &SparseIndex{client: client}
}

func (s *SparseIndex) Name() string { return "lexical" }

func (s *SparseIndex) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *SparseIndex) IndexChunks(ctx context.Context, chunks []domain.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	schema := map[string]any{
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{"modifier": "idf"},
		},
	}
	if err := s.client.ensureCollection(ctx, schema); err != nil {
		return nil, err
	}

	points := make([]point, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		vec := encodeSparseDocument(c.Text, c.Metadata.DocTitle)
		if len(vec.Indices) == 0 {
			continue
		}
		points = append(points, point{
			ID:      pointID(c.ChunkID),
			Vector:  map[string]sparseVector{sparseVectorName: vec},
			Payload: toPayload(c),
		})
		ids = append(ids, c.ChunkID)
	}
	if len(points) == 0 {
		return ids, nil
	}
	if err := s.client.upsert(ctx, points); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SparseIndex) Search(ctx context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.ScoredResult, error) {
	vec := encodeSparseQuery(query)
	if strings.TrimSpace(query) == "" || topK <= 0 || len(vec.Indices) == 0 {
		return []domain.ScoredResult{}, nil
	}

	body := map[string]any{
		"vector": map[string]any{
			"name":   sparseVectorName,
			"vector": vec,
		},
		"limit":        topK,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}
	if filter.MinScore > 0 {
		body["score_threshold"] = filter.MinScore
	}
	results, err := s.client.search(ctx, body)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Debug.LexicalScore = results[i].Score
	}
	return results, nil
}

func (s *SparseIndex) DeleteDocument(ctx context.Context, docID string) (int, error) {
	return s.client.deleteDocument(ctx, docID)
}
