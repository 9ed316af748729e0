package qdrant

import (
	"context"
	"strings"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

// DenseIndex keeps one cosine vector per chunk.
type DenseIndex struct {
	client   *Client
	embedder ports.Embedder
}

func NewDenseIndex(client *Client, embedder ports.Embedder) *DenseIndex {
	return &DenseIndex{client: client, embedder: embedder}
}

func (d *DenseIndex) Name() string { return "dense" }

func (d *DenseIndex) Ping(ctx context.Context) error { return d.client.Ping(ctx) }

func (d *DenseIndex) IndexChunks(ctx context.Context, chunks []domain.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	vectors, err := d.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if err := checkLengths(len(chunks), len(vectors)); err != nil {
		return nil, err
	}

	schema := map[string]any{
		"vectors": map[string]any{
			"size":     len(vectors[0]),
			"distance": "Cosine",
		},
	}
	if err := d.client.ensureCollection(ctx, schema); err != nil {
		return nil, err
	}

	points := make([]point, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, point{ID: pointID(c.ChunkID), Vector: vectors[i], Payload: toPayload(c)})
		ids = append(ids, c.ChunkID)
	}
	if err := d.client.upsert(ctx, points); err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *DenseIndex) Search(ctx context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.ScoredResult, error) {
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return []domain.ScoredResult{}, nil
	}
	vector, err := d.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}
	if filter.MinScore > 0 {
		body["score_threshold"] = filter.MinScore
	}
	results, err := d.client.search(ctx, body)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Debug.DenseScore = results[i].Score
	}
	return results, nil
}

func (d *DenseIndex) DeleteDocument(ctx context.Context, docID string) (int, error) {
	return d.client.deleteDocument(ctx, docID)
}
