// Package qdrant stores chunks in Qdrant collections, either as dense embeddings or as
// sparse term vectors for the lexical side.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/infrastructure/httpjson"
	"github.com/kirillkom/localrag/internal/infrastructure/resilience"
)

// pointNamespace seeds the deterministic point ids derived from chunk ids.
var pointNamespace = uuid.MustParse("6f1c8a52-3d0e-4b7a-9c55-2a8e4f1b7d30")

// Client talks to a single collection over the REST API.
type Client struct {
	http       *httpjson.Client
	collection string
	executor   *resilience.Executor

	ensureMu sync.Mutex
	ensured  bool
}

func New(baseURL, collection, apiKey string, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		http:       httpjson.New("qdrant", baseURL, &http.Client{Timeout: 60 * time.Second}).WithHeader("api-key", apiKey),
		collection: collection,
		executor:   executor,
	}
}

func (c *Client) Collection() string { return c.collection }

// Ping lists collections, which needs no particular collection to exist.
func (c *Client) Ping(ctx context.Context) error {
	err := c.executor.Execute(ctx, "qdrant.ping", func(ctx context.Context) error {
		return c.http.Get(ctx, "/collections", nil, "ping")
	}, resilience.ClassifyHTTP)
	if err != nil {
		return resilience.WrapUpstream("qdrant ping", err, resilience.ClassifyHTTP)
	}
	return nil
}

// pointID maps a chunk id to a stable UUID so re-indexing overwrites the same point.
func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

type chunkPayload struct {
	ChunkID    string `json:"chunk_id"`
	DocID      string `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	DocTitle   string `json:"doc_title"`
	Source     string `json:"source"`
	FileType   string `json:"file_type,omitempty"`
	Language   string `json:"language,omitempty"`
	Page       int    `json:"page,omitempty"`
	Section    string `json:"section,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

func toPayload(c domain.Chunk) chunkPayload {
	return chunkPayload{
		ChunkID:    c.ChunkID,
		DocID:      c.DocID,
		ChunkIndex: c.ChunkIndex,
		Text:       c.Text,
		DocTitle:   c.Metadata.DocTitle,
		Source:     c.Metadata.Source,
		FileType:   c.Metadata.FileType,
		Language:   c.Metadata.Language,
		Page:       c.Metadata.Page,
		Section:    c.Metadata.Section,
		CreatedAt:  c.Metadata.CreatedAt.Unix(),
	}
}

func (p chunkPayload) result(score float64) domain.ScoredResult {
	return domain.ScoredResult{
		ChunkID:    p.ChunkID,
		DocID:      p.DocID,
		ChunkIndex: p.ChunkIndex,
		Text:       p.Text,
		Metadata: domain.ChunkMetadata{
			DocTitle:  p.DocTitle,
			Source:    p.Source,
			FileType:  p.FileType,
			Language:  p.Language,
			Page:      p.Page,
			Section:   p.Section,
			CreatedAt: time.Unix(p.CreatedAt, 0).UTC(),
		},
		Score: score,
	}
}

type point struct {
	ID      string       `json:"id"`
	Vector  any          `json:"vector"`
	Payload chunkPayload `json:"payload"`
}

type scoredPoint struct {
	Score   float64      `json:"score"`
	Payload chunkPayload `json:"payload"`
}

type matchCondition struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

type pointFilter struct {
	Must []matchCondition `json:"must"`
}

func buildFilter(filter domain.SearchFilter) *pointFilter {
	var must []matchCondition
	add := func(key, value string) {
		if value != "" {
			must = append(must, matchCondition{Key: key, Match: map[string]any{"value": value}})
		}
	}
	add("doc_id", filter.DocID)
	add("file_type", filter.FileType)
	add("language", filter.Language)
	if len(must) == 0 {
		return nil
	}
	return &pointFilter{Must: must}
}

// ensureCollection creates the collection from schema unless it already exists.
func (c *Client) ensureCollection(ctx context.Context, schema map[string]any) error {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if c.ensured {
		return nil
	}

	path := c.collectionPath("")
	err := c.executor.Execute(ctx, "qdrant.ensure_collection", func(ctx context.Context) error {
		err := c.http.Get(ctx, path, nil, "get collection")
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		err = c.http.Put(ctx, path, schema, nil, "create collection")
		// another replica may have created it in between
		if statusCode(err) == http.StatusConflict {
			return nil
		}
		if err == nil {
			slog.Info("qdrant_collection_created", "collection", c.collection)
		}
		return err
	}, resilience.ClassifyHTTP)
	if err != nil {
		return resilience.WrapUpstream("qdrant ensure collection", err, resilience.ClassifyHTTP)
	}
	c.ensured = true
	return nil
}

func (c *Client) upsert(ctx context.Context, points []point) error {
	err := c.executor.Execute(ctx, "qdrant.upsert", func(ctx context.Context) error {
		return c.http.Put(ctx, c.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil, "upsert")
	}, resilience.ClassifyHTTP)
	if err != nil {
		return resilience.WrapUpstream("qdrant upsert", err, resilience.ClassifyHTTP)
	}
	return nil
}

// search posts a search request. A missing collection means nothing was indexed yet.
func (c *Client) search(ctx context.Context, body map[string]any) ([]domain.ScoredResult, error) {
	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	err := c.executor.Execute(ctx, "qdrant.search", func(ctx context.Context) error {
		return c.http.Post(ctx, c.collectionPath("/points/search"), body, &resp, "search")
	}, resilience.ClassifyHTTP)
	if isNotFound(err) {
		return []domain.ScoredResult{}, nil
	}
	if err != nil {
		return nil, resilience.WrapUpstream("qdrant search", err, resilience.ClassifyHTTP)
	}

	out := make([]domain.ScoredResult, 0, len(resp.Result))
	for _, p := range resp.Result {
		out = append(out, p.Payload.result(p.Score))
	}
	return out, nil
}

// deleteDocument counts the points of docID and then deletes them by filter.
func (c *Client) deleteDocument(ctx context.Context, docID string) (int, error) {
	filter := buildFilter(domain.SearchFilter{DocID: docID})
	var counted struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := c.executor.Execute(ctx, "qdrant.count", func(ctx context.Context) error {
		return c.http.Post(ctx, c.collectionPath("/points/count"), map[string]any{"filter": filter, "exact": true}, &counted, "count")
	}, resilience.ClassifyHTTP)
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, resilience.WrapUpstream("qdrant count", err, resilience.ClassifyHTTP)
	}
	if counted.Result.Count == 0 {
		return 0, nil
	}

	err = c.executor.Execute(ctx, "qdrant.delete", func(ctx context.Context) error {
		return c.http.Post(ctx, c.collectionPath("/points/delete?wait=true"), map[string]any{"filter": filter}, nil, "delete")
	}, resilience.ClassifyHTTP)
	if err != nil {
		return 0, resilience.WrapUpstream("qdrant delete", err, resilience.ClassifyHTTP)
	}
	return counted.Result.Count, nil
}

func (c *Client) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(c.collection) + suffix
}

func statusCode(err error) int {
	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

func isNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

func checkLengths(chunks int, vectors int) error {
	if chunks != vectors {
		return domain.WrapError(domain.ErrUpstreamUnavailable, "qdrant index chunks",
			fmt.Errorf("chunks/vectors mismatch: %d chunks, %d vectors", chunks, vectors))
	}
	return nil
}
