// Package meili is the Meilisearch lexical index backend.
package meili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/infrastructure/resilience"
)

const taskPollInterval = 50 * time.Millisecond

var (
	filterableAttributes = []interface{}{"doc_id", "file_type", "language"}
	// Meilisearch ranks matches in earlier attributes higher.
	searchableAttributes = []string{"doc_title", "text", "section"}
)

type Index struct {
	client   meilisearch.ServiceManager
	index    meilisearch.IndexManager
	name     string
	executor *resilience.Executor

	ensureMu sync.Mutex
	ensured  bool
}

func New(url, apiKey, indexName string, executor *resilience.Executor) *Index {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	client := meilisearch.New(url, meilisearch.WithAPIKey(apiKey))
	return &Index{
		client:   client,
		index:    client.Index(indexName),
		name:     indexName,
		executor: executor,
	}
}

// chunkDocument is the stored shape of a chunk. The primary key is the chunk id.
type chunkDocument struct {
	ID         string `json:"id"`
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

type searchHit struct {
	chunkDocument
	RankingScore float64 `json:"_rankingScore"`
}

type searchResponse struct {
	Hits []searchHit `json:"hits"`
}

func (i *Index) Name() string { return "lexical" }

func (i *Index) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := i.client.HealthWithContext(ctx); err != nil {
		return resilience.WrapUpstream("meili health", err, classifyMeiliError)
	}
	return nil
}

// EnsureIndex creates the index with an explicit primary key and the filterable attributes.
func (i *Index) EnsureIndex(ctx context.Context) error {
	i.ensureMu.Lock()
	defer i.ensureMu.Unlock()
	if i.ensured {
		return nil
	}

	err := i.executor.Execute(ctx, "meili.ensure_index", func(ctx context.Context) error {
		if _, err := i.index.FetchInfoWithContext(ctx); err != nil {
			task, err := i.client.CreateIndexWithContext(ctx, &meilisearch.IndexConfig{Uid: i.name, PrimaryKey: "id"})
			if err != nil {
				return err
			}
			if err := i.waitTask(ctx, task.TaskUID); err != nil {
				return err
			}
			slog.Info("meili_index_created", "index", i.name)
		}
		task, err := i.index.UpdateFilterableAttributesWithContext(ctx, &filterableAttributes)
		if err != nil {
			return err
		}
		if err := i.waitTask(ctx, task.TaskUID); err != nil {
			return err
		}
		task, err = i.index.UpdateSearchableAttributesWithContext(ctx, &searchableAttributes)
		if err != nil {
			return err
		}
		return i.waitTask(ctx, task.TaskUID)
	}, classifyMeiliError)
	if err != nil {
		return resilience.WrapUpstream("meili ensure index", err, classifyMeiliError)
	}
	i.ensured = true
	return nil
}

func (i *Index) IndexChunks(ctx context.Context, chunks []domain.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := i.EnsureIndex(ctx); err != nil {
		return nil, err
	}

	docs := make([]chunkDocument, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, toDocument(c))
		ids = append(ids, c.ChunkID)
	}

	err := i.executor.Execute(ctx, "meili.add_documents", func(ctx context.Context) error {
		task, err := i.index.AddDocumentsWithContext(ctx, docs, nil)
		if err != nil {
			return err
		}
		return i.waitTask(ctx, task.TaskUID)
	}, classifyMeiliError)
	if err != nil {
		return nil, resilience.WrapUpstream("meili index chunks", err, classifyMeiliError)
	}
	return ids, nil
}

func (i *Index) Search(ctx context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.ScoredResult, error) {
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return []domain.ScoredResult{}, nil
	}
	req := &meilisearch.SearchRequest{
		Limit:                 int64(topK),
		ShowRankingScore:      true,
		RankingScoreThreshold: filter.MinScore,
	}
	if f := buildFilter(filter); f != "" {
		req.Filter = f
	}

	resp, err := resilience.Call(ctx, i.executor, "meili.search", func(ctx context.Context) (searchResponse, error) {
		if err := ctx.Err(); err != nil {
			return searchResponse{}, err
		}
		raw, err := i.index.SearchRawWithContext(ctx, query, req)
		if err != nil {
			return searchResponse{}, err
		}
		var out searchResponse
		if raw != nil {
			if err := json.Unmarshal(*raw, &out); err != nil {
				return searchResponse{}, fmt.Errorf("decode meili search response: %w", err)
			}
		}
		return out, nil
	}, classifyMeiliError)
	if err != nil {
		return nil, resilience.WrapUpstream("meili search", err, classifyMeiliError)
	}

	results := make([]domain.ScoredResult, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, toResult(hit))
	}
	return results, nil
}

// DeleteDocument removes every chunk of docID and reports how many were dropped.
func (i *Index) DeleteDocument(ctx context.Context, docID string) (int, error) {
	if err := i.EnsureIndex(ctx); err != nil {
		return 0, err
	}
	removed, err := resilience.Call(ctx, i.executor, "meili.delete_document", func(ctx context.Context) (int, error) {
		task, err := i.index.DeleteDocumentsByFilterWithContext(ctx, buildFilter(domain.SearchFilter{DocID: docID}), nil)
		if err != nil {
			return 0, err
		}
		done, err := i.waitTaskResult(ctx, task.TaskUID)
		if err != nil {
			return 0, err
		}
		return int(done.Details.DeletedDocuments), nil
	}, classifyMeiliError)
	if err != nil {
		return 0, resilience.WrapUpstream("meili delete document", err, classifyMeiliError)
	}
	return removed, nil
}

func (i *Index) waitTask(ctx context.Context, taskUID int64) error {
	_, err := i.waitTaskResult(ctx, taskUID)
	return err
}

func (i *Index) waitTaskResult(ctx context.Context, taskUID int64) (*meilisearch.Task, error) {
	task, err := i.index.WaitForTaskWithContext(ctx, taskUID, taskPollInterval)
	if err != nil {
		return nil, err
	}
	if task.Status != meilisearch.TaskStatusSucceeded {
		return nil, fmt.Errorf("meili task %d finished with status %s", taskUID, task.Status)
	}
	return task, nil
}

func toDocument(c domain.Chunk) chunkDocument {
	return chunkDocument{
		ID:         c.ChunkID,
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

func toResult(hit searchHit) domain.ScoredResult {
	return domain.ScoredResult{
		ChunkID:    hit.ID,
		DocID:      hit.DocID,
		ChunkIndex: hit.ChunkIndex,
		Text:       hit.Text,
		Metadata: domain.ChunkMetadata{
			DocTitle:  hit.DocTitle,
			Source:    hit.Source,
			FileType:  hit.FileType,
			Language:  hit.Language,
			Page:      hit.Page,
			Section:   hit.Section,
			CreatedAt: time.Unix(hit.CreatedAt, 0).UTC(),
		},
		Score: hit.RankingScore,
		Debug: domain.ScoreDebug{LexicalScore: hit.RankingScore},
	}
}

// buildFilter renders the filter as a Meilisearch expression with every value quoted and escaped.
func buildFilter(filter domain.SearchFilter) string {
	var parts []string
	add := func(attr, value string) {
		if value == "" {
			return
		}
		escaped := strings.ReplaceAll(value, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		parts = append(parts, fmt.Sprintf(`%s = "%s"`, attr, escaped))
	}
	add("doc_id", filter.DocID)
	add("file_type", filter.FileType)
	add("language", filter.Language)
	return strings.Join(parts, " AND ")
}

func classifyMeiliError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ClassifyHTTP(err)
	}
	var meiliErr *meilisearch.Error
	if errors.As(err, &meiliErr) {
		if meiliErr.StatusCode == 0 || resilience.IsRetryableHTTPStatus(meiliErr.StatusCode) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyHTTP(err)
}
