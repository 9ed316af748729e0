package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/localrag/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	FindReadyByContentHash(ctx context.Context, hash string) (*domain.Document, error)
	List(ctx context.Context, limit, offset int) ([]domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	MarkIndexed(ctx context.Context, id string, contentHash string, totalChunks int) error
	Delete(ctx context.Context, id string) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (domain.ExtractedText, error)
}

// Tokenizer counts tokens under a fixed, deterministic contract.
type Tokenizer interface {
	Count(text string) (int, error)
}

// Chunker splits document text into bounded, overlapping chunks.
type Chunker interface {
	CreateChunks(text string, src domain.ChunkSource) ([]domain.Chunk, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SearchIndex is the contract shared by the lexical and dense indexes.
// IndexChunks is idempotent by chunk id; Search returns results highest score first.
type SearchIndex interface {
	IndexChunks(ctx context.Context, chunks []domain.Chunk) ([]string, error)
	Search(ctx context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.ScoredResult, error)
	DeleteDocument(ctx context.Context, docID string) (int, error)
}

// LexicalIndex ranks chunks by term statistics.
type LexicalIndex interface {
	SearchIndex
}

// DenseIndex ranks chunks by embedding similarity.
type DenseIndex interface {
	SearchIndex
}

// CrossEncoder scores (query, passage) pairs jointly. Scores align with passages by position.
type CrossEncoder interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
	Model() string
}

// Generator produces answer text from a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error)
	Model() string
}

// AnswerCache stores complete answers keyed by question, filter and config version.
type AnswerCache interface {
	Get(ctx context.Context, key string) (*domain.Answer, bool, error)
	Set(ctx context.Context, key string, answer *domain.Answer, ttl time.Duration) error
}

// FeedbackRepository persists user feedback on answers.
type FeedbackRepository interface {
	Create(ctx context.Context, fb *domain.Feedback) error
	Stats(ctx context.Context, since time.Time, recentLimit int) (domain.FeedbackStats, error)
}

// EvaluationRepository persists evaluation runs and their per-case records.
type EvaluationRepository interface {
	CreateRun(ctx context.Context, run *domain.EvaluationRun) error
	SaveResult(ctx context.Context, result domain.EvaluationResult) error
	FinishRun(ctx context.Context, run *domain.EvaluationRun) error
	GetRun(ctx context.Context, id string) (*domain.EvaluationRun, error)
	ListRuns(ctx context.Context, limit int) ([]domain.EvaluationRun, error)
	ListResults(ctx context.Context, runID string) ([]domain.EvaluationResult, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Name() string
	Ping(ctx context.Context) error
}

// PipelineConfigSource hands out the current pipeline snapshot. Callers must not mutate it.
type PipelineConfigSource interface {
	Current() *domain.PipelineConfig
}

// PipelineObserver receives per-request pipeline measurements.
type PipelineObserver interface {
	ObserveStage(stage string, d time.Duration)
	ObserveDegraded(source string)
	ObserveCacheLookup(hit bool)
}
