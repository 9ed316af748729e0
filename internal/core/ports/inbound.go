package ports

import (
	"context"
	"io"

	"github.com/kirillkom/localrag/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// QuestionAnswerer is the inbound contract of the hybrid retrieval pipeline.
type QuestionAnswerer interface {
	Answer(ctx context.Context, question string, filter domain.SearchFilter) (*domain.Answer, error)
}

// HybridSearcher runs retrieval, fusion, rerank and dedup without generation.
type HybridSearcher interface {
	Search(ctx context.Context, query string, filter domain.SearchFilter) ([]domain.ScoredResult, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context, limit, offset int) ([]domain.Document, error)
}

// DocumentRemover deletes a document and its chunks from every index.
type DocumentRemover interface {
	Delete(ctx context.Context, id string) (*domain.DeletedDocument, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// FeedbackService records and aggregates answer feedback.
type FeedbackService interface {
	Submit(ctx context.Context, fb domain.Feedback) (*domain.Feedback, error)
	Stats(ctx context.Context) (domain.FeedbackStats, error)
	Reasons() []string
}

// EvaluationService runs test cases through the pipeline and stores the records.
type EvaluationService interface {
	Run(ctx context.Context, name string, cases []domain.EvaluationCase) (*domain.EvaluationRun, error)
	GetRun(ctx context.Context, id string) (*domain.EvaluationRun, []domain.EvaluationResult, error)
	ListRuns(ctx context.Context, limit int) ([]domain.EvaluationRun, error)
}
