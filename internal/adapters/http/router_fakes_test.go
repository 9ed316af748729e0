package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/localrag/internal/config"
	"github.com/kirillkom/localrag/internal/core/domain"
)

type ingestFake struct {
	err error
}

func (f ingestFake) Upload(_ context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("file is empty"))
	}

	now := time.Now().UTC()
	return &domain.Document{
		ID:          "doc-1",
		Title:       domain.TitleFromFilename(filename),
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: "doc-1_" + filename,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

type answererFake struct {
	err      error
	question string
	filter   domain.SearchFilter
}

func (f *answererFake) Answer(_ context.Context, question string, filter domain.SearchFilter) (*domain.Answer, error) {
	f.question = question
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Answer{
		Answer: "Basic costs 10 USD.",
		Citations: []domain.Citation{{
			Source:     "pricing.md",
			DocTitle:   "pricing",
			ChunkID:    "doc-1_chunk_0001",
			Confidence: 0.9,
		}},
		Debug: domain.AnswerDebug{TraceID: "trace-1"},
	}, nil
}

func (f *answererFake) Search(_ context.Context, query string, filter domain.SearchFilter) ([]domain.ScoredResult, error) {
	f.question = query
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return []domain.ScoredResult{{ChunkID: "doc-1_chunk_0001", DocID: "doc-1", Text: "Basic: 10 USD", Score: 0.8}}, nil
}

type documentsFake struct {
	err    error
	limit  int
	offset int
}

func (f *documentsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, Filename: "a.txt", MimeType: "text/plain", StoragePath: "a", Status: domain.StatusReady}, nil
}

func (f *documentsFake) List(_ context.Context, limit, offset int) ([]domain.Document, error) {
	f.limit, f.offset = limit, offset
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Document{{ID: "doc-1"}, {ID: "doc-2"}}, nil
}

func (f *documentsFake) Delete(_ context.Context, id string) (*domain.DeletedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DeletedDocument{DocumentID: id, LexicalRemoved: 3, DenseRemoved: 3}, nil
}

type feedbackFake struct {
	err  error
	last domain.Feedback
}

func (f *feedbackFake) Submit(_ context.Context, fb domain.Feedback) (*domain.Feedback, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.last = fb
	fb.ID = "fb-1"
	fb.CreatedAt = time.Now().UTC()
	return &fb, nil
}

func (f *feedbackFake) Stats(context.Context) (domain.FeedbackStats, error) {
	return domain.FeedbackStats{PeriodDays: 30, Total: 4, Positive: 3, Negative: 1, PositivePercentage: 75}, nil
}

func (f *feedbackFake) Reasons() []string { return []string{"не по теме"} }

type evaluationFake struct {
	err   error
	cases []domain.EvaluationCase
}

func (f *evaluationFake) Run(_ context.Context, name string, cases []domain.EvaluationCase) (*domain.EvaluationRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.cases = cases
	return &domain.EvaluationRun{ID: "run-1", Name: name, Status: domain.EvaluationCompleted, TotalCases: len(cases), CompletedCases: len(cases)}, nil
}

func (f *evaluationFake) GetRun(_ context.Context, id string) (*domain.EvaluationRun, []domain.EvaluationResult, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return &domain.EvaluationRun{ID: id}, []domain.EvaluationResult{{RunID: id, Question: "q", Contexts: []string{}}}, nil
}

func (f *evaluationFake) ListRuns(context.Context, int) ([]domain.EvaluationRun, error) {
	return []domain.EvaluationRun{{ID: "run-1"}}, nil
}

type checkerFake struct {
	name string
	err  error
}

func (c checkerFake) Name() string { return c.name }
func (c checkerFake) Ping(context.Context) error { return c.err }

func testServices() Services {
	answerer := &answererFake{}
	return Services{
		Ingestor:   ingestFake{},
		Answerer:   answerer,
		Searcher:   answerer,
		Documents:  &documentsFake{},
		Feedback:   &feedbackFake{},
		Evaluation: &evaluationFake{},
	}
}

func newTestHandler(cfg config.Config, svc Services) http.Handler {
	return NewRouter(cfg, svc).Handler()
}
