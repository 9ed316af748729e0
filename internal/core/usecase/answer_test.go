package usecase

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/localrag/internal/core/domain"
)

type searchIndexFake struct {
	mu       sync.Mutex
	results  []domain.ScoredResult
	err      error
	topK     int
	query    string
	filter   domain.SearchFilter
	indexed  []domain.Chunk
	indexErr error
	deleted  []string
	removed  int
}

func (f *searchIndexFake) IndexChunks(_ context.Context, chunks []domain.Chunk) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ChunkID)
	}
	f.indexed = append(f.indexed, chunks...)
	return ids, nil
}

func (f *searchIndexFake) Search(_ context.Context, query string, topK int, filter domain.SearchFilter) ([]domain.ScoredResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = query
	f.topK = topK
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *searchIndexFake) DeleteDocument(_ context.Context, docID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.deleted = append(f.deleted, docID)
	kept := f.indexed[:0]
	for _, c := range f.indexed {
		if c.DocID != docID {
			kept = append(kept, c)
		}
	}
	f.indexed = kept
	return f.removed, nil
}

type staticConfig struct {
	cfg   *domain.PipelineConfig
	calls atomic.Int32
}

func (s *staticConfig) Current() *domain.PipelineConfig {
	s.calls.Add(1)
	return s.cfg
}

type answerCacheFake struct {
	mu      sync.Mutex
	entries map[string]domain.Answer
	sets    int
}

func (c *answerCacheFake) Get(_ context.Context, key string) (*domain.Answer, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (c *answerCacheFake) Set(_ context.Context, key string, answer *domain.Answer, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]domain.Answer{}
	}
	c.entries[key] = *answer
	c.sets++
	return nil
}

type observerFake struct {
	mu       sync.Mutex
	stages   map[string]int
	degraded []string
	lookups  []bool
}

func (o *observerFake) ObserveStage(stage string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stages == nil {
		o.stages = map[string]int{}
	}
	o.stages[stage]++
}

func (o *observerFake) ObserveDegraded(source string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.degraded = append(o.degraded, source)
}

func (o *observerFake) ObserveCacheLookup(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lookups = append(o.lookups, hit)
}

const pricingQuestion = "Сколько стоит тариф Business?"

func answerPipeline(t *testing.T) *domain.PipelineConfig {
	cfg := testPipeline(t)
	cfg.Rerank.Enabled = false
	cfg.Rerank.RulesEnabled = false
	return cfg
}

func pricingLexical() []domain.ScoredResult {
	return []domain.ScoredResult{
		withMeta(domain.ScoredResult{ChunkID: "a", DocID: "d1", Text: "Тариф Business стоит $99 в месяц.", Score: 10}, "Тарифы", "pricing.pdf", 1, ""),
		withMeta(domain.ScoredResult{ChunkID: "b", DocID: "d1", Text: "Годовая оплата даёт скидку 20%.", Score: 5}, "Тарифы", "pricing.pdf", 1, ""),
	}
}

func pricingDense() []domain.ScoredResult {
	return []domain.ScoredResult{
		withMeta(domain.ScoredResult{ChunkID: "a", DocID: "d1", Text: "Тариф Business стоит $99 в месяц.", Score: 0.9}, "Тарифы", "pricing.pdf", 1, ""),
		withMeta(domain.ScoredResult{ChunkID: "c", DocID: "d2", Text: "Пробный период длится 14 дней.", Score: 0.5}, "FAQ", "faq.md", 0, ""),
	}
}

func TestAnswerZeroResultsSkipsGeneration(t *testing.T) {
	gen := &generatorFake{text: "не должно быть"}
	uc := NewAnswerUseCase(&searchIndexFake{}, &searchIndexFake{}, nil, gen, &staticConfig{cfg: answerPipeline(t)})

	answer, err := uc.Answer(context.Background(), "Есть ли интеграция с Jira?", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if answer.Answer != domain.DefaultInsufficientDataText {
		t.Fatalf("expected insufficient-data answer, got %q", answer.Answer)
	}
	if answer.Citations == nil || len(answer.Citations) != 0 {
		t.Fatalf("expected empty citation list, got %v", answer.Citations)
	}
	if gen.calls != 0 || answer.Debug.Timings.GenerationMS != 0 {
		t.Fatalf("generation must be skipped, calls=%d ms=%d", gen.calls, answer.Debug.Timings.GenerationMS)
	}
	if !answer.Debug.NoResults || answer.Debug.Degraded {
		t.Fatalf("expected no_results without degradation, got %+v", answer.Debug)
	}
}

func TestAnswerFullPipeline(t *testing.T) {
	lexical := &searchIndexFake{results: pricingLexical()}
	dense := &searchIndexFake{results: pricingDense()}
	gen := &generatorFake{text: " $99 в месяц [source: Тарифы, page 1] "}
	uc := NewAnswerUseCase(lexical, dense, nil, gen, &staticConfig{cfg: answerPipeline(t)})

	answer, err := uc.Answer(context.Background(), "  "+pricingQuestion+" ", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if answer.Answer != "$99 в месяц [source: Тарифы, page 1]" {
		t.Fatalf("unexpected answer %q", answer.Answer)
	}
	if lexical.query != pricingQuestion || lexical.topK != 20 || dense.topK != 20 {
		t.Fatalf("expected trimmed query and configured top_k, got %q %d %d", lexical.query, lexical.topK, dense.topK)
	}

	var cited []string
	for _, c := range answer.Citations {
		cited = append(cited, c.ChunkID)
	}
	if !reflect.DeepEqual(cited, []string{"a", "c"}) {
		t.Fatalf("expected citations [a c], got %v", cited)
	}
	counts := answer.Debug.Counts
	if counts.Lexical != 2 || counts.Dense != 2 || counts.Fused != 3 || counts.Unique != 3 || counts.Context != 3 {
		t.Fatalf("unexpected stage counts %+v", counts)
	}
	if answer.Debug.TraceID == "" || answer.Debug.QuestionType != domain.QuestionPricing {
		t.Fatalf("unexpected debug %+v", answer.Debug)
	}
	if answer.Debug.Confidence <= 0 || answer.Debug.Confidence > 1 {
		t.Fatalf("confidence must be in (0, 1], got %v", answer.Debug.Confidence)
	}
	if len(answer.Contexts) != 3 {
		t.Fatalf("expected 3 contexts, got %d", len(answer.Contexts))
	}
}

func TestAnswerPassesScoreFloorsToIndexes(t *testing.T) {
	cfg := answerPipeline(t)
	cfg.Retrieval.LexicalMinScore = 0.2
	cfg.Retrieval.DenseScoreThreshold = 0.45
	lexical := &searchIndexFake{results: pricingLexical()}
	dense := &searchIndexFake{results: pricingDense()}
	uc := NewAnswerUseCase(lexical, dense, nil, &generatorFake{text: "ok"}, &staticConfig{cfg: cfg})

	filter := domain.SearchFilter{DocID: "d1"}
	if _, err := uc.Answer(context.Background(), pricingQuestion, filter); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if lexical.filter != (domain.SearchFilter{DocID: "d1", MinScore: 0.2}) {
		t.Fatalf("unexpected lexical filter %+v", lexical.filter)
	}
	if dense.filter != (domain.SearchFilter{DocID: "d1", MinScore: 0.45}) {
		t.Fatalf("unexpected dense filter %+v", dense.filter)
	}
}

func TestAnswerDegradesWhenOneSourceFails(t *testing.T) {
	lexical := &searchIndexFake{err: domain.WrapError(domain.ErrUpstreamUnavailable, "meili search", errors.New("connection refused"))}
	dense := &searchIndexFake{results: pricingDense()}
	obs := &observerFake{}
	uc := NewAnswerUseCase(lexical, dense, nil, &generatorFake{text: "ok"}, &staticConfig{cfg: answerPipeline(t)}).WithObserver(obs)

	answer, err := uc.Answer(context.Background(), pricingQuestion, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !answer.Debug.Degraded || !reflect.DeepEqual(answer.Debug.DegradedSources, []string{domain.SourceLexical}) {
		t.Fatalf("expected lexical degradation, got %+v", answer.Debug)
	}
	if answer.Debug.Counts.Dense != 2 || answer.Debug.Counts.Lexical != 0 {
		t.Fatalf("unexpected counts %+v", answer.Debug.Counts)
	}
	if !reflect.DeepEqual(obs.degraded, []string{domain.SourceLexical}) {
		t.Fatalf("expected observer to see lexical degradation, got %v", obs.degraded)
	}
}

func TestAnswerFailsWhenBothSourcesFail(t *testing.T) {
	lexical := &searchIndexFake{err: domain.WrapError(domain.ErrUpstreamUnavailable, "meili", errors.New("down"))}
	dense := &searchIndexFake{err: domain.WrapError(domain.ErrUpstreamTimeout, "qdrant", context.DeadlineExceeded)}
	gen := &generatorFake{}
	uc := NewAnswerUseCase(lexical, dense, nil, gen, &staticConfig{cfg: answerPipeline(t)})

	_, err := uc.Answer(context.Background(), pricingQuestion, domain.SearchFilter{})
	if !domain.IsKind(err, domain.ErrRetrievalFailed) {
		t.Fatalf("expected retrieval failure, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrUpstreamUnavailable) || !domain.IsKind(err, domain.ErrUpstreamTimeout) {
		t.Fatalf("expected both causes to be preserved, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator must not run")
	}
}

func TestAnswerRerankerUnavailableIsDegraded(t *testing.T) {
	cfg := testPipeline(t)
	uc := NewAnswerUseCase(
		&searchIndexFake{results: pricingLexical()},
		&searchIndexFake{results: pricingDense()},
		nil,
		&generatorFake{text: "ok"},
		&staticConfig{cfg: cfg},
	)

	answer, err := uc.Answer(context.Background(), pricingQuestion, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !reflect.DeepEqual(answer.Debug.DegradedSources, []string{domain.SourceReranker}) {
		t.Fatalf("expected reranker degradation, got %+v", answer.Debug.DegradedSources)
	}
}

func TestAnswerValidatesQuestionLength(t *testing.T) {
	uc := NewAnswerUseCase(&searchIndexFake{}, &searchIndexFake{}, nil, &generatorFake{}, &staticConfig{cfg: answerPipeline(t)})

	for _, q := range []string{"", "  abc ", string(make([]rune, 501))} {
		if _, err := uc.Answer(context.Background(), q, domain.SearchFilter{}); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %d runes, got %v", len([]rune(q)), err)
		}
	}
}

func TestAnswerReadsConfigOnce(t *testing.T) {
	source := &staticConfig{cfg: answerPipeline(t)}
	uc := NewAnswerUseCase(&searchIndexFake{results: pricingLexical()}, &searchIndexFake{results: pricingDense()}, nil, &generatorFake{text: "ok"}, source)

	if _, err := uc.Answer(context.Background(), pricingQuestion, domain.SearchFilter{}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if source.calls.Load() != 1 {
		t.Fatalf("expected a single snapshot read, got %d", source.calls.Load())
	}
}

func TestAnswerUsesCache(t *testing.T) {
	gen := &generatorFake{text: "ok"}
	cache := &answerCacheFake{}
	obs := &observerFake{}
	uc := NewAnswerUseCase(&searchIndexFake{results: pricingLexical()}, &searchIndexFake{results: pricingDense()}, nil, gen, &staticConfig{cfg: answerPipeline(t)}).
		WithCache(cache, time.Minute).
		WithObserver(obs)

	first, err := uc.Answer(context.Background(), pricingQuestion, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("first answer: %v", err)
	}
	second, err := uc.Answer(context.Background(), pricingQuestion, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("second answer: %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("expected cached second answer, generator calls=%d", gen.calls)
	}
	if !second.Debug.CacheHit || first.Debug.CacheHit {
		t.Fatalf("expected cache hit only on the second answer")
	}
	if second.Debug.TraceID == first.Debug.TraceID {
		t.Fatalf("cached answers must get a fresh trace id")
	}
	if !reflect.DeepEqual(obs.lookups, []bool{false, true}) {
		t.Fatalf("unexpected cache lookups %v", obs.lookups)
	}
	if obs.stages[StageTotal] != 1 {
		t.Fatalf("expected one observed total stage, got %d", obs.stages[StageTotal])
	}
}

func TestAnswerDoesNotCacheDegradedAnswers(t *testing.T) {
	cache := &answerCacheFake{}
	uc := NewAnswerUseCase(
		&searchIndexFake{err: domain.WrapError(domain.ErrUpstreamUnavailable, "meili", errors.New("down"))},
		&searchIndexFake{results: pricingDense()},
		nil,
		&generatorFake{text: "ok"},
		&staticConfig{cfg: answerPipeline(t)},
	).WithCache(cache, time.Minute)

	if _, err := uc.Answer(context.Background(), pricingQuestion, domain.SearchFilter{}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if cache.sets != 0 {
		t.Fatalf("degraded answers must not be cached")
	}
}

func TestAnswerDenseFloorExcludesWeakMatches(t *testing.T) {
	dense := &searchIndexFake{results: []domain.ScoredResult{
		withMeta(domain.ScoredResult{ChunkID: "weak", Text: "слабое совпадение", Score: 0.2}, "T", "s", 0, ""),
	}}
	gen := &generatorFake{text: "ok"}
	uc := NewAnswerUseCase(&searchIndexFake{}, dense, nil, gen, &staticConfig{cfg: answerPipeline(t)})

	answer, err := uc.Answer(context.Background(), pricingQuestion, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !answer.Debug.NoResults || gen.calls != 0 {
		t.Fatalf("expected results below the similarity floor to be excluded")
	}
}

func TestSearchReturnsFinalPassages(t *testing.T) {
	uc := NewAnswerUseCase(&searchIndexFake{results: pricingLexical()}, &searchIndexFake{results: pricingDense()}, nil, &generatorFake{}, &staticConfig{cfg: answerPipeline(t)})

	results, err := uc.Search(context.Background(), pricingQuestion, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := resultIDs(results); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("expected [a b c], got %v", got)
	}
}
