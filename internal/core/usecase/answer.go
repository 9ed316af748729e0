package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

// Stage names reported to the pipeline observer.
const (
	StageLexical    = "lexical"
	StageDense      = "dense"
	StageFusion     = "fusion"
	StageRerank     = "rerank"
	StageDedup      = "dedup"
	StageGeneration = "generation"
	StageTotal      = "total"
)

// AnswerUseCase runs the hybrid retrieval pipeline: lexical and dense search in parallel,
// fusion, rerank, dedup and answer assembly. Each request reads one config snapshot.
type AnswerUseCase struct {
	lexical   ports.LexicalIndex
	dense     ports.DenseIndex
	reranker  *Reranker
	assembler *Assembler
	configs   ports.PipelineConfigSource

	cache    ports.AnswerCache
	cacheTTL time.Duration
	observer ports.PipelineObserver
}

func NewAnswerUseCase(
	lexical ports.LexicalIndex,
	dense ports.DenseIndex,
	encoder ports.CrossEncoder,
	generator ports.Generator,
	configs ports.PipelineConfigSource,
) *AnswerUseCase {
	return &AnswerUseCase{
		lexical:   lexical,
		dense:     dense,
		reranker:  NewReranker(encoder),
		assembler: NewAssembler(generator),
		configs:   configs,
	}
}

// WithCache enables answer caching. Degraded and no-result answers are never cached.
func (uc *AnswerUseCase) WithCache(cache ports.AnswerCache, ttl time.Duration) *AnswerUseCase {
	uc.cache = cache
	uc.cacheTTL = ttl
	return uc
}

func (uc *AnswerUseCase) WithObserver(observer ports.PipelineObserver) *AnswerUseCase {
	uc.observer = observer
	return uc
}

// retrieval is everything the pipeline produced before answer assembly.
type retrieval struct {
	lexical  []domain.ScoredResult
	dense    []domain.ScoredResult
	fused    []domain.ScoredResult
	reranked RerankOutcome
	unique   []domain.ScoredResult

	timings         domain.StageTimings
	degradedSources []string
}

func (r *retrieval) degraded() bool { return len(r.degradedSources) > 0 }

func (uc *AnswerUseCase) Answer(ctx context.Context, question string, filter domain.SearchFilter) (*domain.Answer, error) {
	started := time.Now()
	cfg := uc.configs.Current()
	traceID := uuid.NewString()

	q, err := validateQuestion(question, cfg.Answer)
	if err != nil {
		return nil, err
	}

	key := answerCacheKey(cfg.Version, q, filter)
	if cached := uc.lookupCache(ctx, key); cached != nil {
		cached.Debug.TraceID = traceID
		cached.Debug.CacheHit = true
		cached.Debug.Timings = domain.StageTimings{TotalMS: time.Since(started).Milliseconds()}
		return cached, nil
	}

	r, err := uc.retrieve(ctx, q, filter, cfg)
	if err != nil {
		slog.Error("answer_retrieval_failed", "trace_id", traceID, "error", err)
		return nil, err
	}

	answer := &domain.Answer{
		Citations: []domain.Citation{},
		Debug: domain.AnswerDebug{
			TraceID:         traceID,
			QuestionType:    r.reranked.QuestionType,
			RerankModel:     r.reranked.Model,
			Degraded:        r.degraded(),
			DegradedSources: r.degradedSources,
			Counts: domain.StageCounts{
				Lexical:  len(r.lexical),
				Dense:    len(r.dense),
				Fused:    len(r.fused),
				Reranked: len(r.reranked.Results),
				Unique:   len(r.unique),
			},
		},
	}

	if len(r.lexical) == 0 && len(r.dense) == 0 {
		answer.Answer = cfg.Answer.InsufficientDataText
		answer.Debug.NoResults = true
	} else {
		assembly, err := uc.assembler.Assemble(ctx, q, r.unique, cfg.Answer)
		if err != nil {
			return nil, err
		}
		answer.Answer = assembly.Answer
		answer.Citations = assembly.Citations
		answer.Contexts = assembly.Contexts
		answer.Debug.Counts.Context = assembly.Included
		answer.Debug.Confidence = confidence(r.unique)
		r.timings.GenerationMS = assembly.GenerationTime.Milliseconds()
		if assembly.GenerationTime > 0 {
			uc.observeStage(StageGeneration, assembly.GenerationTime)
		}
	}

	total := time.Since(started)
	r.timings.TotalMS = total.Milliseconds()
	answer.Debug.Timings = r.timings
	uc.observeStage(StageTotal, total)

	slog.Info("answer_completed",
		"trace_id", traceID,
		"question_type", answer.Debug.QuestionType,
		"lexical_results", answer.Debug.Counts.Lexical,
		"dense_results", answer.Debug.Counts.Dense,
		"context_results", answer.Debug.Counts.Context,
		"citations", len(answer.Citations),
		"degraded", answer.Debug.Degraded,
		"no_results", answer.Debug.NoResults,
		"total_time_ms", r.timings.TotalMS,
	)

	if !answer.Debug.Degraded && !answer.Debug.NoResults {
		uc.storeCache(ctx, key, answer)
	}
	return answer, nil
}

// Search runs the pipeline up to dedup and returns the final ranked passages.
func (uc *AnswerUseCase) Search(ctx context.Context, query string, filter domain.SearchFilter) ([]domain.ScoredResult, error) {
	cfg := uc.configs.Current()
	q, err := validateQuestion(query, cfg.Answer)
	if err != nil {
		return nil, err
	}
	r, err := uc.retrieve(ctx, q, filter, cfg)
	if err != nil {
		return nil, err
	}
	return r.unique, nil
}

func (uc *AnswerUseCase) retrieve(ctx context.Context, q string, filter domain.SearchFilter, cfg *domain.PipelineConfig) (*retrieval, error) {
	r := &retrieval{}

	var (
		g                    errgroup.Group
		lexicalErr           error
		denseErr             error
		lexicalDur, denseDur time.Duration
	)
	lexicalFilter, denseFilter := filter, filter
	lexicalFilter.MinScore = cfg.Retrieval.LexicalMinScore
	denseFilter.MinScore = cfg.Retrieval.DenseScoreThreshold
	g.Go(func() error {
		r.lexical, lexicalDur, lexicalErr = searchWithTimeout(ctx, uc.lexical, q, cfg.Retrieval.LexicalTopK, lexicalFilter, cfg.Retrieval.SearchTimeout)
		return nil
	})
	g.Go(func() error {
		r.dense, denseDur, denseErr = searchWithTimeout(ctx, uc.dense, q, cfg.Retrieval.DenseTopK, denseFilter, cfg.Retrieval.SearchTimeout)
		return nil
	})
	_ = g.Wait()

	r.timings.LexicalMS = lexicalDur.Milliseconds()
	r.timings.DenseMS = denseDur.Milliseconds()
	uc.observeStage(StageLexical, lexicalDur)
	uc.observeStage(StageDense, denseDur)

	if lexicalErr != nil && denseErr != nil {
		return nil, domain.WrapError(domain.ErrRetrievalFailed, "hybrid search", errors.Join(
			fmt.Errorf("lexical: %w", lexicalErr),
			fmt.Errorf("dense: %w", denseErr),
		))
	}
	if lexicalErr != nil {
		uc.markDegraded(r, domain.SourceLexical, lexicalErr)
	}
	if denseErr != nil {
		uc.markDegraded(r, domain.SourceDense, denseErr)
	}

	// Backends without a native threshold may still return results below the floor.
	r.lexical = scoreFloor(r.lexical, cfg.Retrieval.LexicalMinScore)
	r.dense = scoreFloor(r.dense, cfg.Retrieval.DenseScoreThreshold)

	stage := time.Now()
	r.fused = Fuse(r.lexical, r.dense, cfg.Fusion)
	r.timings.FusionMS = uc.finishStage(StageFusion, stage)

	stage = time.Now()
	r.reranked = uc.reranker.Rerank(ctx, q, r.fused, cfg)
	r.timings.RerankMS = uc.finishStage(StageRerank, stage)
	if r.reranked.Degraded {
		uc.markDegraded(r, domain.SourceReranker, nil)
	}

	stage = time.Now()
	r.unique = NewDeduplicator(cfg.Dedup).Results(r.reranked.Results)
	r.timings.DedupMS = uc.finishStage(StageDedup, stage)
	return r, nil
}

func searchWithTimeout(
	ctx context.Context,
	index ports.SearchIndex,
	q string,
	topK int,
	filter domain.SearchFilter,
	timeout time.Duration,
) ([]domain.ScoredResult, time.Duration, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	started := time.Now()
	results, err := index.Search(ctx, q, topK, filter)
	elapsed := time.Since(started)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !domain.IsUpstream(err) {
		err = domain.WrapError(domain.ErrUpstreamTimeout, "search", err)
	}
	return results, elapsed, err
}

func (uc *AnswerUseCase) markDegraded(r *retrieval, source string, cause error) {
	r.degradedSources = append(r.degradedSources, source)
	if uc.observer != nil {
		uc.observer.ObserveDegraded(source)
	}
	if cause != nil {
		slog.Warn("retrieval_degraded", "source", source, "error", cause)
	}
}

func (uc *AnswerUseCase) finishStage(stage string, started time.Time) int64 {
	d := time.Since(started)
	uc.observeStage(stage, d)
	return d.Milliseconds()
}

func (uc *AnswerUseCase) observeStage(stage string, d time.Duration) {
	if uc.observer != nil {
		uc.observer.ObserveStage(stage, d)
	}
}

func (uc *AnswerUseCase) lookupCache(ctx context.Context, key string) *domain.Answer {
	if uc.cache == nil {
		return nil
	}
	cached, ok, err := uc.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("answer_cache_get_failed", "error", err)
		return nil
	}
	if uc.observer != nil {
		uc.observer.ObserveCacheLookup(ok)
	}
	if !ok {
		return nil
	}
	return cached
}

func (uc *AnswerUseCase) storeCache(ctx context.Context, key string, answer *domain.Answer) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Set(ctx, key, answer, uc.cacheTTL); err != nil {
		slog.Warn("answer_cache_set_failed", "error", err)
	}
}

func validateQuestion(question string, cfg domain.AnswerConfig) (string, error) {
	q := strings.TrimSpace(question)
	n := utf8.RuneCountInString(q)
	if n < cfg.MinQuestionLength || n > cfg.MaxQuestionLength {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate question",
			fmt.Errorf("question must be %d..%d characters, got %d", cfg.MinQuestionLength, cfg.MaxQuestionLength, n))
	}
	return q, nil
}

// scoreFloor drops results scoring below floor; input order is kept.
func scoreFloor(results []domain.ScoredResult, floor float64) []domain.ScoredResult {
	if floor <= 0 {
		return results
	}
	out := results[:0:0]
	for _, res := range results {
		if res.Score >= floor {
			out = append(out, res)
		}
	}
	return out
}

// confidence is the mean final score, capped at 1.
func confidence(results []domain.ScoredResult) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, res := range results {
		sum += res.Score
	}
	return min(sum/float64(len(results)), 1.0)
}

func answerCacheKey(version, question string, filter domain.SearchFilter) string {
	h := sha256.New()
	for _, part := range []string{version, strings.ToLower(question), filter.DocID, filter.FileType, filter.Language} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "answer:" + hex.EncodeToString(h.Sum(nil))
}
