package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

// RerankOutcome is the reranked top-K plus what the answer debug block reports about it.
type RerankOutcome struct {
	Results      []domain.ScoredResult
	QuestionType domain.QuestionType
	Model        string
	// Degraded is set when reranking was enabled but the model could not score the candidates.
	Degraded bool
}

// Reranker rescores fused candidates with a cross-encoder and then applies the domain rules.
// A nil encoder behaves like an unavailable model.
type Reranker struct {
	encoder ports.CrossEncoder
}

func NewReranker(encoder ports.CrossEncoder) *Reranker {
	return &Reranker{encoder: encoder}
}

func (r *Reranker) Rerank(ctx context.Context, question string, candidates []domain.ScoredResult, cfg *domain.PipelineConfig) RerankOutcome {
	outcome := RerankOutcome{QuestionType: ClassifyQuestion(cfg.Rules, question)}
	if len(candidates) == 0 {
		return outcome
	}

	results := make([]domain.ScoredResult, len(candidates))
	copy(results, candidates)
	for i := range results {
		results[i].Debug.OriginalScore = results[i].Score
	}

	if cfg.Rerank.Enabled {
		scores, model, err := r.score(ctx, question, results, cfg.Rerank)
		if err != nil {
			outcome.Degraded = true
			slog.Warn("rerank_model_unavailable",
				"error", err,
				"candidates", len(results),
				"question_type", outcome.QuestionType,
			)
		} else {
			outcome.Model = model
			for i := range results {
				results[i].Score = scores[i]
				results[i].Debug.RerankScore = scores[i]
			}
		}
	}

	if cfg.Rerank.RulesEnabled && cfg.Rules != nil {
		results = applyRules(cfg.Rules, question, outcome.QuestionType, results)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	outcome.Results = trimResults(results, cfg.Rerank.TopK)
	return outcome
}

func (r *Reranker) score(ctx context.Context, question string, results []domain.ScoredResult, cfg domain.RerankConfig) ([]float64, string, error) {
	if r.encoder == nil {
		return nil, "", domain.WrapError(domain.ErrModelUnavailable, "rerank", errors.New("no cross-encoder configured"))
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	model := r.encoder.Model()
	if model == "" {
		model = cfg.Model
	}
	started := time.Now()
	slog.Debug("reranking_started", "model", model, "candidates", len(results), "batch_size", cfg.BatchSize)

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(results)
	}
	scores := make([]float64, 0, len(results))
	for start := 0; start < len(results); start += batchSize {
		end := min(start+batchSize, len(results))
		passages := make([]string, 0, end-start)
		for _, res := range results[start:end] {
			passages = append(passages, truncateRunes(res.Text, cfg.MaxPassageChars))
		}
		batch, err := r.encoder.Score(ctx, question, passages)
		if err != nil {
			slog.Warn("reranking_failed", "model", model, "batch_start", start, "error", err)
			return nil, "", err
		}
		if len(batch) != len(passages) {
			return nil, "", domain.WrapError(domain.ErrUpstreamUnavailable, "rerank",
				fmt.Errorf("cross-encoder returned %d scores for %d passages", len(batch), len(passages)))
		}
		scores = append(scores, batch...)
	}

	slog.Debug("reranking_completed",
		"model", model,
		"candidates", len(results),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return scores, model, nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
