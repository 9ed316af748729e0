package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

const (
	maxEvaluationCases = 1000
	defaultRunsLimit   = 20
)

// EvaluationUseCase replays test cases through the answer pipeline and stores
// question, answer and contexts for an external metric job. It computes no metrics itself.
type EvaluationUseCase struct {
	answerer       ports.QuestionAnswerer
	repo           ports.EvaluationRepository
	configs        ports.PipelineConfigSource
	generatorModel string
	concurrency    int
}

func NewEvaluationUseCase(
	answerer ports.QuestionAnswerer,
	repo ports.EvaluationRepository,
	configs ports.PipelineConfigSource,
	generatorModel string,
	concurrency int,
) *EvaluationUseCase {
	return &EvaluationUseCase{
		answerer:       answerer,
		repo:           repo,
		configs:        configs,
		generatorModel: generatorModel,
		concurrency:    max(concurrency, 1),
	}
}

// Run blocks until every case has an answer or an error recorded.
// A failing case does not stop the run; a failing store does.
func (uc *EvaluationUseCase) Run(ctx context.Context, name string, cases []domain.EvaluationCase) (*domain.EvaluationRun, error) {
	if err := validateCases(cases); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "evaluation run", err)
	}

	cfg := uc.configs.Current()
	run := &domain.EvaluationRun{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(name),
		Status:         domain.EvaluationRunning,
		TotalCases:     len(cases),
		ConfigVersion:  cfg.Version,
		GeneratorModel: uc.generatorModel,
		StartedAt:      time.Now().UTC(),
	}
	if cfg.Rerank.Enabled {
		run.RerankModel = cfg.Rerank.Model
	}
	if run.Name == "" {
		run.Name = "run-" + run.StartedAt.Format("20060102-150405")
	}
	if err := uc.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create evaluation run: %w", err)
	}
	slog.Info("evaluation_started", "run_id", run.ID, "cases", run.TotalCases, "config_version", run.ConfigVersion)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for i, c := range cases {
		g.Go(func() error {
			result := uc.runCase(gctx, run.ID, i, c)
			if err := uc.repo.SaveResult(gctx, result); err != nil {
				return fmt.Errorf("save evaluation result %d: %w", i, err)
			}
			mu.Lock()
			defer mu.Unlock()
			if result.Error != "" {
				run.FailedCases++
			} else {
				run.CompletedCases++
			}
			return nil
		})
	}
	runErr := g.Wait()

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Status = domain.EvaluationCompleted
	if runErr != nil {
		run.Status = domain.EvaluationFailed
	}
	// the run row is closed even when the request context is gone
	if err := uc.repo.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		return nil, errors.Join(runErr, fmt.Errorf("finish evaluation run: %w", err))
	}
	if runErr != nil {
		return nil, runErr
	}

	slog.Info("evaluation_completed",
		"run_id", run.ID,
		"completed", run.CompletedCases,
		"failed", run.FailedCases,
		"duration_ms", completed.Sub(run.StartedAt).Milliseconds(),
	)
	return run, nil
}

func (uc *EvaluationUseCase) runCase(ctx context.Context, runID string, index int, c domain.EvaluationCase) domain.EvaluationResult {
	result := domain.EvaluationResult{
		RunID:       runID,
		CaseIndex:   index,
		CaseID:      c.ID,
		Question:    c.Question,
		GroundTruth: c.GroundTruthAnswer,
		Contexts:    []string{},
	}
	started := time.Now()
	answer, err := uc.answerer.Answer(ctx, c.Question, domain.SearchFilter{})
	result.LatencyMS = time.Since(started).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		slog.Warn("evaluation_case_failed", "run_id", runID, "case_index", index, "error", err)
		return result
	}
	result.Answer = answer.Answer
	result.Degraded = answer.Debug.Degraded
	if answer.Contexts != nil {
		result.Contexts = answer.Contexts
	}
	return result
}

func validateCases(cases []domain.EvaluationCase) error {
	if len(cases) == 0 {
		return errors.New("at least one case is required")
	}
	if len(cases) > maxEvaluationCases {
		return fmt.Errorf("at most %d cases per run", maxEvaluationCases)
	}
	for i, c := range cases {
		if strings.TrimSpace(c.Question) == "" {
			return fmt.Errorf("case %d: question is required", i)
		}
	}
	return nil
}

func (uc *EvaluationUseCase) GetRun(ctx context.Context, id string) (*domain.EvaluationRun, []domain.EvaluationResult, error) {
	run, err := uc.repo.GetRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	results, err := uc.repo.ListResults(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list evaluation results: %w", err)
	}
	return run, results, nil
}

func (uc *EvaluationUseCase) ListRuns(ctx context.Context, limit int) ([]domain.EvaluationRun, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	return uc.repo.ListRuns(ctx, min(limit, maxListLimit))
}
