package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/localrag/internal/core/domain"
)

type EvaluationRepository struct {
	db *sql.DB
}

func NewEvaluationRepository(db *sql.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// runConfig is what a run records about the pipeline that produced its answers.
type runConfig struct {
	ConfigVersion  string `json:"config_version"`
	GeneratorModel string `json:"generator_model,omitempty"`
	RerankModel    string `json:"rerank_model,omitempty"`
}

const runColumns = `id, name, status, total_cases, completed_cases, failed_cases, config, started_at, completed_at`

func scanRun(row rowScanner) (domain.EvaluationRun, error) {
	var run domain.EvaluationRun
	var status string
	var configRaw []byte
	var completedAt sql.NullTime
	err := row.Scan(&run.ID, &run.Name, &status, &run.TotalCases, &run.CompletedCases, &run.FailedCases,
		&configRaw, &run.StartedAt, &completedAt)
	if err != nil {
		return domain.EvaluationRun{}, err
	}
	run.Status = domain.EvaluationStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if len(configRaw) > 0 {
		var cfg runConfig
		if err := json.Unmarshal(configRaw, &cfg); err != nil {
			return domain.EvaluationRun{}, fmt.Errorf("unmarshal run config: %w", err)
		}
		run.ConfigVersion = cfg.ConfigVersion
		run.GeneratorModel = cfg.GeneratorModel
		run.RerankModel = cfg.RerankModel
	}
	return run, nil
}

func (r *EvaluationRepository) CreateRun(ctx context.Context, run *domain.EvaluationRun) error {
	configJSON, err := json.Marshal(runConfig{
		ConfigVersion:  run.ConfigVersion,
		GeneratorModel: run.GeneratorModel,
		RerankModel:    run.RerankModel,
	})
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO evaluation_runs (`+runColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, run.ID, run.Name, string(run.Status), run.TotalCases, run.CompletedCases, run.FailedCases,
		configJSON, run.StartedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert evaluation run: %w", err)
	}
	return nil
}

func (r *EvaluationRepository) SaveResult(ctx context.Context, result domain.EvaluationResult) error {
	contexts := result.Contexts
	if contexts == nil {
		contexts = []string{}
	}
	contextsJSON, err := json.Marshal(contexts)
	if err != nil {
		return fmt.Errorf("marshal contexts: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO evaluation_results (run_id, case_index, case_id, question, ground_truth, answer, contexts, latency_ms, degraded, error)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id, case_index) DO UPDATE
SET answer = EXCLUDED.answer, contexts = EXCLUDED.contexts, latency_ms = EXCLUDED.latency_ms,
	degraded = EXCLUDED.degraded, error = EXCLUDED.error
`, result.RunID, result.CaseIndex, result.CaseID, result.Question, result.GroundTruth, result.Answer,
		contextsJSON, result.LatencyMS, result.Degraded, result.Error)
	if err != nil {
		return fmt.Errorf("insert evaluation result: %w", err)
	}
	return nil
}

func (r *EvaluationRepository) FinishRun(ctx context.Context, run *domain.EvaluationRun) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE evaluation_runs
SET status = $2, completed_cases = $3, failed_cases = $4, completed_at = $5
WHERE id = $1
`, run.ID, string(run.Status), run.CompletedCases, run.FailedCases, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("finish evaluation run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish evaluation run rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrRunNotFound, "finish evaluation run", fmt.Errorf("id=%s", run.ID))
	}
	return nil
}

func (r *EvaluationRepository) GetRun(ctx context.Context, id string) (*domain.EvaluationRun, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+runColumns+`
FROM evaluation_runs
WHERE id = $1
`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRunNotFound, "get evaluation run", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan evaluation run: %w", err)
	}
	return &run, nil
}

func (r *EvaluationRepository) ListRuns(ctx context.Context, limit int) ([]domain.EvaluationRun, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM evaluation_runs
ORDER BY started_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list evaluation runs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.EvaluationRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluation runs: %w", err)
	}
	return out, nil
}

func (r *EvaluationRepository) ListResults(ctx context.Context, runID string) ([]domain.EvaluationResult, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, case_index, case_id, question, ground_truth, answer, contexts, latency_ms, degraded, error
FROM evaluation_results
WHERE run_id = $1
ORDER BY case_index ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list evaluation results: %w", err)
	}
	defer rows.Close()

	out := make([]domain.EvaluationResult, 0)
	for rows.Next() {
		var res domain.EvaluationResult
		var contextsRaw []byte
		if err := rows.Scan(&res.RunID, &res.CaseIndex, &res.CaseID, &res.Question, &res.GroundTruth, &res.Answer,
			&contextsRaw, &res.LatencyMS, &res.Degraded, &res.Error); err != nil {
			return nil, fmt.Errorf("scan evaluation result: %w", err)
		}
		res.Contexts = []string{}
		if len(contextsRaw) > 0 {
			if err := json.Unmarshal(contextsRaw, &res.Contexts); err != nil {
				return nil, fmt.Errorf("unmarshal contexts: %w", err)
			}
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluation results: %w", err)
	}
	return out, nil
}
