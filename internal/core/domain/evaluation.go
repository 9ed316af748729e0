package domain

import "time"

type EvaluationStatus string

const (
	EvaluationRunning   EvaluationStatus = "running"
	EvaluationCompleted EvaluationStatus = "completed"
	EvaluationFailed    EvaluationStatus = "failed"
)

// EvaluationCase is one question with its reference answer.
type EvaluationCase struct {
	ID                string `json:"id,omitempty"`
	Question          string `json:"question"`
	GroundTruthAnswer string `json:"ground_truth_answer"`
}

type EvaluationRun struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Status         EvaluationStatus `json:"status"`
	TotalCases     int              `json:"total_cases"`
	CompletedCases int              `json:"completed_cases"`
	FailedCases    int              `json:"failed_cases"`
	ConfigVersion  string           `json:"config_version"`
	GeneratorModel string           `json:"generator_model,omitempty"`
	RerankModel    string           `json:"rerank_model,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// EvaluationResult is the record an external metric job consumes: question, answer and contexts.
type EvaluationResult struct {
	RunID       string   `json:"run_id"`
	CaseIndex   int      `json:"case_index"`
	CaseID      string   `json:"case_id,omitempty"`
	Question    string   `json:"question"`
	GroundTruth string   `json:"ground_truth_answer"`
	Answer      string   `json:"answer"`
	Contexts    []string `json:"contexts"`
	LatencyMS   int64    `json:"latency_ms"`
	Degraded    bool     `json:"degraded"`
	Error       string   `json:"error,omitempty"`
}
