package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/localrag/internal/core/domain"
)

type FeedbackRepository struct {
	db *sql.DB
}

func NewFeedbackRepository(db *sql.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

func (r *FeedbackRepository) Create(ctx context.Context, fb *domain.Feedback) error {
	citations := fb.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO feedback (id, trace_id, question, answer, citations, rating, reason, comment, client_ip, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, fb.ID, fb.TraceID, fb.Question, fb.Answer, citationsJSON, string(fb.Rating), fb.Reason, fb.Comment, fb.ClientIP, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// Stats aggregates feedback created at or after since.
func (r *FeedbackRepository) Stats(ctx context.Context, since time.Time, recentLimit int) (domain.FeedbackStats, error) {
	var stats domain.FeedbackStats
	err := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE rating = $2),
	COUNT(*) FILTER (WHERE rating = $3)
FROM feedback
WHERE created_at >= $1
`, since, string(domain.RatingUp), string(domain.RatingDown)).Scan(&stats.Total, &stats.Positive, &stats.Negative)
	if err != nil {
		return domain.FeedbackStats{}, fmt.Errorf("count feedback: %w", err)
	}

	reasons, err := r.negativeReasons(ctx, since)
	if err != nil {
		return domain.FeedbackStats{}, err
	}
	stats.NegativeReasons = reasons

	recent, err := r.recent(ctx, since, recentLimit)
	if err != nil {
		return domain.FeedbackStats{}, err
	}
	stats.Recent = recent
	return stats, nil
}

func (r *FeedbackRepository) negativeReasons(ctx context.Context, since time.Time) ([]domain.ReasonCount, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT reason, COUNT(*) AS n
FROM feedback
WHERE created_at >= $1 AND rating = $2 AND reason <> ''
GROUP BY reason
ORDER BY n DESC, reason ASC
`, since, string(domain.RatingDown))
	if err != nil {
		return nil, fmt.Errorf("count feedback reasons: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ReasonCount, 0)
	for rows.Next() {
		var rc domain.ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, fmt.Errorf("scan feedback reason: %w", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback reasons: %w", err)
	}
	return out, nil
}

func (r *FeedbackRepository) recent(ctx context.Context, since time.Time, limit int) ([]domain.Feedback, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, trace_id, question, answer, citations, rating, reason, comment, created_at
FROM feedback
WHERE created_at >= $1
ORDER BY created_at DESC
LIMIT $2
`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent feedback: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Feedback, 0)
	for rows.Next() {
		var fb domain.Feedback
		var citationsRaw []byte
		var rating string
		if err := rows.Scan(&fb.ID, &fb.TraceID, &fb.Question, &fb.Answer, &citationsRaw, &rating, &fb.Reason, &fb.Comment, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		if len(citationsRaw) > 0 {
			if err := json.Unmarshal(citationsRaw, &fb.Citations); err != nil {
				return nil, fmt.Errorf("unmarshal citations: %w", err)
			}
		}
		fb.Rating = domain.Rating(rating)
		out = append(out, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return out, nil
}
