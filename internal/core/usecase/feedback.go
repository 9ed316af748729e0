package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
)

const (
	feedbackStatsPeriod = 30 * 24 * time.Hour
	feedbackRecentLimit = 10
	maxFeedbackComment  = 2000
)

type FeedbackUseCase struct {
	repo    ports.FeedbackRepository
	reasons []string
	now     func() time.Time
}

// NewFeedbackUseCase accepts down-vote reasons from reasons, or the default vocabulary when empty.
func NewFeedbackUseCase(repo ports.FeedbackRepository, reasons []string) *FeedbackUseCase {
	if len(reasons) == 0 {
		reasons = domain.DefaultFeedbackReasons
	}
	return &FeedbackUseCase{
		repo:    repo,
		reasons: slices.Clone(reasons),
		now:     time.Now,
	}
}

func (uc *FeedbackUseCase) Submit(ctx context.Context, fb domain.Feedback) (*domain.Feedback, error) {
	if err := uc.validate(&fb); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit feedback", err)
	}
	fb.ID = uuid.NewString()
	fb.CreatedAt = uc.now().UTC()

	if err := uc.repo.Create(ctx, &fb); err != nil {
		return nil, fmt.Errorf("store feedback: %w", err)
	}
	slog.Info("feedback_received",
		"feedback_id", fb.ID,
		"trace_id", fb.TraceID,
		"rating", fb.Rating,
		"reason", fb.Reason,
	)
	return &fb, nil
}

func (uc *FeedbackUseCase) validate(fb *domain.Feedback) error {
	fb.Question = strings.TrimSpace(fb.Question)
	fb.Answer = strings.TrimSpace(fb.Answer)
	fb.Reason = strings.TrimSpace(fb.Reason)
	fb.Comment = strings.TrimSpace(fb.Comment)

	if fb.Question == "" || fb.Answer == "" {
		return errors.New("question and answer are required")
	}
	switch fb.Rating {
	case domain.RatingUp:
		fb.Reason = ""
	case domain.RatingDown:
		if fb.Reason != "" && !slices.Contains(uc.reasons, fb.Reason) {
			return fmt.Errorf("unknown reason %q", fb.Reason)
		}
	default:
		return fmt.Errorf("rating must be %q or %q", domain.RatingUp, domain.RatingDown)
	}
	if len([]rune(fb.Comment)) > maxFeedbackComment {
		return fmt.Errorf("comment exceeds %d characters", maxFeedbackComment)
	}
	return nil
}

// Stats aggregates the last 30 days.
func (uc *FeedbackUseCase) Stats(ctx context.Context) (domain.FeedbackStats, error) {
	stats, err := uc.repo.Stats(ctx, uc.now().Add(-feedbackStatsPeriod), feedbackRecentLimit)
	if err != nil {
		return domain.FeedbackStats{}, fmt.Errorf("feedback stats: %w", err)
	}
	stats.PeriodDays = int(feedbackStatsPeriod / (24 * time.Hour))
	if stats.Total > 0 {
		stats.PositivePercentage = float64(stats.Positive) / float64(stats.Total) * 100
	}
	if stats.NegativeReasons == nil {
		stats.NegativeReasons = []domain.ReasonCount{}
	}
	if stats.Recent == nil {
		stats.Recent = []domain.Feedback{}
	}
	return stats, nil
}

func (uc *FeedbackUseCase) Reasons() []string {
	return slices.Clone(uc.reasons)
}
