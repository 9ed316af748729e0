package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/localrag/internal/core/domain"
)

func TestFeedbackCreateStoresCitationsAsJSON(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedbackRepository(db)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO feedback").
		WithArgs("fb-1", "trace-1", "Сколько стоит?", "990 рублей", []byte(`[]`), "down", "не по теме", "", "10.0.0.1", created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &domain.Feedback{
		ID:        "fb-1",
		TraceID:   "trace-1",
		Question:  "Сколько стоит?",
		Answer:    "990 рублей",
		Rating:    domain.RatingDown,
		Reason:    "не по теме",
		ClientIP:  "10.0.0.1",
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFeedbackStatsAggregates(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedbackRepository(db)
	since := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("COUNT\\(\\*\\) FILTER").
		WithArgs(since, "up", "down").
		WillReturnRows(sqlmock.NewRows([]string{"total", "up", "down"}).AddRow(4, 3, 1))
	mock.ExpectQuery("GROUP BY reason").
		WithArgs(since, "down").
		WillReturnRows(sqlmock.NewRows([]string{"reason", "n"}).AddRow("галлюцинация", 1))
	mock.ExpectQuery("ORDER BY created_at DESC").
		WithArgs(since, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "trace_id", "question", "answer", "citations", "rating", "reason", "comment", "created_at"}).
			AddRow("fb-1", "", "q", "a", []byte(`[{"source":"pricing.md","doc_title":"Тарифы","chunk_id":"d_001","confidence":0.9}]`), "up", "", "", since))

	stats, err := repo.Stats(context.Background(), since, 10)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 4 || stats.Positive != 3 || stats.Negative != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if len(stats.NegativeReasons) != 1 || stats.NegativeReasons[0].Reason != "галлюцинация" {
		t.Fatalf("unexpected reasons: %+v", stats.NegativeReasons)
	}
	if len(stats.Recent) != 1 || stats.Recent[0].Rating != domain.RatingUp || stats.Recent[0].Citations[0].ChunkID != "d_001" {
		t.Fatalf("unexpected recent: %+v", stats.Recent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
