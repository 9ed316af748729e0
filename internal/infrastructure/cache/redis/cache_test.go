package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/localrag/internal/core/domain"
)

func newTestCache(t *testing.T) (*AnswerCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := NewWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestAnswerCacheRoundTripAndExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	answer := &domain.Answer{
		Answer:    "Тариф Pro стоит $29 в месяц.",
		Citations: []domain.Citation{{Source: "pricing.pdf", DocTitle: "Тарифы", Page: 1, ChunkID: "d1_001", Confidence: 0.8}},
		Debug:     domain.AnswerDebug{TraceID: "t1", QuestionType: domain.QuestionType("pricing")},
	}
	if err := cache.Set(ctx, "answer:abc", answer, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !mr.Exists(keyPrefix + "answer:abc") {
		t.Fatalf("expected prefixed key in redis")
	}

	got, ok, err := cache.Get(ctx, "answer:abc")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.Answer != answer.Answer || len(got.Citations) != 1 || got.Citations[0].Source != "pricing.pdf" {
		t.Fatalf("unexpected cached answer %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, err := cache.Get(ctx, "answer:abc"); ok || err != nil {
		t.Fatalf("expected expired entry, got ok=%v err=%v", ok, err)
	}
}

func TestAnswerCacheUnavailable(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()

	if _, _, err := cache.Get(context.Background(), "k"); !domain.IsKind(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
	if err := cache.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("://nope"); !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
