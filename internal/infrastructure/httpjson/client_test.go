package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/localrag/internal/infrastructure/resilience"
)

func TestPostRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/rerank" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("missing auth header")
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": req["query"]})
	}))
	defer srv.Close()

	c := New("reranker", srv.URL+"/", srv.Client()).WithHeader("Authorization", "Bearer secret")
	var out struct {
		Echo string `json:"echo"`
	}
	if err := c.Post(context.Background(), "/v1/rerank", map[string]string{"query": "тариф"}, &out, "rerank"); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if out.Echo != "тариф" {
		t.Fatalf("unexpected echo %q", out.Echo)
	}
}

func TestStatusErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New("ollama", srv.URL, srv.Client()).Get(context.Background(), "/api/tags", nil, "tags")
	var statusErr *resilience.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected status error, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable || statusErr.Body != "model is loading\n" {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
	if !resilience.ClassifyHTTP(err).Retryable {
		t.Fatalf("503 should be retryable")
	}
}

func TestStatusErrorCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := New("reranker", srv.URL, srv.Client()).Post(context.Background(), "/v1/rerank", map[string]string{"q": "x"}, nil, "rerank")
	var statusErr *resilience.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected status error, got %v", err)
	}
	if statusErr.RetryAfter != 2*time.Second {
		t.Fatalf("RetryAfter = %v, want 2s", statusErr.RetryAfter)
	}
}
