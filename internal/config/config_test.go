package config

import (
	"testing"
	"time"
)

func TestLoadServiceDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("LEXICAL_BACKEND", "")
	t.Setenv("DENSE_BACKEND", "")
	t.Setenv("API_RATE_LIMIT_RPS", "")
	t.Setenv("ANSWER_CACHE_TTL", "")
	t.Setenv("RERANKER_SIGMOID", "")
	t.Setenv("TOKENIZER_ENCODING", "")

	cfg := Load()
	if cfg.LexicalBackend != "meili" {
		t.Fatalf("expected default lexical backend meili, got %q", cfg.LexicalBackend)
	}
	if cfg.DenseBackend != "qdrant" {
		t.Fatalf("expected default dense backend qdrant, got %q", cfg.DenseBackend)
	}
	if cfg.APIRateLimitRPS != 20 {
		t.Fatalf("expected default rate limit 20, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.AnswerCacheTTL != 10*time.Minute {
		t.Fatalf("expected default cache ttl 10m, got %v", cfg.AnswerCacheTTL)
	}
	if cfg.ResilienceMaxAttempts != 2 {
		t.Fatalf("expected two attempts per upstream call, got %d", cfg.ResilienceMaxAttempts)
	}
	if !cfg.RerankerSigmoid {
		t.Fatalf("expected reranker logits to be squashed by default")
	}
	if cfg.TokenizerEncoding != "cl100k_base" {
		t.Fatalf("expected cl100k_base tokenizer, got %q", cfg.TokenizerEncoding)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("DENSE_BACKEND", "pgvector")
	t.Setenv("EMBEDDING_DIMENSIONS", "1024")
	t.Setenv("RERANKER_SIGMOID", "false")
	t.Setenv("API_BACKPRESSURE_WAIT", "1s")

	cfg := Load()
	if cfg.DenseBackend != "pgvector" {
		t.Fatalf("expected dense backend override, got %q", cfg.DenseBackend)
	}
	if cfg.EmbeddingDimensions != 1024 {
		t.Fatalf("expected 1024 dimensions, got %d", cfg.EmbeddingDimensions)
	}
	if cfg.RerankerSigmoid {
		t.Fatalf("expected sigmoid disabled")
	}
	if cfg.APIBackpressureWait != time.Second {
		t.Fatalf("expected 1s backpressure wait, got %v", cfg.APIBackpressureWait)
	}
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("EVAL_CONCURRENCY", "many")
	t.Setenv("OLLAMA_PULL_MODELS", "perhaps")

	cfg := Load()
	if cfg.EvalConcurrency != 2 {
		t.Fatalf("expected fallback concurrency 2, got %d", cfg.EvalConcurrency)
	}
	if !cfg.OllamaPullModels {
		t.Fatalf("expected fallback pull flag true")
	}
}
