package config

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/localrag/internal/core/domain"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// DefaultRules returns a freshly compiled copy of the embedded rerank rules.
func DefaultRules() (*domain.RerankRules, error) {
	return parseRules(defaultRulesYAML, "embedded rules.yaml")
}

// LoadRules reads rerank rules from path, or the embedded defaults when path is empty.
func LoadRules(path string) (*domain.RerankRules, error) {
	if path == "" {
		return DefaultRules()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "read rerank rules", err)
	}
	return parseRules(raw, path)
}

func parseRules(raw []byte, origin string) (*domain.RerankRules, error) {
	var rules domain.RerankRules
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse rerank rules", fmt.Errorf("%s: %w", origin, err))
	}
	if err := rules.Compile(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// PipelineSources names where a pipeline snapshot is read from.
type PipelineSources struct {
	ConfigPath string
	RulesPath  string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// LoadPipeline builds a validated snapshot: defaults, then the YAML file, then RAG_* environment overrides.
// Unlike the service config, malformed override values are reported instead of ignored.
func LoadPipeline(src PipelineSources) (*domain.PipelineConfig, error) {
	cfg := domain.DefaultPipelineConfig()

	if src.ConfigPath != "" {
		raw, err := os.ReadFile(src.ConfigPath)
		if err != nil {
			return nil, domain.WrapError(domain.ErrConfiguration, "read pipeline config", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		// an empty file means defaults only
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, domain.WrapError(domain.ErrConfiguration, "parse pipeline config", err)
		}
	}

	lookup := src.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyPipelineEnv(&cfg, lookup); err != nil {
		return nil, err
	}

	rules, err := LoadRules(src.RulesPath)
	if err != nil {
		return nil, err
	}
	cfg.Rules = rules

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version, err := pipelineVersion(&cfg)
	if err != nil {
		return nil, err
	}
	cfg.Version = version
	return &cfg, nil
}

type envOverride struct {
	key   string
	apply func(string) error
}

func applyPipelineEnv(cfg *domain.PipelineConfig, lookup func(string) (string, bool)) error {
	overrides := []envOverride{
		{"RAG_CHUNK_SIZE", intVar(&cfg.Chunking.ChunkSize)},
		{"RAG_CHUNK_OVERLAP", intVar(&cfg.Chunking.Overlap)},
		{"RAG_MIN_CHUNK_SIZE", intVar(&cfg.Chunking.MinChunkSize)},
		{"RAG_MAX_CHUNKS_PER_DOC", intVar(&cfg.Chunking.MaxChunksPerDoc)},
		{"RAG_LEXICAL_TOP_K", intVar(&cfg.Retrieval.LexicalTopK)},
		{"RAG_LEXICAL_MIN_SCORE", floatVar(&cfg.Retrieval.LexicalMinScore)},
		{"RAG_DENSE_TOP_K", intVar(&cfg.Retrieval.DenseTopK)},
		{"RAG_DENSE_SCORE_THRESHOLD", floatVar(&cfg.Retrieval.DenseScoreThreshold)},
		{"RAG_SEARCH_TIMEOUT", durationVar(&cfg.Retrieval.SearchTimeout)},
		{"RAG_BM25_WEIGHT", floatVar(&cfg.Fusion.BM25Weight)},
		{"RAG_DENSE_WEIGHT", floatVar(&cfg.Fusion.DenseWeight)},
		{"RAG_FINAL_TOP_K", intVar(&cfg.Fusion.FinalTopK)},
		{"RAG_RERANK_ENABLED", boolVar(&cfg.Rerank.Enabled)},
		{"RAG_RERANK_MODEL", stringVar(&cfg.Rerank.Model)},
		{"RAG_RERANK_TOP_K", intVar(&cfg.Rerank.TopK)},
		{"RAG_RERANK_MAX_PASSAGE_CHARS", intVar(&cfg.Rerank.MaxPassageChars)},
		{"RAG_RERANK_BATCH_SIZE", intVar(&cfg.Rerank.BatchSize)},
		{"RAG_RERANK_RULES_ENABLED", boolVar(&cfg.Rerank.RulesEnabled)},
		{"RAG_RERANK_TIMEOUT", durationVar(&cfg.Rerank.Timeout)},
		{"RAG_MAX_CONTEXT_LENGTH", intVar(&cfg.Answer.MaxContextLength)},
		{"RAG_INSUFFICIENT_DATA_TEXT", stringVar(&cfg.Answer.InsufficientDataText)},
		{"RAG_GENERATION_TIMEOUT", durationVar(&cfg.Answer.GenerationTimeout)},
		{"RAG_GENERATION_TEMPERATURE", floatVar(&cfg.Answer.Temperature)},
		{"RAG_GENERATION_TOP_P", floatVar(&cfg.Answer.TopP)},
		{"RAG_GENERATION_MAX_TOKENS", intVar(&cfg.Answer.MaxTokens)},
	}

	var problems []error
	for _, o := range overrides {
		raw, ok := lookup(o.key)
		if !ok || raw == "" {
			continue
		}
		if err := o.apply(raw); err != nil {
			problems = append(problems, fmt.Errorf("%s=%q: %w", o.key, raw, err))
		}
	}
	if len(problems) > 0 {
		return domain.WrapError(domain.ErrConfiguration, "apply pipeline env overrides", errors.Join(problems...))
	}
	return nil
}

func intVar(dst *int) func(string) error {
	return func(raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func floatVar(dst *float64) func(string) error {
	return func(raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func boolVar(dst *bool) func(string) error {
	return func(raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func durationVar(dst *time.Duration) func(string) error {
	return func(raw string) error {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

func stringVar(dst *string) func(string) error {
	return func(raw string) error {
		*dst = raw
		return nil
	}
}

// pipelineVersion hashes every value of the snapshot, rules included.
func pipelineVersion(cfg *domain.PipelineConfig) (string, error) {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return "", domain.WrapError(domain.ErrConfiguration, "hash pipeline config", err)
	}
	h := sha256.New()
	h.Write(body)
	if cfg.Rules != nil {
		rules, err := yaml.Marshal(cfg.Rules)
		if err != nil {
			return "", domain.WrapError(domain.ErrConfiguration, "hash rerank rules", err)
		}
		h.Write(rules)
	}
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}

// PipelineStore publishes immutable pipeline snapshots. Readers never block writers.
type PipelineStore struct {
	current atomic.Pointer[domain.PipelineConfig]
	load    func() (*domain.PipelineConfig, error)
}

// NewPipelineStore publishes initial; load is used by Reload and may be nil.
func NewPipelineStore(initial *domain.PipelineConfig, load func() (*domain.PipelineConfig, error)) *PipelineStore {
	s := &PipelineStore{load: load}
	s.current.Store(initial)
	return s
}

// OpenPipelineStore loads the first snapshot from src and reloads from the same sources later.
func OpenPipelineStore(src PipelineSources) (*PipelineStore, error) {
	load := func() (*domain.PipelineConfig, error) { return LoadPipeline(src) }
	initial, err := load()
	if err != nil {
		return nil, err
	}
	return NewPipelineStore(initial, load), nil
}

func (s *PipelineStore) Current() *domain.PipelineConfig {
	return s.current.Load()
}

// Swap validates next and publishes it as a whole.
func (s *PipelineStore) Swap(next *domain.PipelineConfig) error {
	if next == nil {
		return domain.WrapError(domain.ErrConfiguration, "swap pipeline config", errors.New("nil config"))
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if next.Version == "" {
		version, err := pipelineVersion(next)
		if err != nil {
			return err
		}
		next.Version = version
	}
	s.current.Store(next)
	return nil
}

// Reload re-reads the sources. On failure the previous snapshot stays in place.
func (s *PipelineStore) Reload() error {
	if s.load == nil {
		return domain.WrapError(domain.ErrConfiguration, "reload pipeline config", errors.New("store has no source"))
	}
	next, err := s.load()
	if err != nil {
		slog.Error("pipeline_config_reload_failed", "error", err, "version", s.Current().Version)
		return err
	}
	previous := s.Current().Version
	if err := s.Swap(next); err != nil {
		return err
	}
	slog.Info("pipeline_config_reloaded", "previous_version", previous, "version", next.Version)
	return nil
}
