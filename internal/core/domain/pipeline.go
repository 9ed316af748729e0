package domain

import (
	"errors"
	"fmt"
	"time"
)

// PipelineConfig holds every tunable of chunking, retrieval, fusion, rerank, dedup and answer assembly.
// It is immutable once published; changes go through a whole-value swap.
type PipelineConfig struct {
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Answer    AnswerConfig    `yaml:"answer"`

	// Version identifies the snapshot; it changes whenever any value changes.
	Version string       `yaml:"-"`
	Rules   *RerankRules `yaml:"-"`
}

type ChunkingConfig struct {
	ChunkSize       int      `yaml:"chunk_size"`
	Overlap         int      `yaml:"overlap"`
	MinChunkSize    int      `yaml:"min_chunk_size"`
	MaxChunksPerDoc int      `yaml:"max_chunks_per_doc"`
	Separators      []string `yaml:"separators"`
}

type RetrievalConfig struct {
	LexicalTopK         int           `yaml:"lexical_top_k"`
	LexicalMinScore     float64       `yaml:"lexical_min_score"`
	DenseTopK           int           `yaml:"dense_top_k"`
	DenseScoreThreshold float64       `yaml:"dense_score_threshold"`
	SearchTimeout       time.Duration `yaml:"search_timeout"`
}

type FusionConfig struct {
	BM25Weight  float64 `yaml:"bm25_weight"`
	DenseWeight float64 `yaml:"dense_weight"`
	FinalTopK   int     `yaml:"final_top_k"`
}

type RerankConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Model           string        `yaml:"model"`
	TopK            int           `yaml:"top_k"`
	MaxPassageChars int           `yaml:"max_passage_chars"`
	BatchSize       int           `yaml:"batch_size"`
	RulesEnabled    bool          `yaml:"rules_enabled"`
	Timeout         time.Duration `yaml:"timeout"`
}

type DedupConfig struct {
	CompareChars      int     `yaml:"compare_chars"`
	ShortSectionChars int     `yaml:"short_section_chars"`
	ShortThreshold    float64 `yaml:"short_threshold"`
	LongThreshold     float64 `yaml:"long_threshold"`
	LineOverlapRatio  float64 `yaml:"line_overlap_ratio"`
	MinLineChars      int     `yaml:"min_line_chars"`
}

type AnswerConfig struct {
	MaxContextLength     int           `yaml:"max_context_length"`
	InsufficientDataText string        `yaml:"insufficient_data_text"`
	MinQuestionLength    int           `yaml:"min_question_length"`
	MaxQuestionLength    int           `yaml:"max_question_length"`
	GenerationTimeout    time.Duration `yaml:"generation_timeout"`
	Temperature          float64       `yaml:"temperature"`
	TopP                 float64       `yaml:"top_p"`
	MaxTokens            int           `yaml:"max_tokens"`
	SystemPrompt         string        `yaml:"system_prompt"`
}

// GenerationOptions are the sampling parameters handed to a generator.
type GenerationOptions struct {
	Temperature  float64
	TopP         float64
	MaxTokens    int
	SystemPrompt string
}

func (a AnswerConfig) GenerationOptions() GenerationOptions {
	return GenerationOptions{
		Temperature:  a.Temperature,
		TopP:         a.TopP,
		MaxTokens:    a.MaxTokens,
		SystemPrompt: a.SystemPrompt,
	}
}

const DefaultInsufficientDataText = "Недостаточно данных для точного ответа."

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Chunking: ChunkingConfig{
			ChunkSize:       1000,
			Overlap:         100,
			MinChunkSize:    50,
			MaxChunksPerDoc: 500,
			Separators:      []string{"\n\n", "\n", ". ", "? ", "! ", " "},
		},
		Retrieval: RetrievalConfig{
			LexicalTopK:         20,
			LexicalMinScore:     0.1,
			DenseTopK:           20,
			DenseScoreThreshold: 0.3,
			SearchTimeout:       5 * time.Second,
		},
		Fusion: FusionConfig{
			BM25Weight:  0.3,
			DenseWeight: 0.7,
			FinalTopK:   10,
		},
		Rerank: RerankConfig{
			Enabled:         true,
			Model:           "BAAI/bge-reranker-v2-m3",
			TopK:            5,
			MaxPassageChars: 2048,
			BatchSize:       16,
			RulesEnabled:    true,
			Timeout:         10 * time.Second,
		},
		Dedup: DedupConfig{
			CompareChars:      400,
			ShortSectionChars: 300,
			ShortThreshold:    0.90,
			LongThreshold:     0.85,
			LineOverlapRatio:  0.5,
			MinLineChars:      10,
		},
		Answer: AnswerConfig{
			MaxContextLength:     2500,
			InsufficientDataText: DefaultInsufficientDataText,
			MinQuestionLength:    5,
			MaxQuestionLength:    500,
			GenerationTimeout:    60 * time.Second,
			Temperature:          0.1,
			TopP:                 0.9,
			MaxTokens:            400,
		},
	}
}

// Validate reports every invalid value at once as a configuration error.
func (c PipelineConfig) Validate() error {
	var problems []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Errorf(format, args...))
		}
	}

	ch := c.Chunking
	check(ch.ChunkSize > 0, "chunking.chunk_size must be positive, got %d", ch.ChunkSize)
	check(ch.Overlap >= 0 && ch.Overlap < ch.ChunkSize, "chunking.overlap must be in [0, chunk_size), got %d", ch.Overlap)
	check(ch.MinChunkSize >= 0 && ch.MinChunkSize < ch.ChunkSize, "chunking.min_chunk_size must be in [0, chunk_size), got %d", ch.MinChunkSize)
	check(ch.MaxChunksPerDoc > 0, "chunking.max_chunks_per_doc must be positive, got %d", ch.MaxChunksPerDoc)
	check(len(ch.Separators) > 0, "chunking.separators must not be empty")

	r := c.Retrieval
	check(r.LexicalTopK > 0, "retrieval.lexical_top_k must be positive, got %d", r.LexicalTopK)
	check(r.DenseTopK > 0, "retrieval.dense_top_k must be positive, got %d", r.DenseTopK)
	check(r.LexicalMinScore >= 0 && r.LexicalMinScore <= 1, "retrieval.lexical_min_score must be in [0, 1], got %v", r.LexicalMinScore)
	check(r.DenseScoreThreshold >= 0 && r.DenseScoreThreshold <= 1, "retrieval.dense_score_threshold must be in [0, 1], got %v", r.DenseScoreThreshold)
	check(r.SearchTimeout > 0, "retrieval.search_timeout must be positive")

	f := c.Fusion
	check(f.BM25Weight >= 0 && f.DenseWeight >= 0, "fusion weights must not be negative")
	check(f.BM25Weight+f.DenseWeight > 0, "fusion weights must not both be zero")
	check(f.FinalTopK > 0, "fusion.final_top_k must be positive, got %d", f.FinalTopK)

	rr := c.Rerank
	check(rr.TopK > 0, "rerank.top_k must be positive, got %d", rr.TopK)
	check(rr.MaxPassageChars > 0, "rerank.max_passage_chars must be positive, got %d", rr.MaxPassageChars)
	check(rr.BatchSize > 0, "rerank.batch_size must be positive, got %d", rr.BatchSize)
	check(!rr.Enabled || rr.Timeout > 0, "rerank.timeout must be positive when rerank is enabled")
	check(!rr.RulesEnabled || c.Rules != nil, "rerank.rules_enabled requires loaded rules")

	d := c.Dedup
	check(d.CompareChars > 0, "dedup.compare_chars must be positive, got %d", d.CompareChars)
	check(d.ShortThreshold > 0 && d.ShortThreshold <= 1, "dedup.short_threshold must be in (0, 1], got %v", d.ShortThreshold)
	check(d.LongThreshold > 0 && d.LongThreshold <= 1, "dedup.long_threshold must be in (0, 1], got %v", d.LongThreshold)
	check(d.LineOverlapRatio > 0 && d.LineOverlapRatio <= 1, "dedup.line_overlap_ratio must be in (0, 1], got %v", d.LineOverlapRatio)
	check(d.MinLineChars >= 0, "dedup.min_line_chars must not be negative")

	a := c.Answer
	check(a.MaxContextLength > 0, "answer.max_context_length must be positive, got %d", a.MaxContextLength)
	check(a.InsufficientDataText != "", "answer.insufficient_data_text must not be empty")
	check(a.MinQuestionLength >= 0 && a.MinQuestionLength <= a.MaxQuestionLength, "answer question length bounds are inconsistent")
	check(a.GenerationTimeout > 0, "answer.generation_timeout must be positive")
	check(a.Temperature >= 0, "answer.temperature must not be negative")
	check(a.TopP > 0 && a.TopP <= 1, "answer.top_p must be in (0, 1], got %v", a.TopP)
	check(a.MaxTokens > 0, "answer.max_tokens must be positive, got %d", a.MaxTokens)

	if len(problems) > 0 {
		return WrapError(ErrConfiguration, "validate pipeline config", errors.Join(problems...))
	}
	return nil
}
