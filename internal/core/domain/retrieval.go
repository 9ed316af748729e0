package domain

type SearchFilter struct {
	DocID    string `json:"doc_id,omitempty"`
	FileType string `json:"file_type,omitempty"`
	Language string `json:"language,omitempty"`

	// MinScore is the index-side score floor; results scoring below it are not returned.
	MinScore float64 `json:"-"`
}

func (f SearchFilter) IsZero() bool {
	return f.DocID == "" && f.FileType == "" && f.Language == ""
}

// ScoreDebug keeps every intermediate score a result went through.
type ScoreDebug struct {
	LexicalScore      float64 `json:"lexical_score"`
	DenseScore        float64 `json:"dense_score"`
	NormalizedLexical float64 `json:"normalized_lexical"`
	NormalizedDense   float64 `json:"normalized_dense"`
	FusedScore        float64 `json:"fused_score"`
	OriginalScore     float64 `json:"original_score"`
	RerankScore       float64 `json:"rerank_score,omitempty"`
	RuleBoost         float64 `json:"rule_boost,omitempty"`
	Availability      string  `json:"availability,omitempty"`
}

type ScoredResult struct {
	ChunkID    string        `json:"chunk_id"`
	DocID      string        `json:"doc_id"`
	ChunkIndex int           `json:"chunk_index"`
	Text       string        `json:"text"`
	Metadata   ChunkMetadata `json:"metadata"`
	Score      float64       `json:"score"`
	Debug      ScoreDebug    `json:"debug"`
}

type Citation struct {
	Source     string  `json:"source"`
	DocTitle   string  `json:"doc_title"`
	Section    string  `json:"section,omitempty"`
	Page       int     `json:"page,omitempty"`
	ChunkID    string  `json:"chunk_id"`
	Confidence float64 `json:"confidence"`
}

type StageTimings struct {
	LexicalMS    int64 `json:"lexical_time_ms"`
	DenseMS      int64 `json:"dense_time_ms"`
	FusionMS     int64 `json:"fusion_time_ms"`
	RerankMS     int64 `json:"rerank_time_ms"`
	DedupMS      int64 `json:"dedup_time_ms"`
	GenerationMS int64 `json:"generation_time_ms"`
	TotalMS      int64 `json:"total_time_ms"`
}

type StageCounts struct {
	Lexical  int `json:"lexical_results"`
	Dense    int `json:"dense_results"`
	Fused    int `json:"fused_results"`
	Reranked int `json:"reranked_results"`
	Unique   int `json:"deduplicated_results"`
	Context  int `json:"context_results"`
}

type AnswerDebug struct {
	TraceID         string       `json:"trace_id"`
	Timings         StageTimings `json:"timings"`
	Counts          StageCounts  `json:"counts"`
	Confidence      float64      `json:"confidence"`
	QuestionType    QuestionType `json:"question_type"`
	RerankModel     string       `json:"rerank_model,omitempty"`
	Degraded        bool         `json:"degraded"`
	DegradedSources []string     `json:"degraded_sources,omitempty"`
	NoResults       bool         `json:"no_results,omitempty"`
	CacheHit        bool         `json:"cache_hit,omitempty"`
}

type Answer struct {
	Answer    string      `json:"answer"`
	Citations []Citation  `json:"citations"`
	Contexts  []string    `json:"contexts,omitempty"`
	Debug     AnswerDebug `json:"debug"`
}

// Degraded source names reported in AnswerDebug.DegradedSources.
const (
	SourceLexical  = "lexical"
	SourceDense    = "dense"
	SourceReranker = "reranker"
)
