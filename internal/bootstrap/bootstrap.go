package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/localrag/internal/config"
	"github.com/kirillkom/localrag/internal/core/domain"
	"github.com/kirillkom/localrag/internal/core/ports"
	"github.com/kirillkom/localrag/internal/core/usecase"
	"github.com/kirillkom/localrag/internal/infrastructure/cache/redis"
	"github.com/kirillkom/localrag/internal/infrastructure/chunking"
	"github.com/kirillkom/localrag/internal/infrastructure/extractor"
	htmlextractor "github.com/kirillkom/localrag/internal/infrastructure/extractor/html"
	"github.com/kirillkom/localrag/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/localrag/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/localrag/internal/infrastructure/extractor/xlsx"
	"github.com/kirillkom/localrag/internal/infrastructure/lexical/meili"
	"github.com/kirillkom/localrag/internal/infrastructure/llm/embedcache"
	"github.com/kirillkom/localrag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/localrag/internal/infrastructure/llm/openai"
	"github.com/kirillkom/localrag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/localrag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/localrag/internal/infrastructure/rerank"
	"github.com/kirillkom/localrag/internal/infrastructure/resilience"
	"github.com/kirillkom/localrag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/localrag/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/localrag/internal/infrastructure/vector/qdrant"
)

// Options adjusts the wiring per process.
type Options struct {
	// Observer receives answer pipeline measurements. Nil disables them.
	Observer ports.PipelineObserver
	// InlineProcessing processes uploads synchronously instead of publishing them to NATS.
	InlineProcessing bool
	// BreakerObserver is told about circuit breaker state changes. Nil disables it.
	BreakerObserver func(operation, state string)
}

type App struct {
	Config   config.Config
	Pipeline *config.PipelineStore

	Queue      ports.MessageQueue
	Repo       ports.DocumentRepository
	IngestUC   *usecase.IngestDocumentUseCase
	ProcessUC  *usecase.ProcessDocumentUseCase
	AnswerUC   *usecase.AnswerUseCase
	Documents  *usecase.DocumentService
	ChunkUC    *usecase.ChunkUseCase
	FeedbackUC *usecase.FeedbackUseCase
	EvalUC     *usecase.EvaluationUseCase
	Extractor  *extractor.Registry
	Health     []ports.HealthChecker

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	pipeline, err := config.OpenPipelineStore(config.PipelineSources{
		ConfigPath: cfg.PipelineConfigPath,
		RulesPath:  cfg.RerankRulesPath,
	})
	if err != nil {
		return nil, fmt.Errorf("load pipeline config: %w", err)
	}
	app.Pipeline = pipeline
	current := pipeline.Current()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:        cfg.ResilienceMaxAttempts,
		RetryInitialBackoff:     cfg.ResilienceInitialBackoff,
		RetryMaxBackoff:         cfg.ResilienceMaxBackoff,
		BreakerEnabled:          true,
		BreakerFailureThreshold: uint32(max(cfg.BreakerFailureThreshold, 0)),
		BreakerOpenTimeout:      cfg.BreakerOpenTimeout,
		OnStateChange:           opts.BreakerObserver,
	})
	app.addChecker(breakerChecker{executor: executor})

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	app.Repo = repo
	app.addChecker(postgres.NewChecker(db))

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, cfg.OllamaPullModels, executor)
	embedder, err := embedcache.New(ollama.NewEmbedder(ollamaClient), cfg.OllamaEmbedModel, cfg.EmbedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}

	lexical, err := newLexicalIndex(cfg, executor)
	if err != nil {
		return nil, err
	}
	dense, err := newDenseIndex(ctx, cfg, db, embedder, executor)
	if err != nil {
		return nil, err
	}
	generator, err := newGenerator(cfg, ollamaClient, executor)
	if err != nil {
		return nil, err
	}
	encoder := rerank.New(cfg.RerankerURL, current.Rerank.Model, cfg.RerankerSigmoid, executor)
	app.addChecker(lexical, dense, generator, encoder)

	registry := newExtractor(storage)
	app.Extractor = registry
	chunker := chunking.NewFromSource(chunking.NewTokenizer(cfg.TokenizerEncoding), pipeline)

	app.ProcessUC = usecase.NewProcessDocumentUseCase(repo, registry, chunker, lexical, dense)
	app.ChunkUC = usecase.NewChunkUseCase(chunker)
	app.Documents = usecase.NewDocumentService(repo, storage, lexical, dense)

	if opts.InlineProcessing {
		app.Queue = newInlineQueue(app.ProcessUC)
	} else {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			HandlerTimeout:     cfg.DocumentProcessTimeout,
			ResilienceExecutor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.onClose(queue.Close)
		app.Queue = queue
		app.addChecker(queue)
	}
	app.IngestUC = usecase.NewIngestDocumentUseCase(repo, storage, app.Queue)

	answerUC := usecase.NewAnswerUseCase(lexical, dense, encoder, generator, pipeline)
	if opts.Observer != nil {
		answerUC.WithObserver(opts.Observer)
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := redis.New(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init answer cache: %w", err)
		}
		app.onClose(func() { _ = cache.Close() })
		answerUC.WithCache(cache, cfg.AnswerCacheTTL)
		app.addChecker(cache)
	}
	app.AnswerUC = answerUC

	app.FeedbackUC = usecase.NewFeedbackUseCase(postgres.NewFeedbackRepository(db), domain.DefaultFeedbackReasons)
	app.EvalUC = usecase.NewEvaluationUseCase(
		answerUC,
		postgres.NewEvaluationRepository(db),
		pipeline,
		generator.Model(),
		cfg.EvalConcurrency,
	)

	slog.Info("bootstrap_ready",
		"lexical_backend", cfg.LexicalBackend,
		"dense_backend", cfg.DenseBackend,
		"generator_backend", cfg.GeneratorBackend,
		"generator_model", generator.Model(),
		"pipeline_version", current.Version,
		"inline_processing", opts.InlineProcessing,
	)
	return app, nil
}

// ChunkPipeline is the extraction and chunking half of ingestion, with no storage or indexes.
type ChunkPipeline struct {
	Pipeline  *config.PipelineStore
	Extractor *extractor.Registry
	ChunkUC   *usecase.ChunkUseCase
}

// NewChunkPipeline wires extraction and chunking only. It opens no network connections.
func NewChunkPipeline(cfg config.Config) (*ChunkPipeline, error) {
	pipeline, err := config.OpenPipelineStore(config.PipelineSources{
		ConfigPath: cfg.PipelineConfigPath,
		RulesPath:  cfg.RerankRulesPath,
	})
	if err != nil {
		return nil, fmt.Errorf("load pipeline config: %w", err)
	}
	return &ChunkPipeline{
		Pipeline:  pipeline,
		Extractor: newExtractor(nil),
		ChunkUC:   usecase.NewChunkUseCase(chunking.NewFromSource(chunking.NewTokenizer(cfg.TokenizerEncoding), pipeline)),
	}, nil
}

func newExtractor(storage ports.ObjectStorage) *extractor.Registry {
	return extractor.New(storage, extractor.DefaultMaxFileSize,
		plaintext.New(),
		htmlextractor.New(),
		pdf.New(),
		xlsx.New(),
	)
}

func newLexicalIndex(cfg config.Config, executor *resilience.Executor) (ports.LexicalIndex, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LexicalBackend)) {
	case "meili", "meilisearch":
		return meili.New(cfg.MeiliURL, cfg.MeiliAPIKey, cfg.MeiliIndex, executor), nil
	case "qdrant":
		client := qdrant.New(cfg.QdrantURL, cfg.QdrantSparseCollection, cfg.QdrantAPIKey, executor)
		return qdrant.NewSparseIndex(client), nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "lexical backend", fmt.Errorf("unknown backend %q", cfg.LexicalBackend))
	}
}

func newDenseIndex(
	ctx context.Context,
	cfg config.Config,
	db *sql.DB,
	embedder ports.Embedder,
	executor *resilience.Executor,
) (ports.DenseIndex, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DenseBackend)) {
	case "qdrant":
		client := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, cfg.QdrantAPIKey, executor)
		return qdrant.NewDenseIndex(client, embedder), nil
	case "pgvector":
		index := pgvector.New(db, embedder, cfg.EmbeddingDimensions)
		if err := index.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure pgvector schema: %w", err)
		}
		return index, nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "dense backend", fmt.Errorf("unknown backend %q", cfg.DenseBackend))
	}
}

type answerGenerator interface {
	ports.Generator
	ports.HealthChecker
}

func newGenerator(cfg config.Config, ollamaClient *ollama.Client, executor *resilience.Executor) (answerGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.GeneratorBackend)) {
	case "ollama":
		return ollama.NewGenerator(ollamaClient), nil
	case "openai":
		return openai.NewGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, executor), nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "generator backend", fmt.Errorf("unknown backend %q", cfg.GeneratorBackend))
	}
}

// addChecker registers every dependency that can answer a readiness ping.
func (a *App) addChecker(deps ...any) {
	for _, dep := range deps {
		if checker, ok := dep.(ports.HealthChecker); ok {
			a.Health = append(a.Health, checker)
		}
	}
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
