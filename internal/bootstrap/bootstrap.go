package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/antonvlasov/corpus-qa/internal/config"
	"github.com/antonvlasov/corpus-qa/internal/core/ports"
	"github.com/antonvlasov/corpus-qa/internal/core/usecase"
	"github.com/antonvlasov/corpus-qa/internal/infrastructure/cache"
	"github.com/antonvlasov/corpus-qa/internal/infrastructure/chunking"
	"github.com/antonvlasov/corpus-qa/internal/infrastructure/llm/ollama"
	"github.com/antonvlasov/corpus-qa/internal/infrastructure/queue/nats"
	"github.com/antonvlasov/corpus-qa/internal/infrastructure/repository/postgres"
	"github.com/antonvlasov/corpus-qa/internal/infrastructure/resilience"
	"github.com/antonvlasov/corpus-qa/internal/infrastructure/vector/local"
	"github.com/antonvlasov/corpus-qa/internal/observability/logging"
	"github.com/antonvlasov/corpus-qa/internal/observability/metrics"
)

// App wires infrastructure into the use cases for one service process.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue ports.MessageQueue
	Store ports.DocumentStore
	Index ports.VectorIndex

	IngestUC  ports.Ingestor
	ProcessUC ports.IngestionProcessor
	QueryUC   ports.QueryService
	CorpusUC  ports.CorpusManager
	Reader    ports.DocumentReader

	IngestMetrics *metrics.IngestMetrics
	QueryMetrics  *metrics.QueryMetrics

	localIndex *local.Index
	closeFn    func()
}

// New builds the dependency graph for the named service ("api" or "worker").
// The vector index snapshot is loaded eagerly: a corrupt snapshot fails
// startup instead of serving an empty corpus.
//
// The worker owns the snapshot file: it is the only process that persists.
// The api keeps its copy fresh through StartSnapshotReloader and learns of
// removals it requested immediately via its own in-memory delete.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	logger := logging.NewJSONLogger(service, cfg.LogLevel)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	store := postgres.NewDocumentRepository(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	index := local.New(cfg.IndexPath, cfg.IndexMetric)
	if err := index.Load(ctx); err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("load index snapshot: %w", err)
	}
	logger.Info("vector index loaded", "path", cfg.IndexPath, "entries", index.Count())

	ingestMetrics := metrics.NewIngestMetrics(service)
	queryMetrics := metrics.NewQueryMetrics(service)

	embeddingCache := cache.New(cache.Config{
		MaxEntries: cfg.CacheMaxEntries,
		TTL:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
	}, ingestMetrics)

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		EmbedTimeout:       time.Duration(cfg.EmbedTimeoutSeconds) * time.Second,
		ScoreTimeout:       time.Duration(cfg.ScoreTimeoutSeconds) * time.Second,
		GenerateTimeout:    time.Duration(cfg.GenerateTimeoutSeconds) * time.Second,
		RateLimitPerSecond: cfg.LLMRateLimitPerSecond,
		ResilienceExecutor: executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	scorer := ollama.NewScorer(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	chunker := chunking.NewSplitter(cfg.TargetTokens, cfg.OverlapTokens, cfg.RespectSections)

	ingestUC := usecase.NewIngestDocumentUseCase(store, queue, logger)
	processUC := usecase.NewProcessDocumentUseCase(
		store, chunker, embedder, embeddingCache, index,
		logger, ingestMetrics, service, cfg.EmbedConcurrency,
	)
	queryUC := usecase.NewQueryUseCase(
		embedder, embeddingCache, index, scorer, generator,
		logger, queryMetrics, service, usecase.QueryConfig{
			DefaultTopK:        cfg.DefaultTopK,
			RerankPool:         cfg.RerankPool,
			DedupOverlap:       cfg.DedupOverlap,
			ContextBudgetChars: cfg.ContextBudgetChars,
		},
	)
	corpusUC := usecase.NewCorpusUseCase(store, index, queue, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue: queue,
		Store: store,
		Index: index,

		IngestUC:  ingestUC,
		ProcessUC: processUC,
		QueryUC:   queryUC,
		CorpusUC:  corpusUC,
		Reader:    ingestUC,

		IngestMetrics: ingestMetrics,
		QueryMetrics:  queryMetrics,

		localIndex: index,

		closeFn: func() {
			if service == "worker" {
				persistCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := index.Persist(persistCtx); err != nil {
					logger.Warn("persist index snapshot on shutdown", "error", err)
				}
			}
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

// StartSnapshotReloader follows the worker's snapshot file. Blocks until ctx
// is cancelled; run it in a goroutine from non-owning processes.
func (a *App) StartSnapshotReloader(ctx context.Context) {
	interval := time.Duration(a.Config.IndexReloadSeconds) * time.Second
	a.localIndex.ReloadOnChange(ctx, interval, a.Logger)
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
