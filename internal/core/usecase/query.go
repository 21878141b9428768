package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
	"github.com/antonvlasov/corpus-qa/internal/core/ports"
)

// QueryObserver receives retrieval path events. Satisfied by the prometheus
// query metrics; nil-safe via nopQueryObserver.
type QueryObserver interface {
	FinishQuery(service, outcome string, duration time.Duration)
	RerankFallback()
	ObserveCitations(n int)
}

type nopQueryObserver struct{}

func (nopQueryObserver) FinishQuery(string, string, time.Duration) {}
func (nopQueryObserver) RerankFallback()                           {}
func (nopQueryObserver) ObserveCitations(int)                      {}

// QueryConfig holds the retrieval knobs.
type QueryConfig struct {
	DefaultTopK        int
	RerankPool         int
	DedupOverlap       float64
	ContextBudgetChars int
}

func (c QueryConfig) normalize() QueryConfig {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 5
	}
	if c.RerankPool <= 0 {
		c.RerankPool = 20
	}
	if c.DedupOverlap <= 0 || c.DedupOverlap > 1 {
		c.DedupOverlap = 0.5
	}
	if c.ContextBudgetChars <= 0 {
		c.ContextBudgetChars = 8000
	}
	return c
}

// QueryUseCase runs retrieve → rerank → assemble → generate. Retrieve stops
// after the similarity stage; Query carries the candidates through to an
// answer with citations.
type QueryUseCase struct {
	embedder  ports.Embedder
	cache     ports.EmbeddingCache
	index     ports.VectorIndex
	scorer    ports.RelevanceScorer
	generator ports.AnswerGenerator
	logger    *slog.Logger
	observer  QueryObserver

	service string
	cfg     QueryConfig
}

func NewQueryUseCase(
	embedder ports.Embedder,
	cache ports.EmbeddingCache,
	index ports.VectorIndex,
	scorer ports.RelevanceScorer,
	generator ports.AnswerGenerator,
	logger *slog.Logger,
	observer QueryObserver,
	service string,
	cfg QueryConfig,
) *QueryUseCase {
	if observer == nil {
		observer = nopQueryObserver{}
	}
	return &QueryUseCase{
		embedder:  embedder,
		cache:     cache,
		index:     index,
		scorer:    scorer,
		generator: generator,
		logger:    logger,
		observer:  observer,
		service:   service,
		cfg:       cfg.normalize(),
	}
}

// Retrieve returns the top-k candidates by vector similarity, metadata
// filter applied. No reranking, no generation.
func (uc *QueryUseCase) Retrieve(ctx context.Context, q domain.Query) (*domain.RetrievalResult, error) {
	started := time.Now()

	k := q.K
	if k <= 0 {
		k = uc.cfg.DefaultTopK
	}
	chunks, err := uc.retrieve(ctx, q, k)
	if err != nil {
		uc.observer.FinishQuery(uc.service, "error", time.Since(started))
		return nil, err
	}

	uc.observer.FinishQuery(uc.service, "retrieval_only", time.Since(started))
	return &domain.RetrievalResult{
		Query:    q.Text,
		Chunks:   chunks,
		Reranked: false,
	}, nil
}

// Query runs the full pipeline. Rerank failures degrade to similarity order;
// generation failures degrade to citations-only. An empty candidate set is an
// explicit no-evidence answer, never a fabricated one.
func (uc *QueryUseCase) Query(ctx context.Context, q domain.Query) (*domain.Answer, error) {
	started := time.Now()

	k := q.K
	if k <= 0 {
		k = uc.cfg.DefaultTopK
	}
	fetchK := k
	if q.Rerank && uc.cfg.RerankPool > fetchK {
		fetchK = uc.cfg.RerankPool
	}

	chunks, err := uc.retrieve(ctx, q, fetchK)
	if err != nil {
		uc.observer.FinishQuery(uc.service, "error", time.Since(started))
		return nil, err
	}
	if len(chunks) == 0 {
		uc.observer.FinishQuery(uc.service, "no_evidence", time.Since(started))
		return &domain.Answer{NoEvidence: true}, nil
	}

	if q.Rerank {
		chunks, _ = uc.rerank(ctx, q.Text, chunks, k)
	} else if len(chunks) > k {
		chunks = chunks[:k]
	}

	citations := assembleCitations(chunks, uc.cfg.DedupOverlap, uc.cfg.ContextBudgetChars)
	uc.observer.ObserveCitations(len(citations))

	if !q.Generate {
		uc.observer.FinishQuery(uc.service, "citations_only", time.Since(started))
		return &domain.Answer{Citations: citations}, nil
	}

	answerText, err := uc.generator.GenerateAnswer(ctx, q.Text, citations)
	if err != nil {
		uc.logger.Warn("answer generation degraded", "error", err)
		uc.observer.FinishQuery(uc.service, "degraded", time.Since(started))
		return &domain.Answer{Citations: citations, Degraded: true}, nil
	}

	uc.observer.FinishQuery(uc.service, "answered", time.Since(started))
	return &domain.Answer{Text: answerText, Citations: citations}, nil
}

func (uc *QueryUseCase) retrieve(ctx context.Context, q domain.Query, k int) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query text is required"))
	}

	vector, err := uc.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Metadata filtering happens after the neighbor search, so over-fetch
	// when a filter is present to keep k survivors likely.
	searchK := k
	if !q.Filter.IsZero() {
		searchK = k * 4
	}

	candidates, err := uc.index.Search(ctx, vector, searchK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	if q.Filter.IsZero() {
		return candidates, nil
	}

	filtered := make([]domain.ScoredChunk, 0, k)
	for _, candidate := range candidates {
		if !q.Filter.Matches(candidate.Entry.DocumentID, candidate.Entry.Metadata) {
			continue
		}
		filtered = append(filtered, candidate)
		if len(filtered) == k {
			break
		}
	}
	return filtered, nil
}

// embedQuery goes through the same cache as chunk embeddings: identical text
// yields an identical vector either way.
func (uc *QueryUseCase) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if uc.cache == nil {
		return uc.embedder.EmbedQuery(ctx, text)
	}
	return uc.cache.GetOrCompute(ctx, domain.HashText(text), func(cctx context.Context) ([]float32, error) {
		return uc.embedder.EmbedQuery(cctx, text)
	})
}
