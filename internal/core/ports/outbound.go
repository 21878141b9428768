package ports

import (
	"context"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
)

// DocumentStore persists registry state: one row per (document, revision).
type DocumentStore interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetLatest(ctx context.Context, id string) (*domain.Document, error)
	GetRevision(ctx context.Context, id string, revision int64) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, revision int64, status domain.IngestStatus, errMessage string) error
	MarkSuperseded(ctx context.Context, id string, keepRevision int64) error
	DeleteDocument(ctx context.Context, id string) error
}

// MessageQueue carries document lifecycle events to the worker, which owns
// the vector index snapshot.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	PublishDocumentRemoved(ctx context.Context, documentID string) error
	SubscribeDocumentEvents(ctx context.Context, handler func(context.Context, domain.DocumentEvent) error) error
}

// Chunker splits a document's clean text into overlapping passages with
// deterministic ids.
type Chunker interface {
	Chunk(doc domain.SourceDocument) []domain.Chunk
}

// Embedder is the external embedding capability.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache maps a content fingerprint to a previously computed vector.
// GetOrCompute guarantees at most one in-flight computation per hash.
type EmbeddingCache interface {
	GetOrCompute(ctx context.Context, contentHash string, compute func(context.Context) ([]float32, error)) ([]float32, error)
	Invalidate(contentHash string)
	Purge()
}

// VectorIndex is the persistent source of truth for retrieval.
//
// Mutations are serialized; Search runs concurrently against a consistent
// snapshot. UpsertBatch applies all entries under one write section so a
// document becomes visible atomically.
type VectorIndex interface {
	Upsert(ctx context.Context, entry domain.IndexEntry) error
	UpsertBatch(ctx context.Context, entries []domain.IndexEntry) error
	Delete(ctx context.Context, chunkID string) error
	DeleteByDocument(ctx context.Context, documentID string) error
	DeleteStaleRevisions(ctx context.Context, documentID string, keepRevision int64) error
	Search(ctx context.Context, queryVector []float32, k int) ([]domain.ScoredChunk, error)
	Count() int
	Persist(ctx context.Context) error
	Load(ctx context.Context) error
}

// RelevanceScorer is the external fine-grained scoring capability used by
// the rerank stage.
type RelevanceScorer interface {
	Score(ctx context.Context, query, passage string) (float64, error)
}

// AnswerGenerator creates the final user-facing answer from citations.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, citations []domain.Citation) (string, error)
}
