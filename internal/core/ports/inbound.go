package ports

import (
	"context"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
)

// Ingestor is the inbound contract for submitting a source document. It
// returns the job id tracking the revision's ingestion.
type Ingestor interface {
	Ingest(ctx context.Context, doc domain.SourceDocument) (string, error)
}

// IngestionProcessor is the worker side of the pipeline: it drives a
// submitted document through chunking → embedding → indexing, and applies
// removals to the index it owns.
type IngestionProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
	RemoveByID(ctx context.Context, documentID string) error
}

// QueryService is the inbound retrieval contract: Retrieve stops before
// reranking, Query runs the full retrieve → rerank → assemble → generate
// pipeline.
type QueryService interface {
	Retrieve(ctx context.Context, q domain.Query) (*domain.RetrievalResult, error)
	Query(ctx context.Context, q domain.Query) (*domain.Answer, error)
}

// CorpusManager removes documents from the corpus.
type CorpusManager interface {
	Remove(ctx context.Context, documentID string) error
}

// DocumentReader is the inbound read model for registry state.
type DocumentReader interface {
	GetLatest(ctx context.Context, id string) (*domain.Document, error)
}
