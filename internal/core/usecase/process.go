package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
	"github.com/antonvlasov/corpus-qa/internal/core/ports"
)

// IngestObserver receives ingestion pipeline events. Satisfied by the
// prometheus ingest metrics; nil-safe via nopIngestObserver.
type IngestObserver interface {
	StartDocument()
	FinishDocument(service string, duration time.Duration, err error)
	ChunksIndexed(n int)
	ObserveSnapshot(duration time.Duration)
}

type nopIngestObserver struct{}

func (nopIngestObserver) StartDocument()                              {}
func (nopIngestObserver) FinishDocument(string, time.Duration, error) {}
func (nopIngestObserver) ChunksIndexed(int)                           {}
func (nopIngestObserver) ObserveSnapshot(time.Duration)               {}

// ProcessDocumentUseCase drives one registered revision through
// chunking → embedding → indexing. Failures leave the index untouched: no
// entry for the new revision is visible unless the whole batch landed.
type ProcessDocumentUseCase struct {
	store    ports.DocumentStore
	chunker  ports.Chunker
	embedder ports.Embedder
	cache    ports.EmbeddingCache
	index    ports.VectorIndex
	logger   *slog.Logger
	observer IngestObserver

	service          string
	embedConcurrency int
}

func NewProcessDocumentUseCase(
	store ports.DocumentStore,
	chunker ports.Chunker,
	embedder ports.Embedder,
	cache ports.EmbeddingCache,
	index ports.VectorIndex,
	logger *slog.Logger,
	observer IngestObserver,
	service string,
	embedConcurrency int,
) *ProcessDocumentUseCase {
	if observer == nil {
		observer = nopIngestObserver{}
	}
	if embedConcurrency <= 0 {
		embedConcurrency = 4
	}
	return &ProcessDocumentUseCase{
		store:            store,
		chunker:          chunker,
		embedder:         embedder,
		cache:            cache,
		index:            index,
		logger:           logger,
		observer:         observer,
		service:          service,
		embedConcurrency: embedConcurrency,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	started := time.Now()
	uc.observer.StartDocument()

	doc, err := uc.store.GetLatest(ctx, documentID)
	if err != nil {
		uc.observer.FinishDocument(uc.service, time.Since(started), err)
		return fmt.Errorf("fetch latest revision: %w", err)
	}

	// Redelivered events for an already-finished revision are a no-op.
	if doc.Status != domain.StatusPending {
		uc.logger.Info("skipping revision not in pending state",
			"document_id", doc.ID, "revision", doc.Revision, "status", doc.Status)
		uc.observer.FinishDocument(uc.service, time.Since(started), nil)
		return nil
	}

	err = uc.processRevision(ctx, doc)
	uc.observer.FinishDocument(uc.service, time.Since(started), err)
	if err != nil {
		if failErr := uc.store.UpdateStatus(ctx, doc.ID, doc.Revision, domain.StatusFailed, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return domain.WrapError(domain.ErrIngestionFailure, "process document", err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) processRevision(ctx context.Context, doc *domain.Document) error {
	if err := uc.store.UpdateStatus(ctx, doc.ID, doc.Revision, domain.StatusChunking, ""); err != nil {
		return fmt.Errorf("set status=chunking: %w", err)
	}

	chunks := uc.chunker.Chunk(domain.SourceDocument{
		ID:          doc.ID,
		SourceURI:   doc.SourceURI,
		Text:        doc.Text,
		Metadata:    doc.Metadata,
		ContentHash: doc.ContentHash,
	})

	if err := uc.store.UpdateStatus(ctx, doc.ID, doc.Revision, domain.StatusEmbedding, ""); err != nil {
		return fmt.Errorf("set status=embedding: %w", err)
	}

	entries, err := uc.embedChunks(ctx, doc, chunks)
	if err != nil {
		return err
	}

	// Batch upsert first, stale delete second: the new revision is always
	// searchable before the old one disappears.
	if len(entries) > 0 {
		if err := uc.index.UpsertBatch(ctx, entries); err != nil {
			return fmt.Errorf("index revision: %w", err)
		}
	}
	if err := uc.index.DeleteStaleRevisions(ctx, doc.ID, doc.Revision); err != nil {
		return fmt.Errorf("delete stale revisions: %w", err)
	}
	uc.observer.ChunksIndexed(len(entries))

	if err := uc.store.UpdateStatus(ctx, doc.ID, doc.Revision, domain.StatusIndexed, ""); err != nil {
		return fmt.Errorf("set status=indexed: %w", err)
	}
	if err := uc.store.MarkSuperseded(ctx, doc.ID, doc.Revision); err != nil {
		return fmt.Errorf("mark superseded revisions: %w", err)
	}

	uc.persistIndex(ctx)

	uc.logger.Info("document revision indexed",
		"document_id", doc.ID, "revision", doc.Revision, "chunks", len(entries))
	return nil
}

// RemoveByID drops a removed document's entries from the index and persists
// the snapshot. The registry rows were already deleted where the removal was
// requested; this is the index owner's half of the removal.
func (uc *ProcessDocumentUseCase) RemoveByID(ctx context.Context, documentID string) error {
	if err := uc.index.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete index entries: %w", err)
	}
	uc.persistIndex(ctx)
	uc.logger.Info("document removed from index", "document_id", documentID)
	return nil
}

// embedChunks computes one vector per chunk, deduplicated through the
// embedding cache, at most embedConcurrency embed calls in flight.
func (uc *ProcessDocumentUseCase) embedChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) ([]domain.IndexEntry, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(chunks))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(uc.embedConcurrency)
	for i := range chunks {
		i := i
		group.Go(func() error {
			chunk := chunks[i]
			vector, err := uc.cache.GetOrCompute(groupCtx, chunk.ContentHash, func(cctx context.Context) ([]float32, error) {
				batch, err := uc.embedder.Embed(cctx, []string{chunk.Text})
				if err != nil {
					return nil, err
				}
				if len(batch) != 1 {
					return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed chunk",
						fmt.Errorf("expected 1 vector, got %d", len(batch)))
				}
				return batch[0], nil
			})
			if err != nil {
				return fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
			}
			if len(vector) == 0 {
				return domain.WrapError(domain.ErrEmbeddingUnavailable, "embed chunk", errors.New("empty vector"))
			}
			vectors[i] = vector
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	entries := make([]domain.IndexEntry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = domain.IndexEntry{
			ChunkID:    chunk.ID,
			DocumentID: doc.ID,
			Revision:   doc.Revision,
			ChunkIndex: chunk.Index,
			Text:       chunk.Text,
			StartChar:  chunk.StartChar,
			EndChar:    chunk.EndChar,
			Vector:     vectors[i],
			Metadata:   doc.Metadata,
		}
	}
	return entries, nil
}

// persistIndex snapshots the index after a successful revision. Persistence
// failures are logged, not fatal: the in-memory index is already correct and
// the next snapshot retries.
func (uc *ProcessDocumentUseCase) persistIndex(ctx context.Context) {
	started := time.Now()
	if err := uc.index.Persist(ctx); err != nil {
		uc.logger.Warn("persist index snapshot", "error", err)
		return
	}
	uc.observer.ObserveSnapshot(time.Since(started))
}
