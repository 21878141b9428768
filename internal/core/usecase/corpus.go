package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/antonvlasov/corpus-qa/internal/core/ports"
)

// CorpusUseCase removes documents from the corpus: all revisions leave the
// registry and the index. The local index delete keeps this process's answers
// clean immediately; the removal event makes it durable in the worker, which
// owns the snapshot. Cached embeddings stay; they are keyed by content hash
// and harmless without index entries pointing at them.
type CorpusUseCase struct {
	store  ports.DocumentStore
	index  ports.VectorIndex
	queue  ports.MessageQueue
	logger *slog.Logger
}

func NewCorpusUseCase(store ports.DocumentStore, index ports.VectorIndex, queue ports.MessageQueue, logger *slog.Logger) *CorpusUseCase {
	return &CorpusUseCase{
		store:  store,
		index:  index,
		queue:  queue,
		logger: logger,
	}
}

func (uc *CorpusUseCase) Remove(ctx context.Context, documentID string) error {
	// Registry first so a missing document errors before anything mutates.
	if err := uc.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if err := uc.index.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete index entries: %w", err)
	}
	if err := uc.queue.PublishDocumentRemoved(ctx, documentID); err != nil {
		return fmt.Errorf("publish removal event: %w", err)
	}

	uc.logger.Info("document removed from corpus", "document_id", documentID)
	return nil
}
