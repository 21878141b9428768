package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
	"github.com/antonvlasov/corpus-qa/internal/core/ports"
)

// IngestDocumentUseCase registers a source document revision and hands it to
// the worker via the queue. Submission is cheap; all heavy lifting happens in
// ProcessDocumentUseCase.
type IngestDocumentUseCase struct {
	store  ports.DocumentStore
	queue  ports.MessageQueue
	logger *slog.Logger
}

func NewIngestDocumentUseCase(
	store ports.DocumentStore,
	queue ports.MessageQueue,
	logger *slog.Logger,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		store:  store,
		queue:  queue,
		logger: logger,
	}
}

// Ingest registers doc and returns the job id tracking it. Re-submitting a
// document whose content hash matches the latest indexed revision is a no-op
// and returns the original job id.
func (uc *IngestDocumentUseCase) Ingest(ctx context.Context, doc domain.SourceDocument) (string, error) {
	if strings.TrimSpace(doc.ID) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("document id is required"))
	}
	if doc.Text == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("document text is required"))
	}

	contentHash := doc.ContentHash
	if contentHash == "" {
		contentHash = domain.HashText(doc.Text)
	}

	revision := int64(1)
	latest, err := uc.store.GetLatest(ctx, doc.ID)
	switch {
	case err == nil:
		if latest.ContentHash == contentHash && latest.Status == domain.StatusIndexed {
			uc.logger.Info("document unchanged, skipping re-ingest",
				"document_id", doc.ID, "revision", latest.Revision)
			return latest.JobID, nil
		}
		revision = latest.Revision + 1
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		// first revision
	default:
		return "", fmt.Errorf("fetch latest revision: %w", err)
	}

	now := time.Now().UTC()
	row := &domain.Document{
		ID:          doc.ID,
		Revision:    revision,
		SourceURI:   doc.SourceURI,
		Metadata:    doc.Metadata,
		ContentHash: contentHash,
		Text:        doc.Text,
		Status:      domain.StatusPending,
		JobID:       uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.store.Create(ctx, row); err != nil {
		return "", fmt.Errorf("create document revision: %w", err)
	}

	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		if failErr := uc.store.UpdateStatus(ctx, doc.ID, revision, domain.StatusFailed, "publish ingestion event: "+err.Error()); failErr != nil {
			uc.logger.Error("mark failed after publish error",
				"document_id", doc.ID, "revision", revision, "error", failErr)
		}
		return "", fmt.Errorf("publish ingestion event: %w", err)
	}

	uc.logger.Info("document revision registered",
		"document_id", doc.ID, "revision", revision, "job_id", row.JobID)

	return row.JobID, nil
}

// GetLatest exposes the registry read model.
func (uc *IngestDocumentUseCase) GetLatest(ctx context.Context, id string) (*domain.Document, error) {
	return uc.store.GetLatest(ctx, id)
}
