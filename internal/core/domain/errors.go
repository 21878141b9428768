package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	// ErrIngestionFailure marks a document revision that failed before being
	// indexed. The revision stays out of the index entirely and is retried by
	// re-submission.
	ErrIngestionFailure = errors.New("ingestion failure")

	// ErrIndexCorrupt means a persisted index snapshot failed integrity
	// validation. Fatal at load; the index must be rebuilt from source
	// documents.
	ErrIndexCorrupt = errors.New("index snapshot corrupt")

	ErrEmbeddingUnavailable = errors.New("embedding capability unavailable")
	ErrGenerationTimeout    = errors.New("generation timed out")
	ErrRerankUnavailable    = errors.New("relevance scoring unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
