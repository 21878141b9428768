// Package local implements the process-local vector index: exact
// nearest-neighbor search over in-memory entries with a durable, checksummed
// snapshot on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
)

type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

func parseMetric(s string) Metric {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dot", "dotproduct", "dot_product":
		return MetricDot
	default:
		return MetricCosine
	}
}

// Index follows a single-writer, multiple-reader discipline: mutations are
// serialized by the write lock, searches share the read lock and observe a
// consistent snapshot at call time.
type Index struct {
	path   string
	metric Metric

	mu        sync.RWMutex
	dimension int
	entries   map[string]storedEntry
}

type storedEntry struct {
	entry domain.IndexEntry
	norm  float64
}

func New(path, metric string) *Index {
	return &Index{
		path:    path,
		metric:  parseMetric(metric),
		entries: make(map[string]storedEntry),
	}
}

// Upsert is idempotent on chunk id: an existing entry with the same id is
// replaced.
func (idx *Index) Upsert(_ context.Context, entry domain.IndexEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.putLocked(entry)
}

// UpsertBatch applies all entries under a single write section, so a
// multi-chunk document becomes searchable atomically.
func (idx *Index) UpsertBatch(_ context.Context, entries []domain.IndexEntry) error {
	for _, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return err
		}
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, entry := range entries {
		if err := idx.putLocked(entry); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) putLocked(entry domain.IndexEntry) error {
	if idx.dimension == 0 {
		idx.dimension = len(entry.Vector)
	}
	if len(entry.Vector) != idx.dimension {
		return domain.WrapError(domain.ErrInvalidInput, "index upsert",
			fmt.Errorf("vector dimension %d, index dimension %d", len(entry.Vector), idx.dimension))
	}
	idx.entries[entry.ChunkID] = storedEntry{entry: entry, norm: vectorNorm(entry.Vector)}
	return nil
}

func (idx *Index) Delete(_ context.Context, chunkID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, chunkID)
	return nil
}

func (idx *Index) DeleteByDocument(_ context.Context, documentID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id, stored := range idx.entries {
		if stored.entry.DocumentID == documentID {
			delete(idx.entries, id)
		}
	}
	return nil
}

// DeleteStaleRevisions removes a document's entries from revisions older
// than keepRevision, used once a superseding revision is fully indexed.
func (idx *Index) DeleteStaleRevisions(_ context.Context, documentID string, keepRevision int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id, stored := range idx.entries {
		if stored.entry.DocumentID == documentID && stored.entry.Revision < keepRevision {
			delete(idx.entries, id)
		}
	}
	return nil
}

// Search returns the k entries nearest to the query vector, similarity
// descending. Equal scores are broken by chunk id ascending so rankings are
// deterministic across runs.
func (idx *Index) Search(_ context.Context, queryVector []float32, k int) ([]domain.ScoredChunk, error) {
	if len(queryVector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "index search", errors.New("empty query vector"))
	}
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.dimension != 0 && len(queryVector) != idx.dimension {
		return nil, domain.WrapError(domain.ErrInvalidInput, "index search",
			fmt.Errorf("query dimension %d, index dimension %d", len(queryVector), idx.dimension))
	}

	queryNorm := vectorNorm(queryVector)
	scored := make([]domain.ScoredChunk, 0, len(idx.entries))
	for _, stored := range idx.entries {
		scored = append(scored, domain.ScoredChunk{
			Entry:      stored.entry,
			Similarity: idx.similarity(queryVector, queryNorm, stored),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Entry.ChunkID < scored[j].Entry.ChunkID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func (idx *Index) similarity(query []float32, queryNorm float64, stored storedEntry) float64 {
	dot := dotProduct(query, stored.entry.Vector)
	if idx.metric == MetricDot {
		return dot
	}
	if queryNorm == 0 || stored.norm == 0 {
		return 0
	}
	return dot / (queryNorm * stored.norm)
}

func validateEntry(entry domain.IndexEntry) error {
	if entry.ChunkID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "index upsert", errors.New("empty chunk id"))
	}
	if entry.DocumentID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "index upsert", errors.New("empty document id"))
	}
	if len(entry.Vector) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "index upsert", errors.New("empty vector"))
	}
	return nil
}

func dotProduct(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func vectorNorm(v []float32) float64 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
