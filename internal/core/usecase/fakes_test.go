package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type statusCall struct {
	revision int64
	status   domain.IngestStatus
	errMsg   string
}

type storeFake struct {
	mu          sync.Mutex
	revisions   map[string][]*domain.Document
	statusCalls []statusCall
	superseded  []int64
	createErr   error
	deleteErr   error
}

func newStoreFake() *storeFake {
	return &storeFake{revisions: map[string][]*domain.Document{}}
}

func (f *storeFake) Create(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copyDoc := *doc
	f.revisions[doc.ID] = append(f.revisions[doc.ID], &copyDoc)
	return nil
}

func (f *storeFake) GetLatest(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	revs := f.revisions[id]
	if len(revs) == 0 {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get latest", errors.New(id))
	}
	copyDoc := *revs[len(revs)-1]
	return &copyDoc, nil
}

func (f *storeFake) GetRevision(_ context.Context, id string, revision int64) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.revisions[id] {
		if doc.Revision == revision {
			copyDoc := *doc
			return &copyDoc, nil
		}
	}
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "get revision", errors.New(id))
}

func (f *storeFake) UpdateStatus(_ context.Context, id string, revision int64, status domain.IngestStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{revision: revision, status: status, errMsg: errMessage})
	for _, doc := range f.revisions[id] {
		if doc.Revision == revision {
			doc.Status = status
			doc.Error = errMessage
			return nil
		}
	}
	return domain.WrapError(domain.ErrDocumentNotFound, "update status", errors.New(id))
}

func (f *storeFake) MarkSuperseded(_ context.Context, id string, keepRevision int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.superseded = append(f.superseded, keepRevision)
	for _, doc := range f.revisions[id] {
		if doc.Revision < keepRevision && doc.Status == domain.StatusIndexed {
			doc.Status = domain.StatusSuperseded
		}
	}
	return nil
}

func (f *storeFake) DeleteDocument(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.revisions[id]) == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "delete document", errors.New(id))
	}
	delete(f.revisions, id)
	return nil
}

type queueFake struct {
	mu         sync.Mutex
	published  []string
	removed    []string
	publishErr error
}

func (f *queueFake) PublishDocumentIngested(_ context.Context, documentID string) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, documentID)
	return nil
}

func (f *queueFake) PublishDocumentRemoved(_ context.Context, documentID string) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, documentID)
	return nil
}

func (f *queueFake) SubscribeDocumentEvents(context.Context, func(context.Context, domain.DocumentEvent) error) error {
	return nil
}

// chunkerFake splits on "|" so tests control chunk boundaries exactly.
type chunkerFake struct{}

func (chunkerFake) Chunk(doc domain.SourceDocument) []domain.Chunk {
	if doc.Text == "" {
		return nil
	}
	parts := strings.Split(doc.Text, "|")
	chunks := make([]domain.Chunk, 0, len(parts))
	offset := 0
	for i, part := range parts {
		chunks = append(chunks, domain.Chunk{
			ID:          domain.ChunkID(doc.ID, i),
			DocumentID:  doc.ID,
			Index:       i,
			Text:        part,
			StartChar:   offset,
			EndChar:     offset + len(part),
			ContentHash: domain.HashText(part),
		})
		offset += len(part) + 1
	}
	return chunks
}

type embedderFake struct {
	mu         sync.Mutex
	vectors    map[string][]float32
	queryVec   []float32
	failText   string
	embedCalls int
	queryCalls int
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failText != "" && text == f.failText {
			return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed", errors.New("backend down"))
		}
		vector, ok := f.vectors[text]
		if !ok {
			vector = []float32{1, 0, 0}
		}
		out[i] = vector
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if f.queryVec != nil {
		return f.queryVec, nil
	}
	if vector, ok := f.vectors[text]; ok {
		return vector, nil
	}
	return []float32{1, 0, 0}, nil
}

// cacheFake memoizes by hash, no eviction.
type cacheFake struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	computes int
}

func newCacheFake() *cacheFake {
	return &cacheFake{vectors: map[string][]float32{}}
}

func (f *cacheFake) GetOrCompute(ctx context.Context, contentHash string, compute func(context.Context) ([]float32, error)) ([]float32, error) {
	f.mu.Lock()
	if vector, ok := f.vectors[contentHash]; ok {
		f.mu.Unlock()
		return vector, nil
	}
	f.mu.Unlock()

	vector, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.computes++
	f.vectors[contentHash] = vector
	f.mu.Unlock()
	return vector, nil
}

func (f *cacheFake) Invalidate(contentHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vectors, contentHash)
}

func (f *cacheFake) Purge() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = map[string][]float32{}
}

// indexFake is an in-memory cosine index with the same ordering contract as
// the real one: similarity descending, ties by chunk id ascending.
type indexFake struct {
	mu             sync.Mutex
	entries        map[string]domain.IndexEntry
	upsertBatchErr error
	searchErr      error
	persists       int
}

func newIndexFake() *indexFake {
	return &indexFake{entries: map[string]domain.IndexEntry{}}
}

func (f *indexFake) Upsert(_ context.Context, entry domain.IndexEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.ChunkID] = entry
	return nil
}

func (f *indexFake) UpsertBatch(_ context.Context, entries []domain.IndexEntry) error {
	if f.upsertBatchErr != nil {
		return f.upsertBatchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range entries {
		f.entries[entry.ChunkID] = entry
	}
	return nil
}

func (f *indexFake) Delete(_ context.Context, chunkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, chunkID)
	return nil
}

func (f *indexFake) DeleteByDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, entry := range f.entries {
		if entry.DocumentID == documentID {
			delete(f.entries, id)
		}
	}
	return nil
}

func (f *indexFake) DeleteStaleRevisions(_ context.Context, documentID string, keepRevision int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, entry := range f.entries {
		if entry.DocumentID == documentID && entry.Revision < keepRevision {
			delete(f.entries, id)
		}
	}
	return nil
}

func (f *indexFake) Search(_ context.Context, queryVector []float32, k int) ([]domain.ScoredChunk, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	scored := make([]domain.ScoredChunk, 0, len(f.entries))
	for _, entry := range f.entries {
		scored = append(scored, domain.ScoredChunk{Entry: entry, Similarity: cosine(queryVector, entry.Vector)})
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

func (f *indexFake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *indexFake) Persist(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persists++
	return nil
}

func (f *indexFake) Load(context.Context) error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type scorerFake struct {
	mu     sync.Mutex
	scores map[string]float64
	err    error
	calls  int
}

func (f *scorerFake) Score(_ context.Context, _, passage string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.scores[passage], nil
}

type generatorFake struct {
	text      string
	err       error
	calls     int
	citations []domain.Citation
}

func (f *generatorFake) GenerateAnswer(_ context.Context, _ string, citations []domain.Citation) (string, error) {
	f.calls++
	f.citations = citations
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type queryObserverFake struct {
	outcomes  []string
	fallbacks int
	citations []int
}

func (f *queryObserverFake) FinishQuery(_, outcome string, _ time.Duration) {
	if f == nil {
		return
	}
	f.outcomes = append(f.outcomes, outcome)
}

func (f *queryObserverFake) RerankFallback() {
	if f == nil {
		return
	}
	f.fallbacks++
}

func (f *queryObserverFake) ObserveCitations(n int) {
	if f == nil {
		return
	}
	f.citations = append(f.citations, n)
}
