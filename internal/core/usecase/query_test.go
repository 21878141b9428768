package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
)

func seedEntry(t *testing.T, index *indexFake, docID string, chunkIndex int, text string, vector []float32, meta domain.Metadata) {
	t.Helper()
	err := index.Upsert(context.Background(), domain.IndexEntry{
		ChunkID:    domain.ChunkID(docID, chunkIndex),
		DocumentID: docID,
		Revision:   1,
		ChunkIndex: chunkIndex,
		Text:       text,
		StartChar:  chunkIndex * 100,
		EndChar:    chunkIndex*100 + len(text),
		Vector:     vector,
		Metadata:   meta,
	})
	if err != nil {
		t.Fatalf("seed entry: %v", err)
	}
}

func newQueryFixture(index *indexFake, scorer *scorerFake, generator *generatorFake, observer *queryObserverFake) *QueryUseCase {
	embedder := &embedderFake{queryVec: []float32{1, 0, 0}}
	// A typed-nil *queryObserverFake would slip past the constructor's nil
	// guard as a non-nil interface; hand it a true nil instead.
	var obs QueryObserver
	if observer != nil {
		obs = observer
	}
	return NewQueryUseCase(embedder, newCacheFake(), index, scorer, generator, discardLogger(), obs, "api", QueryConfig{
		DefaultTopK:        5,
		RerankPool:         20,
		DedupOverlap:       0.5,
		ContextBudgetChars: 8000,
	})
}

func TestRetrieveOrdersBySimilarity(t *testing.T) {
	index := newIndexFake()
	metaA := domain.Metadata{Title: "Paper A", Authors: []string{"Ada"}, Year: 2020}
	metaB := domain.Metadata{Title: "Paper B", Authors: []string{"Bob"}, Year: 2022}
	seedEntry(t, index, "doc-a", 0, "closest", []float32{1, 0, 0}, metaA)
	seedEntry(t, index, "doc-a", 1, "middle", []float32{1, 1, 0}, metaA)
	seedEntry(t, index, "doc-b", 0, "farthest", []float32{0, 1, 0}, metaB)

	uc := newQueryFixture(index, &scorerFake{}, &generatorFake{}, nil)

	result, err := uc.Retrieve(context.Background(), domain.Query{Text: "question", K: 3})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if result.Reranked {
		t.Fatalf("Retrieve must not rerank")
	}
	if len(result.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(result.Chunks))
	}
	wantOrder := []string{"doc-a:0", "doc-a:1", "doc-b:0"}
	for i, want := range wantOrder {
		if result.Chunks[i].Entry.ChunkID != want {
			t.Fatalf("chunk %d = %s, want %s", i, result.Chunks[i].Entry.ChunkID, want)
		}
	}
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	uc := newQueryFixture(newIndexFake(), &scorerFake{}, &generatorFake{}, nil)
	if _, err := uc.Retrieve(context.Background(), domain.Query{Text: "   "}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRetrieveAppliesMetadataFilter(t *testing.T) {
	index := newIndexFake()
	seedEntry(t, index, "doc-a", 0, "old paper", []float32{1, 0, 0}, domain.Metadata{Title: "Old", Year: 2005})
	seedEntry(t, index, "doc-b", 0, "new paper", []float32{0.9, 0.1, 0}, domain.Metadata{Title: "New", Year: 2023})

	uc := newQueryFixture(index, &scorerFake{}, &generatorFake{}, nil)

	result, err := uc.Retrieve(context.Background(), domain.Query{
		Text:   "question",
		K:      5,
		Filter: domain.SearchFilter{YearFrom: 2020},
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(result.Chunks) != 1 || result.Chunks[0].Entry.DocumentID != "doc-b" {
		t.Fatalf("expected only doc-b to survive the filter, got %+v", result.Chunks)
	}
}

func TestQueryNoEvidence(t *testing.T) {
	generator := &generatorFake{text: "should not run"}
	uc := newQueryFixture(newIndexFake(), &scorerFake{}, generator, nil)

	answer, err := uc.Query(context.Background(), domain.Query{Text: "question", Generate: true})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !answer.NoEvidence {
		t.Fatalf("expected explicit no-evidence answer")
	}
	if answer.Text != "" || len(answer.Citations) != 0 {
		t.Fatalf("no-evidence answer must be empty, got %+v", answer)
	}
	if generator.calls != 0 {
		t.Fatalf("generator must not run without evidence")
	}
}

func TestQueryRerankReorders(t *testing.T) {
	index := newIndexFake()
	seedEntry(t, index, "doc-a", 0, "similar but shallow", []float32{1, 0, 0}, domain.Metadata{Title: "A"})
	seedEntry(t, index, "doc-b", 0, "deeply relevant", []float32{1, 1, 0}, domain.Metadata{Title: "B"})

	scorer := &scorerFake{scores: map[string]float64{
		"similar but shallow": 2,
		"deeply relevant":     9,
	}}
	uc := newQueryFixture(index, scorer, &generatorFake{}, nil)

	answer, err := uc.Query(context.Background(), domain.Query{Text: "question", K: 2, Rerank: true})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(answer.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(answer.Citations))
	}
	if answer.Citations[0].DocumentID != "doc-b" {
		t.Fatalf("expected reranked doc-b first, got %s", answer.Citations[0].DocumentID)
	}
	if answer.Citations[0].RerankScore == nil || *answer.Citations[0].RerankScore != 9 {
		t.Fatalf("expected rerank score 9 on top citation, got %v", answer.Citations[0].RerankScore)
	}
	if answer.Citations[0].Label != 1 || answer.Citations[1].Label != 2 {
		t.Fatalf("labels must be sequential from 1")
	}
}

func TestQueryRerankEqualScoresKeepSimilarityOrder(t *testing.T) {
	index := newIndexFake()
	// doc-z is the similarity winner; doc-a would win a lexical tie-break.
	seedEntry(t, index, "doc-z", 0, "closest passage", []float32{1, 0, 0}, domain.Metadata{Title: "Z"})
	seedEntry(t, index, "doc-a", 0, "farther passage", []float32{1, 1, 0}, domain.Metadata{Title: "A"})

	scorer := &scorerFake{scores: map[string]float64{
		"closest passage": 5,
		"farther passage": 5,
	}}
	uc := newQueryFixture(index, scorer, &generatorFake{}, nil)

	answer, err := uc.Query(context.Background(), domain.Query{Text: "question", K: 2, Rerank: true})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(answer.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(answer.Citations))
	}
	if answer.Citations[0].DocumentID != "doc-z" {
		t.Fatalf("equal rerank scores must keep similarity order: got %q first, want doc-z", answer.Citations[0].DocumentID)
	}
}

func TestQueryRerankFailureFallsBackToSimilarity(t *testing.T) {
	index := newIndexFake()
	seedEntry(t, index, "doc-a", 0, "closest", []float32{1, 0, 0}, domain.Metadata{Title: "A"})
	seedEntry(t, index, "doc-b", 0, "farther", []float32{1, 1, 0}, domain.Metadata{Title: "B"})

	scorer := &scorerFake{err: domain.WrapError(domain.ErrRerankUnavailable, "score", errors.New("model offline"))}
	observer := &queryObserverFake{}
	uc := newQueryFixture(index, scorer, &generatorFake{}, observer)

	answer, err := uc.Query(context.Background(), domain.Query{Text: "question", K: 2, Rerank: true})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(answer.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(answer.Citations))
	}
	if answer.Citations[0].DocumentID != "doc-a" {
		t.Fatalf("fallback must keep similarity order, got %s first", answer.Citations[0].DocumentID)
	}
	if answer.Citations[0].RerankScore != nil {
		t.Fatalf("fallback citations must not carry partial rerank scores")
	}
	if observer.fallbacks != 1 {
		t.Fatalf("expected one recorded fallback, got %d", observer.fallbacks)
	}
}

func TestQueryGenerationFailureDegrades(t *testing.T) {
	index := newIndexFake()
	seedEntry(t, index, "doc-a", 0, "evidence", []float32{1, 0, 0}, domain.Metadata{Title: "A"})

	generator := &generatorFake{err: domain.WrapError(domain.ErrGenerationTimeout, "generate", context.DeadlineExceeded)}
	uc := newQueryFixture(index, &scorerFake{}, generator, nil)

	answer, err := uc.Query(context.Background(), domain.Query{Text: "question", K: 1, Generate: true})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !answer.Degraded {
		t.Fatalf("expected degraded answer")
	}
	if answer.Text != "" {
		t.Fatalf("degraded answer must not carry generated text")
	}
	if len(answer.Citations) != 1 {
		t.Fatalf("degraded answer must keep citations, got %d", len(answer.Citations))
	}
}

func TestQueryWithoutGenerateReturnsCitationsOnly(t *testing.T) {
	index := newIndexFake()
	seedEntry(t, index, "doc-a", 0, "evidence", []float32{1, 0, 0}, domain.Metadata{Title: "A"})

	generator := &generatorFake{text: "should not run"}
	uc := newQueryFixture(index, &scorerFake{}, generator, nil)

	answer, err := uc.Query(context.Background(), domain.Query{Text: "question", K: 1})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if generator.calls != 0 {
		t.Fatalf("generator must not run when generation is not requested")
	}
	if len(answer.Citations) != 1 || answer.Text != "" {
		t.Fatalf("expected citations-only answer, got %+v", answer)
	}
}

func TestQueryDeterministicOnEqualSimilarity(t *testing.T) {
	index := newIndexFake()
	// Identical vectors: similarity ties everywhere, chunk id breaks them.
	for _, docID := range []string{"doc-c", "doc-a", "doc-b"} {
		seedEntry(t, index, docID, 0, "passage "+docID, []float32{1, 0, 0}, domain.Metadata{Title: docID})
	}
	uc := newQueryFixture(index, &scorerFake{}, &generatorFake{}, nil)

	var first []string
	for run := 0; run < 5; run++ {
		answer, err := uc.Query(context.Background(), domain.Query{Text: "question", K: 3})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		order := make([]string, len(answer.Citations))
		for i, citation := range answer.Citations {
			order[i] = citation.ChunkID
		}
		if run == 0 {
			first = order
			continue
		}
		for i := range order {
			if order[i] != first[i] {
				t.Fatalf("run %d order %v differs from first %v", run, order, first)
			}
		}
	}
	if first[0] != "doc-a:0" || first[1] != "doc-b:0" || first[2] != "doc-c:0" {
		t.Fatalf("expected chunk id tie-break order, got %v", first)
	}
}

func TestRemoveDocumentExcludesItFromAnswers(t *testing.T) {
	index := newIndexFake()
	store := newStoreFake()
	metaA := domain.Metadata{Title: "Paper A"}
	metaB := domain.Metadata{Title: "Paper B"}
	for i, text := range []string{"a zero", "a one", "a two"} {
		seedEntry(t, index, "doc-a", i, text, []float32{1, float32(i), 0}, metaA)
	}
	for i, text := range []string{"b zero", "b one"} {
		seedEntry(t, index, "doc-b", i, text, []float32{0, 1, float32(i)}, metaB)
	}
	seedDocument(t, store, "doc-a", 1, "a", domain.StatusIndexed, "job-a")
	seedDocument(t, store, "doc-b", 1, "b", domain.StatusIndexed, "job-b")

	queue := &queueFake{}
	queryUC := newQueryFixture(index, &scorerFake{}, &generatorFake{}, nil)
	corpusUC := NewCorpusUseCase(store, index, queue, discardLogger())

	before, err := queryUC.Query(context.Background(), domain.Query{Text: "question", K: 5})
	if err != nil {
		t.Fatalf("Query() before removal error = %v", err)
	}
	foundB := false
	for _, citation := range before.Citations {
		if citation.DocumentID == "doc-b" {
			foundB = true
		}
	}
	if !foundB {
		t.Fatalf("expected doc-b citations before removal")
	}

	if err := corpusUC.Remove(context.Background(), "doc-b"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	after, err := queryUC.Query(context.Background(), domain.Query{Text: "question", K: 5})
	if err != nil {
		t.Fatalf("Query() after removal error = %v", err)
	}
	for _, citation := range after.Citations {
		if citation.DocumentID == "doc-b" {
			t.Fatalf("removed document still cited: %s", citation.ChunkID)
		}
	}
	if _, err := store.GetLatest(context.Background(), "doc-b"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected registry rows gone, got %v", err)
	}
	if len(queue.removed) != 1 || queue.removed[0] != "doc-b" {
		t.Fatalf("removal must be published for the index owner, got %v", queue.removed)
	}
}

func TestRemoveUnknownDocument(t *testing.T) {
	queue := &queueFake{}
	corpusUC := NewCorpusUseCase(newStoreFake(), newIndexFake(), queue, discardLogger())
	if err := corpusUC.Remove(context.Background(), "ghost"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(queue.removed) != 0 {
		t.Fatalf("unknown document must not publish a removal event")
	}
}
