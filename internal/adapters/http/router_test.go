package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
)

type ingestorFake struct {
	jobID string
	err   error
	got   domain.SourceDocument
}

func (f *ingestorFake) Ingest(_ context.Context, doc domain.SourceDocument) (string, error) {
	f.got = doc
	if f.err != nil {
		return "", f.err
	}
	return f.jobID, nil
}

type readerFake struct {
	doc *domain.Document
	err error
}

func (f *readerFake) GetLatest(context.Context, string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

type corpusFake struct {
	removed []string
	err     error
}

func (f *corpusFake) Remove(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, documentID)
	return nil
}

type queryServiceFake struct {
	result *domain.RetrievalResult
	answer *domain.Answer
	err    error
}

func (f *queryServiceFake) Retrieve(context.Context, domain.Query) (*domain.RetrievalResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *queryServiceFake) Query(context.Context, domain.Query) (*domain.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func newTestRouter(ingestor *ingestorFake, reader *readerFake, corpus *corpusFake, queries *queryServiceFake, cfg RouterConfig) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(ingestor, reader, corpus, queries, logger, cfg).Handler()
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(&ingestorFake{}, &readerFake{}, &corpusFake{}, &queryServiceFake{}, RouterConfig{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header on every response")
	}
}

func TestSubmitDocumentAccepted(t *testing.T) {
	ingestor := &ingestorFake{jobID: "job-42"}
	handler := newTestRouter(ingestor, &readerFake{}, &corpusFake{}, &queryServiceFake{}, RouterConfig{})

	body := `{"id":"doc-a","source_uri":"s3://papers/a.pdf","text":"clean text","metadata":{"title":"Paper A","year":2021}}`
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader(body)))

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["job_id"] != "job-42" || resp["document_id"] != "doc-a" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if ingestor.got.Metadata.Title != "Paper A" {
		t.Fatalf("metadata not passed through, got %+v", ingestor.got.Metadata)
	}
}

func TestSubmitDocumentInvalidJSON(t *testing.T) {
	handler := newTestRouter(&ingestorFake{}, &readerFake{}, &corpusFake{}, &queryServiceFake{}, RouterConfig{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("{not json")))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestSubmitDocumentMapsInvalidInput(t *testing.T) {
	ingestor := &ingestorFake{err: domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("document text is required"))}
	handler := newTestRouter(ingestor, &readerFake{}, &corpusFake{}, &queryServiceFake{}, RouterConfig{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader(`{"id":"doc-a"}`)))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetDocumentByID(t *testing.T) {
	reader := &readerFake{doc: &domain.Document{ID: "doc-a", Revision: 2, Status: domain.StatusIndexed}}
	handler := newTestRouter(&ingestorFake{}, reader, &corpusFake{}, &queryServiceFake{}, RouterConfig{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents/doc-a", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var doc domain.Document
	if err := json.Unmarshal(res.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.Revision != 2 || doc.Status != domain.StatusIndexed {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	reader := &readerFake{err: domain.WrapError(domain.ErrDocumentNotFound, "get latest", errors.New("ghost"))}
	handler := newTestRouter(&ingestorFake{}, reader, &corpusFake{}, &queryServiceFake{}, RouterConfig{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/documents/ghost", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	corpus := &corpusFake{}
	handler := newTestRouter(&ingestorFake{}, &readerFake{}, corpus, &queryServiceFake{}, RouterConfig{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodDelete, "/v1/documents/doc-b", nil))
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(corpus.removed) != 1 || corpus.removed[0] != "doc-b" {
		t.Fatalf("expected doc-b removal, got %v", corpus.removed)
	}
}

func TestQueryEndpoint(t *testing.T) {
	queries := &queryServiceFake{answer: &domain.Answer{
		Text: "grounded answer [1]",
		Citations: []domain.Citation{
			{Label: 1, ChunkID: "doc-a:0", DocumentID: "doc-a", Text: "evidence"},
		},
	}}
	handler := newTestRouter(&ingestorFake{}, &readerFake{}, &corpusFake{}, queries, RouterConfig{})

	body := `{"text":"what is attention?","k":3,"rerank":true,"generate":true}`
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body)))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var answer domain.Answer
	if err := json.Unmarshal(res.Body.Bytes(), &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if len(answer.Citations) != 1 || answer.Citations[0].Label != 1 {
		t.Fatalf("unexpected answer: %+v", answer)
	}
}

func TestQueryRequiresText(t *testing.T) {
	handler := newTestRouter(&ingestorFake{}, &readerFake{}, &corpusFake{}, &queryServiceFake{}, RouterConfig{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"text":"  "}`)))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestQueryMapsEmbeddingOutage(t *testing.T) {
	queries := &queryServiceFake{err: domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query", errors.New("backend down"))}
	handler := newTestRouter(&ingestorFake{}, &readerFake{}, &corpusFake{}, queries, RouterConfig{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"text":"q"}`)))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestRetrieveEndpoint(t *testing.T) {
	queries := &queryServiceFake{result: &domain.RetrievalResult{
		Query: "q",
		Chunks: []domain.ScoredChunk{
			{Entry: domain.IndexEntry{ChunkID: "doc-a:0"}, Similarity: 0.93},
		},
	}}
	handler := newTestRouter(&ingestorFake{}, &readerFake{}, &corpusFake{}, queries, RouterConfig{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(`{"text":"q"}`)))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var result domain.RetrievalResult
	if err := json.Unmarshal(res.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Chunks) != 1 || result.Chunks[0].Entry.ChunkID != "doc-a:0" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
