package domain

import "strings"

// SearchFilter narrows candidates by provenance metadata. Filtering happens
// against candidate metadata after nearest-neighbor search; the index is not
// required to support predicate indexing.
type SearchFilter struct {
	Title       string   `json:"title,omitempty"`
	Author      string   `json:"author,omitempty"`
	YearFrom    int      `json:"year_from,omitempty"`
	YearTo      int      `json:"year_to,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

func (f SearchFilter) IsZero() bool {
	return f.Title == "" && f.Author == "" && f.YearFrom == 0 && f.YearTo == 0 && len(f.DocumentIDs) == 0
}

func (f SearchFilter) Matches(documentID string, m Metadata) bool {
	if f.Title != "" && !strings.Contains(strings.ToLower(m.Title), strings.ToLower(f.Title)) {
		return false
	}
	if f.Author != "" {
		found := false
		for _, a := range m.Authors {
			if strings.Contains(strings.ToLower(a), strings.ToLower(f.Author)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.YearFrom != 0 && m.Year < f.YearFrom {
		return false
	}
	if f.YearTo != 0 && m.Year > f.YearTo {
		return false
	}
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if id == documentID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Query is a single retrieval request.
type Query struct {
	Text     string       `json:"text"`
	K        int          `json:"k"`
	Filter   SearchFilter `json:"filter"`
	Rerank   bool         `json:"rerank"`
	Generate bool         `json:"generate"`
}

// IndexEntry is the unit stored in the vector index. It carries everything a
// citation needs so queries never touch the registry.
type IndexEntry struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Revision   int64     `json:"revision"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	StartChar  int       `json:"start_char"`
	EndChar    int       `json:"end_char"`
	Vector     []float32 `json:"vector"`
	Metadata   Metadata  `json:"metadata"`
}

// ScoredChunk is one retrieval candidate. RerankScore is nil until (unless)
// the rerank stage scored it.
type ScoredChunk struct {
	Entry       IndexEntry `json:"entry"`
	Similarity  float64    `json:"similarity"`
	RerankScore *float64   `json:"rerank_score,omitempty"`
}

// RetrievalResult is produced per query and never persisted.
type RetrievalResult struct {
	Query    string        `json:"query"`
	Chunks   []ScoredChunk `json:"chunks"`
	Reranked bool          `json:"reranked"`
}

// Citation is one unit of evidence attached to an answer.
type Citation struct {
	Label       int      `json:"label"`
	ChunkID     string   `json:"chunk_id"`
	DocumentID  string   `json:"document_id"`
	Text        string   `json:"text"`
	Metadata    Metadata `json:"metadata"`
	StartChar   int      `json:"start_char"`
	EndChar     int      `json:"end_char"`
	Similarity  float64  `json:"similarity"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// Answer is the end-to-end query result. Degraded is set when generation
// failed or timed out but citations were still retrieved. NoEvidence is the
// explicit empty-result signal: no citations, no fabricated answer.
type Answer struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	Degraded   bool       `json:"degraded,omitempty"`
	NoEvidence bool       `json:"no_evidence,omitempty"`
}
