package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type IngestStatus string

const (
	StatusPending    IngestStatus = "pending"
	StatusChunking   IngestStatus = "chunking"
	StatusEmbedding  IngestStatus = "embedding"
	StatusIndexed    IngestStatus = "indexed"
	StatusSuperseded IngestStatus = "superseded"
	StatusFailed     IngestStatus = "failed"
)

// Metadata is the provenance snapshot carried from the source through the
// index into citations.
type Metadata struct {
	Title      string   `json:"title,omitempty"`
	Authors    []string `json:"authors,omitempty"`
	Year       int      `json:"year,omitempty"`
	Identifier string   `json:"identifier,omitempty"`
	Link       string   `json:"link,omitempty"`
}

// SourceDocument is what the acquisition collaborator hands this core:
// already-clean text plus provenance. No file parsing happens here.
type SourceDocument struct {
	ID          string   `json:"id"`
	SourceURI   string   `json:"source_uri"`
	Text        string   `json:"text"`
	Metadata    Metadata `json:"metadata"`
	ContentHash string   `json:"content_hash,omitempty"`
}

// Document is a registry row: one per (logical document, revision). A
// re-ingested document with changed content gets a new row with a bumped
// revision; the old row is marked superseded once the new one is indexed.
type Document struct {
	ID          string       `json:"id"`
	Revision    int64        `json:"revision"`
	SourceURI   string       `json:"source_uri"`
	Metadata    Metadata     `json:"metadata"`
	ContentHash string       `json:"content_hash"`
	Text        string       `json:"-"`
	Status      IngestStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	JobID       string       `json:"job_id"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Chunk is a contiguous passage of one document. IDs are derived from
// (documentID, index) so re-chunking unchanged text reproduces them.
type Chunk struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Index       int    `json:"index"`
	Text        string `json:"text"`
	StartChar   int    `json:"start_char"`
	EndChar     int    `json:"end_char"`
	ContentHash string `json:"content_hash"`
}

func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s:%d", documentID, index)
}

// HashText is the content fingerprint used both for corpus diffing and as
// the embedding cache key.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

type DocumentEventAction string

const (
	DocumentIngested DocumentEventAction = "ingested"
	DocumentRemoved  DocumentEventAction = "removed"
)

// DocumentEvent is the queue payload between the api and the worker: which
// document changed and how. Everything else lives in the registry and the
// index.
type DocumentEvent struct {
	Action     DocumentEventAction `json:"action"`
	DocumentID string              `json:"document_id"`
}
