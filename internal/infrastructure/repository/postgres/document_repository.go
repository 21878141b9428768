package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/antonvlasov/corpus-qa/internal/core/domain"
)

// DocumentRepository is the corpus registry: one row per (document,
// revision), carrying the content hash used for corpus diffing and the
// clean text the worker chunks.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT NOT NULL,
	revision BIGINT NOT NULL,
	source_uri TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	authors JSONB NOT NULL DEFAULT '[]'::jsonb,
	pub_year INT NOT NULL DEFAULT 0,
	identifier TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	content TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	job_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (id, revision)
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const documentColumns = `id, revision, source_uri, title, authors, pub_year, identifier, link, content_hash, content, status, error_message, job_id, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	authorsJSON, err := json.Marshal(doc.Metadata.Authors)
	if err != nil {
		return fmt.Errorf("marshal authors: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		doc.ID, doc.Revision, doc.SourceURI, doc.Metadata.Title, authorsJSON, doc.Metadata.Year,
		doc.Metadata.Identifier, doc.Metadata.Link, doc.ContentHash, doc.Text,
		string(doc.Status), doc.Error, doc.JobID, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document revision: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetLatest(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
ORDER BY revision DESC
LIMIT 1
`, id)
	return scanDocument(row, id)
}

func (r *DocumentRepository) GetRevision(ctx context.Context, id string, revision int64) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1 AND revision = $2
`, id, revision)
	return scanDocument(row, id)
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, revision int64, status domain.IngestStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $3, error_message = $4, updated_at = $5
WHERE id = $1 AND revision = $2
`, id, revision, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document status rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document status", fmt.Errorf("id=%s revision=%d", id, revision))
	}
	return nil
}

// MarkSuperseded retires every indexed revision older than keepRevision.
func (r *DocumentRepository) MarkSuperseded(ctx context.Context, id string, keepRevision int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $3, updated_at = $4
WHERE id = $1 AND revision < $2 AND status = $5
`, id, keepRevision, string(domain.StatusSuperseded), time.Now().UTC(), string(domain.StatusIndexed))
	if err != nil {
		return fmt.Errorf("mark superseded: %w", err)
	}
	return nil
}

func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "delete document", errors.New(id))
	}
	return nil
}

func scanDocument(row *sql.Row, id string) (*domain.Document, error) {
	var doc domain.Document
	var authorsRaw []byte
	var status string

	err := row.Scan(
		&doc.ID, &doc.Revision, &doc.SourceURI, &doc.Metadata.Title, &authorsRaw, &doc.Metadata.Year,
		&doc.Metadata.Identifier, &doc.Metadata.Link, &doc.ContentHash, &doc.Text,
		&status, &doc.Error, &doc.JobID, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "fetch document", errors.New(id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	if len(authorsRaw) > 0 {
		if err := json.Unmarshal(authorsRaw, &doc.Metadata.Authors); err != nil {
			return nil, fmt.Errorf("unmarshal authors: %w", err)
		}
	}
	doc.Status = domain.IngestStatus(status)
	return &doc, nil
}
