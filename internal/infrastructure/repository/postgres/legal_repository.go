package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

// LegalDocumentRepository stores the corpus and serves the lexical strategy
// through Italian full-text search.
type LegalDocumentRepository struct {
	db *sql.DB
}

func NewLegalDocumentRepository(db *sql.DB) *LegalDocumentRepository {
	return &LegalDocumentRepository{db: db}
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

func (r *LegalDocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker and cli startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2025031301)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS legal_documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	source_type TEXT NOT NULL DEFAULT '',
	source_name TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	url TEXT,
	reference_code TEXT,
	source_entity TEXT,
	search_vector TSVECTOR GENERATED ALWAYS AS (
		setweight(to_tsvector('italian', coalesce(title, '')), 'A') ||
		setweight(to_tsvector('italian', coalesce(reference_code, '')), 'A') ||
		setweight(to_tsvector('italian', content), 'B')
	) STORED,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_legal_documents_search ON legal_documents USING GIN (search_vector);
CREATE INDEX IF NOT EXISTS idx_legal_documents_published_at ON legal_documents(published_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Index upserts documents in a single transaction.
func (r *LegalDocumentRepository) Index(ctx context.Context, docs []domain.LegalDocument) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO legal_documents (
	id, title, content, source_type, source_name, published_at, url, reference_code, source_entity, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	source_type = EXCLUDED.source_type,
	source_name = EXCLUDED.source_name,
	published_at = EXCLUDED.published_at,
	url = EXCLUDED.url,
	reference_code = EXCLUDED.reference_code,
	source_entity = EXCLUDED.source_entity,
	updated_at = EXCLUDED.updated_at
`,
			doc.ID, doc.Title, doc.Content, doc.SourceType, doc.SourceName, nullTime(doc.PublishedAt),
			nullString(doc.URL), nullString(doc.ReferenceCode), nullString(doc.SourceEntity), time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index tx: %w", err)
	}
	return nil
}

// Search ranks documents with ts_rank_cd over the union of the lexical
// variant and the entity variant.
func (r *LegalDocumentRepository) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchHit, error) {
	query := strings.TrimSpace(req.Query)
	entity := strings.TrimSpace(req.EntityQuery)
	if query == "" && entity == "" {
		return []domain.SearchHit{}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 30
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, title, content, source_type, source_name, published_at, url, reference_code, source_entity,
	ts_rank_cd(search_vector, q) AS score
FROM legal_documents,
	(SELECT websearch_to_tsquery('italian', $1) || websearch_to_tsquery('italian', $2) AS q) AS query
WHERE search_vector @@ q
ORDER BY score DESC, id ASC
LIMIT $3
`, query, entity, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "lexical search", err)
	}
	defer rows.Close()

	hits := make([]domain.SearchHit, 0, limit)
	for rows.Next() {
		var (
			doc                              domain.LegalDocument
			published                        sql.NullTime
			url, referenceCode, sourceEntity sql.NullString
			score                            float64
		)
		if err := rows.Scan(
			&doc.ID, &doc.Title, &doc.Content, &doc.SourceType, &doc.SourceName, &published,
			&url, &referenceCode, &sourceEntity, &score,
		); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		if published.Valid {
			t := published.Time
			doc.PublishedAt = &t
		}
		doc.URL = url.String
		doc.ReferenceCode = referenceCode.String
		doc.SourceEntity = sourceEntity.String
		hits = append(hits, doc.Hit(score))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lexical hits: %w", err)
	}
	return hits, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
