package store

import (
	"context"
	"database/sql"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"guidechat/types"
)

// DocumentStorer is the local document catalog: a read-mostly mirror of the
// guideline records the ingestion side seeds. It backs the selection UI
// when no upstream backend is configured.
type DocumentStorer interface {
	FetchDocuments(ctx context.Context, ids []uuid.UUID) ([]types.Document, error)
	GetDocumentByID(ctx context.Context, id uuid.UUID) (*types.Document, error)
	SaveDocument(ctx context.Context, doc types.Document) error
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool: pool,
	}, nil
}

const documentColumns = `id, url, title, issuing_organization, publication_date, version,
	condition, specialty, guideline_type, evidence_grading_system,
	recommendation_count, guideline_id, created_at, updated_at`

// FetchDocuments returns the catalog, optionally narrowed to explicit ids.
func (p *PostgresStore) FetchDocuments(ctx context.Context, ids []uuid.UUID) ([]types.Document, error) {
	query := "SELECT " + documentColumns + " FROM documents"
	args := []interface{}{}
	if len(ids) > 0 {
		query += " WHERE id = ANY($1)"
		args = append(args, ids)
	}
	query += " ORDER BY created_at"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (p *PostgresStore) GetDocumentByID(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	rows, err := p.pool.Query(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, sql.ErrNoRows
	}
	doc, err := scanDocument(rows)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveDocument upserts a catalog record; used by seeding, never by the
// conversation flow.
func (p *PostgresStore) SaveDocument(ctx context.Context, doc types.Document) error {
	query := `INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			issuing_organization = EXCLUDED.issuing_organization,
			publication_date = EXCLUDED.publication_date,
			version = EXCLUDED.version,
			condition = EXCLUDED.condition,
			specialty = EXCLUDED.specialty,
			guideline_type = EXCLUDED.guideline_type,
			evidence_grading_system = EXCLUDED.evidence_grading_system,
			recommendation_count = EXCLUDED.recommendation_count,
			guideline_id = EXCLUDED.guideline_id,
			updated_at = EXCLUDED.updated_at
			`
	meta := doc.Metadata
	if meta == nil {
		meta = &types.GuidelineMetadata{}
	}
	_, err := p.pool.Exec(
		ctx,
		query,
		doc.ID,
		doc.URL,
		meta.Title,
		meta.IssuingOrganization,
		meta.PublicationDate,
		meta.Version,
		meta.Condition,
		meta.Specialty,
		meta.GuidelineType,
		meta.EvidenceGradingSystem,
		meta.RecommendationCount,
		meta.GuidelineID,
		doc.CreatedAt,
		doc.UpdatedAt,
	)

	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (types.Document, error) {
	var (
		doc  types.Document
		meta types.GuidelineMetadata
	)
	err := row.Scan(
		&doc.ID,
		&doc.URL,
		&meta.Title,
		&meta.IssuingOrganization,
		&meta.PublicationDate,
		&meta.Version,
		&meta.Condition,
		&meta.Specialty,
		&meta.GuidelineType,
		&meta.EvidenceGradingSystem,
		&meta.RecommendationCount,
		&meta.GuidelineID,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return types.Document{}, err
	}
	doc.Metadata = &meta
	return doc, nil
}

func (p *PostgresStore) createCatalogTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		url TEXT NOT NULL,
		title TEXT NOT NULL,
		issuing_organization TEXT,
		publication_date TIMESTAMP WITH TIME ZONE,
		version TEXT,
		condition TEXT,
		specialty TEXT,
		guideline_type TEXT,
		evidence_grading_system TEXT,
		recommendation_count INTEGER DEFAULT 0,
		guideline_id TEXT,
		created_at TIMESTAMP WITH TIME ZONE,
		updated_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_documents_condition ON documents(condition);
	CREATE INDEX IF NOT EXISTS idx_documents_guideline_id ON documents(guideline_id);
    `
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createCatalogTables(ctx)
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		log.Println("Postgres connection pool is closed")
	}
	return nil
}
