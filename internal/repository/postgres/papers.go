package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/atlas-research/scirag/internal/domain"
)

// PaperRepo implements paper persistence.
type PaperRepo struct {
	c *Client
}

// NewPaperRepo creates a paper repository.
func NewPaperRepo(c *Client) *PaperRepo {
	return &PaperRepo{c: c}
}

const upsertPaperSQL = `
INSERT INTO papers (
	id, doi, title, title_key, authors, year, venue, abstract,
	citation_count, source_origin, external_ids, ingest_job_id,
	pdf_url, landing_url, created_at, updated_at
) VALUES (
	$1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13, $14, $15, $15
)
ON CONFLICT (doi) WHERE doi IS NOT NULL DO UPDATE SET
	external_ids   = papers.external_ids || EXCLUDED.external_ids,
	citation_count = GREATEST(papers.citation_count, EXCLUDED.citation_count),
	updated_at     = EXCLUDED.updated_at
RETURNING id, (xmax = 0) AS inserted`

// Upsert stores a paper inside tx, keyed by DOI when present. On DOI
// conflict the existing row wins and only external IDs and the citation
// count are refreshed. Sets p.ID and returns whether a new row was created.
func (r *PaperRepo) Upsert(ctx context.Context, tx *sql.Tx, p *domain.Paper) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	externalIDs, err := json.Marshal(p.ExternalIDs)
	if err != nil {
		return false, fmt.Errorf("marshal external ids: %w", err)
	}

	now := time.Now().UTC()
	var inserted bool
	err = tx.QueryRowContext(ctx, upsertPaperSQL,
		p.ID, p.DOI, p.Title, p.TitleKey, pq.Array(p.Authors),
		nullInt(p.Year), p.Venue, p.Abstract,
		p.CitationCount, string(p.SourceOrigin), externalIDs, p.IngestJobID,
		p.PDFURL, p.LandingURL, now,
	).Scan(&p.ID, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert paper %q: %w", p.Title, err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return inserted, nil
}

const refreshPaperSQL = `
UPDATE papers SET
	doi            = COALESCE(doi, NULLIF($2, '')),
	abstract       = CASE WHEN abstract = '' THEN $3 ELSE abstract END,
	citation_count = GREATEST(citation_count, $4),
	external_ids   = external_ids || $5,
	year           = COALESCE(year, $6),
	venue          = CASE WHEN venue = '' THEN $7 ELSE venue END,
	pdf_url        = CASE WHEN pdf_url = '' THEN $8 ELSE pdf_url END,
	landing_url    = CASE WHEN landing_url = '' THEN $9 ELSE landing_url END,
	updated_at     = $10
WHERE id = $1`

// Refresh merges dedup enrichment into an existing row inside tx. The
// merge direction mirrors the in-memory index: first-seen values win,
// missing fields are filled in, and the citation count only ever grows.
func (r *PaperRepo) Refresh(ctx context.Context, tx *sql.Tx, p *domain.Paper) error {
	externalIDs, err := json.Marshal(p.ExternalIDs)
	if err != nil {
		return fmt.Errorf("marshal external ids: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, refreshPaperSQL,
		p.ID, p.DOI, p.Abstract, p.CitationCount, externalIDs,
		nullInt(p.Year), p.Venue, p.PDFURL, p.LandingURL, now)
	if err != nil {
		return fmt.Errorf("refresh paper %q: %w", p.Title, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("refresh paper %q: rows affected: %w", p.Title, err)
	}
	if n == 0 {
		return domain.ErrPaperNotFound
	}
	p.UpdatedAt = now
	return nil
}

const selectPaperColumns = `
	id, COALESCE(doi, ''), title, title_key, authors, COALESCE(year, 0),
	venue, abstract, citation_count, source_origin, external_ids,
	COALESCE(ingest_job_id::text, ''), pdf_url, landing_url, created_at, updated_at`

// ListByJob returns one page of papers stored by a job, newest-ranked
// first (by citation count, then recency), plus the total count.
func (r *PaperRepo) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]domain.Paper, int, error) {
	var total int
	err := r.c.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM papers WHERE ingest_job_id = $1`, jobID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count papers for job %s: %w", jobID, err)
	}

	rows, err := r.c.DB.QueryContext(ctx,
		`SELECT `+selectPaperColumns+`
		 FROM papers
		 WHERE ingest_job_id = $1
		 ORDER BY citation_count DESC, created_at DESC
		 LIMIT $2 OFFSET $3`,
		jobID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list papers for job %s: %w", jobID, err)
	}
	defer rows.Close()

	papers := make([]domain.Paper, 0, limit)
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, 0, err
		}
		papers = append(papers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate papers: %w", err)
	}
	return papers, total, nil
}

// Get returns one paper by ID.
func (r *PaperRepo) Get(ctx context.Context, id string) (domain.Paper, error) {
	row := r.c.DB.QueryRowContext(ctx,
		`SELECT `+selectPaperColumns+` FROM papers WHERE id = $1`, id)
	p, err := scanPaper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Paper{}, domain.ErrPaperNotFound
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (domain.Paper, error) {
	var (
		p           domain.Paper
		authors     pq.StringArray
		origin      string
		externalIDs []byte
	)
	err := row.Scan(
		&p.ID, &p.DOI, &p.Title, &p.TitleKey, &authors, &p.Year,
		&p.Venue, &p.Abstract, &p.CitationCount, &origin, &externalIDs,
		&p.IngestJobID, &p.PDFURL, &p.LandingURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Paper{}, err
		}
		return domain.Paper{}, fmt.Errorf("scan paper: %w", err)
	}
	p.Authors = authors
	p.SourceOrigin = domain.Source(origin)
	if len(externalIDs) > 0 {
		if err := json.Unmarshal(externalIDs, &p.ExternalIDs); err != nil {
			return domain.Paper{}, fmt.Errorf("unmarshal external ids: %w", err)
		}
	}
	return p, nil
}

// nullInt maps the zero value to SQL NULL.
func nullInt(v int) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}
