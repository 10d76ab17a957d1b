package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/atlas-research/scirag/internal/domain"
)

// ChunkRepo implements chunk persistence and vector search.
type ChunkRepo struct {
	c *Client
}

// NewChunkRepo creates a chunk repository.
func NewChunkRepo(c *Client) *ChunkRepo {
	return &ChunkRepo{c: c}
}

// Replace atomically swaps a paper's chunks inside tx. Re-chunking a paper
// must never leave stale rows behind, so the old set is deleted first.
func (r *ChunkRepo) Replace(ctx context.Context, tx *sql.Tx, paperID string, chunks []domain.Chunk) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE paper_id = $1`, paperID); err != nil {
		return fmt.Errorf("delete chunks for paper %s: %w", paperID, err)
	}

	now := time.Now().UTC()
	for i := range chunks {
		ch := &chunks[i]
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		ch.PaperID = paperID
		ch.CreatedAt = now
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, paper_id, seq_index, text, token_count, overlap_tokens, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ch.ID, paperID, ch.SequenceIndex, ch.Text, ch.TokenCount, ch.OverlapTokens, now)
		if err != nil {
			return fmt.Errorf("insert chunk %d for paper %s: %w", ch.SequenceIndex, paperID, err)
		}
	}
	return nil
}

// ListPending returns up to limit chunks of a job that still need a vector.
func (r *ChunkRepo) ListPending(ctx context.Context, jobID string, limit int) ([]domain.Chunk, error) {
	rows, err := r.c.DB.QueryContext(ctx,
		`SELECT c.id, c.paper_id, c.seq_index, c.text, c.token_count, c.overlap_tokens, c.created_at
		 FROM chunks c
		 JOIN papers p ON p.id = c.paper_id
		 WHERE p.ingest_job_id = $1 AND c.embedding IS NULL AND NOT c.embed_failed
		 ORDER BY c.paper_id, c.seq_index
		 LIMIT $2`,
		jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending chunks for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var ch domain.Chunk
		if err := rows.Scan(&ch.ID, &ch.PaperID, &ch.SequenceIndex, &ch.Text,
			&ch.TokenCount, &ch.OverlapTokens, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending chunk: %w", err)
		}
		chunks = append(chunks, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending chunks: %w", err)
	}
	return chunks, nil
}

// SetEmbeddings persists vectors for the given chunk IDs in one transaction.
// ids and vectors are parallel slices.
func (r *ChunkRepo) SetEmbeddings(ctx context.Context, model string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids/vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	return r.c.InTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for i, id := range ids {
			_, err := tx.ExecContext(ctx,
				`UPDATE chunks
				 SET embedding = $2::vector, embedding_model = $3, embedded_at = $4, embed_failed = FALSE
				 WHERE id = $1`,
				id, formatVector(vectors[i]), model, now)
			if err != nil {
				return fmt.Errorf("set embedding for chunk %s: %w", id, err)
			}
		}
		return nil
	})
}

// MarkFailed flags chunks whose embedding was given up on after retries.
// Failed chunks stay out of retrieval but keep their text.
func (r *ChunkRepo) MarkFailed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.c.DB.ExecContext(ctx,
		`UPDATE chunks SET embed_failed = TRUE WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark chunks failed: %w", err)
	}
	return nil
}

// SearchNearest returns the k chunks closest to the query vector by cosine
// distance, each joined with its paper. Chunks without a vector never match.
func (r *ChunkRepo) SearchNearest(ctx context.Context, vector []float32, k int) ([]domain.RankedChunk, error) {
	rows, err := r.c.DB.QueryContext(ctx,
		`SELECT c.id, c.paper_id, c.seq_index, c.text, c.token_count,
		        1 - (c.embedding <=> $1::vector) AS score,
		        `+selectPaperColumnsPrefixed+`
		 FROM chunks c
		 JOIN papers p ON p.id = c.paper_id
		 WHERE c.embedding IS NOT NULL
		 ORDER BY c.embedding <=> $1::vector
		 LIMIT $2`,
		formatVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("nearest chunk search: %w", err)
	}
	defer rows.Close()

	var ranked []domain.RankedChunk
	for rows.Next() {
		var (
			rc          domain.RankedChunk
			authors     pq.StringArray
			origin      string
			externalIDs []byte
		)
		err := rows.Scan(
			&rc.Chunk.ID, &rc.Chunk.PaperID, &rc.Chunk.SequenceIndex,
			&rc.Chunk.Text, &rc.Chunk.TokenCount, &rc.Score,
			&rc.Paper.ID, &rc.Paper.DOI, &rc.Paper.Title, &rc.Paper.TitleKey,
			&authors, &rc.Paper.Year, &rc.Paper.Venue, &rc.Paper.Abstract,
			&rc.Paper.CitationCount, &origin, &externalIDs,
			&rc.Paper.IngestJobID, &rc.Paper.PDFURL, &rc.Paper.LandingURL,
			&rc.Paper.CreatedAt, &rc.Paper.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ranked chunk: %w", err)
		}
		rc.Paper.Authors = authors
		rc.Paper.SourceOrigin = domain.Source(origin)
		if len(externalIDs) > 0 {
			if err := json.Unmarshal(externalIDs, &rc.Paper.ExternalIDs); err != nil {
				return nil, fmt.Errorf("unmarshal external ids: %w", err)
			}
		}
		ranked = append(ranked, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranked chunks: %w", err)
	}
	return ranked, nil
}

const selectPaperColumnsPrefixed = `
	p.id, COALESCE(p.doi, ''), p.title, p.title_key, p.authors, COALESCE(p.year, 0),
	p.venue, p.abstract, p.citation_count, p.source_origin, p.external_ids,
	COALESCE(p.ingest_job_id::text, ''), p.pdf_url, p.landing_url, p.created_at, p.updated_at`
