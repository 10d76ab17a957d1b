package postgres

import (
	"context"
	"database/sql"

	"github.com/atlas-research/scirag/internal/domain"
)

// IngestStore bundles the paper and chunk writes the pipeline performs
// per accepted paper, keeping each paper-plus-chunks write atomic.
type IngestStore struct {
	c      *Client
	papers *PaperRepo
	chunks *ChunkRepo
}

// NewIngestStore creates the combined store.
func NewIngestStore(c *Client, papers *PaperRepo, chunks *ChunkRepo) *IngestStore {
	return &IngestStore{c: c, papers: papers, chunks: chunks}
}

// StorePaperWithChunks upserts a paper and swaps in its chunks in one
// transaction. A partial write would leave a paper whose chunks never
// reach retrieval, so both land or neither does. Returns whether the
// paper row was newly created (false on a cross-job DOI conflict).
func (s *IngestStore) StorePaperWithChunks(ctx context.Context, paper *domain.Paper, chunks []domain.Chunk) (bool, error) {
	var inserted bool
	err := s.c.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = s.papers.Upsert(ctx, tx, paper)
		if err != nil {
			return err
		}
		if !inserted {
			// The work already exists from a previous job; keep its
			// chunks and vectors instead of re-embedding.
			return nil
		}
		return s.chunks.Replace(ctx, tx, paper.ID, chunks)
	})
	return inserted, err
}

// RefreshPaper pushes dedup enrichment to an already-stored paper row.
// A non-empty chunk set replaces the paper's chunks, for the case where a
// duplicate supplied the abstract the stored row was missing.
func (s *IngestStore) RefreshPaper(ctx context.Context, paper *domain.Paper, chunks []domain.Chunk) error {
	return s.c.InTx(ctx, func(tx *sql.Tx) error {
		if err := s.papers.Refresh(ctx, tx, paper); err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return s.chunks.Replace(ctx, tx, paper.ID, chunks)
	})
}

// ListPending exposes the chunk backlog for the embedding stage.
func (s *IngestStore) ListPending(ctx context.Context, jobID string, limit int) ([]domain.Chunk, error) {
	return s.chunks.ListPending(ctx, jobID, limit)
}
