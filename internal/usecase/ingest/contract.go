package ingest

import (
	"context"

	"github.com/atlas-research/scirag/internal/domain"
	"github.com/atlas-research/scirag/internal/usecase/embedding"
	"github.com/atlas-research/scirag/internal/usecase/literature"
)

// JobStore persists ingest jobs.
type JobStore interface {
	Create(ctx context.Context, job *domain.IngestJob) error
	Update(ctx context.Context, job *domain.IngestJob) error
	Get(ctx context.Context, id string) (domain.IngestJob, error)
}

// PaperLister pages through a job's stored papers.
type PaperLister interface {
	ListByJob(ctx context.Context, jobID string, limit, offset int) ([]domain.Paper, int, error)
}

// Storage persists accepted papers with their chunks and exposes the
// embedding backlog. RefreshPaper pushes enrichment from a merged
// duplicate to an already-stored row; a non-empty chunk set replaces the
// paper's chunks (a late-arriving abstract makes a stored paper chunkable).
type Storage interface {
	StorePaperWithChunks(ctx context.Context, paper *domain.Paper, chunks []domain.Chunk) (bool, error)
	RefreshPaper(ctx context.Context, paper *domain.Paper, chunks []domain.Chunk) error
	ListPending(ctx context.Context, jobID string, limit int) ([]domain.Chunk, error)
}

// Fetcher streams paper candidates from the literature sources.
type Fetcher interface {
	Fetch(ctx context.Context, query string, sources []domain.Source, maxPerSource int) (<-chan literature.Result, error)
	Sources() []domain.Source
}

// Chunker splits a paper's abstract into embeddable windows.
type Chunker interface {
	Chunk(paper *domain.Paper) []domain.Chunk
}

// EmbedRunner vectorizes pending chunks, reporting incremental progress.
type EmbedRunner interface {
	EmbedBatch(ctx context.Context, chunks []domain.Chunk, onProgress embedding.Progress) (embedding.Stats, error)
}

// QueryParser extracts search terms from a natural-language question.
type QueryParser interface {
	Parse(ctx context.Context, query string) ([]string, error)
}
