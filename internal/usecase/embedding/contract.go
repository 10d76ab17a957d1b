package embedding

import (
	"context"

	"github.com/atlas-research/scirag/internal/domain"
)

// Provider embeds texts in batches with a per-item fallback path.
type Provider interface {
	domain.Embedder
	domain.BatchEmbedder
}

// ChunkStore persists embedding outcomes.
type ChunkStore interface {
	SetEmbeddings(ctx context.Context, model string, ids []string, vectors [][]float32) error
	MarkFailed(ctx context.Context, ids []string) error
}
