package literature

import (
	"context"

	"github.com/atlas-research/scirag/internal/domain"
)

// SourceClient is one literature API, already rate-limited and retried
// at the transport level.
type SourceClient interface {
	Name() domain.Source
	Search(ctx context.Context, query string, limit int) ([]domain.Paper, error)
}
