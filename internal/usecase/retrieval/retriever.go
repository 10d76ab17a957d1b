// Package retrieval turns a natural-language question into a ranked,
// paper-diverse set of chunks with citation numbering.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/atlas-research/scirag/internal/domain"
)

// ChunkSearcher is the vector search surface the retriever needs.
type ChunkSearcher interface {
	SearchNearest(ctx context.Context, vector []float32, k int) ([]domain.RankedChunk, error)
}

// DefaultMaxChunksPerPaper bounds how many excerpts one paper may occupy
// in a result set, so a single verbose abstract cannot crowd out the rest.
const DefaultMaxChunksPerPaper = 3

// Config tunes retrieval behavior.
type Config struct {
	TopK              int // result size, default 10
	MaxChunksPerPaper int // per-paper cap, default 3
}

// Result is a retrieval outcome: ranked chunks plus their citation table.
type Result struct {
	Chunks    []domain.RankedChunk
	Citations []domain.Citation
}

// Retriever embeds the question and searches the chunk index.
type Retriever struct {
	embedder domain.Embedder
	searcher ChunkSearcher
	cfg      Config
	logger   *zap.Logger
}

// New creates a Retriever. The embedder must match the model the corpus
// was embedded with, or scores are meaningless.
func New(embedder domain.Embedder, searcher ChunkSearcher, cfg Config, logger *zap.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.MaxChunksPerPaper <= 0 {
		cfg.MaxChunksPerPaper = DefaultMaxChunksPerPaper
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{embedder: embedder, searcher: searcher, cfg: cfg, logger: logger}
}

// Retrieve returns the topK most relevant chunks for the question, at most
// MaxChunksPerPaper per paper. topK <= 0 uses the configured default.
// Returns ErrNoEmbeddedChunks when the corpus has nothing to search.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, fmt.Errorf("empty question: %w", domain.ErrInvalidQuery)
	}
	if topK <= 0 || topK > 50 {
		topK = r.cfg.TopK
	}

	embedded, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return Result{}, fmt.Errorf("embed question: %w", err)
	}

	// Over-fetch so the per-paper cap still leaves topK results when one
	// paper dominates the neighborhood.
	fetchK := topK * (r.cfg.MaxChunksPerPaper + 1)
	hits, err := r.searcher.SearchNearest(ctx, embedded.Embedding, fetchK)
	if err != nil {
		return Result{}, fmt.Errorf("search chunks: %w", err)
	}
	if len(hits) == 0 {
		return Result{}, domain.ErrNoEmbeddedChunks
	}

	ranked := r.diversify(hits, topK)

	r.logger.Debug("retrieval done",
		zap.Int("hits", len(hits)),
		zap.Int("returned", len(ranked)),
		zap.Float64("top_score", ranked[0].Score))

	return Result{
		Chunks:    ranked,
		Citations: domain.AssignCitations(ranked),
	}, nil
}

// diversify enforces the per-paper cap while preserving score order, then
// breaks equal-score ties by citation count and recency.
func (r *Retriever) diversify(hits []domain.RankedChunk, topK int) []domain.RankedChunk {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Paper.CitationCount != hits[j].Paper.CitationCount {
			return hits[i].Paper.CitationCount > hits[j].Paper.CitationCount
		}
		return hits[i].Paper.Year > hits[j].Paper.Year
	})

	perPaper := make(map[string]int, len(hits))
	out := make([]domain.RankedChunk, 0, topK)
	for _, h := range hits {
		if perPaper[h.Paper.ID] >= r.cfg.MaxChunksPerPaper {
			continue
		}
		perPaper[h.Paper.ID]++
		out = append(out, h)
		if len(out) == topK {
			break
		}
	}
	return out
}
