package domain

import "time"

// Chunk is a bounded-length slice of a paper's abstract, the unit of
// embedding and retrieval. Chunks are owned by their Paper and regenerated
// wholesale when the abstract changes.
type Chunk struct {
	ID            string
	PaperID       string
	SequenceIndex int
	Text          string
	TokenCount    int
	OverlapTokens int // tokens at the head shared with the previous chunk
	CreatedAt     time.Time

	// Embedding state. A chunk with a nil Vector is pending and excluded
	// from retrieval; EmbedFailed marks chunks given up on after retries.
	Vector         []float32
	EmbeddingModel string
	EmbeddedAt     time.Time
	EmbedFailed    bool
}

// Embedded reports whether the chunk has a persisted vector.
func (c *Chunk) Embedded() bool {
	return len(c.Vector) > 0
}

// RankedChunk is a retrieval hit: a chunk joined with its paper and the
// cosine similarity score.
type RankedChunk struct {
	Chunk Chunk
	Paper Paper
	Score float64
}

// Citation maps a rank-ordered reference number back to a source paper.
// Citations are scoped to a single answer, never persisted.
type Citation struct {
	CitationID     int // 1..N in rank order
	PaperID        string
	Title          string
	Authors        []string
	Year           int
	RelevanceScore float64
}

// AssignCitations numbers ranked chunks 1..N in rank order. The numbering
// matches the excerpt order handed to the synthesis collaborator, so [N]
// markers in the generated prose resolve to the right paper.
func AssignCitations(ranked []RankedChunk) []Citation {
	citations := make([]Citation, len(ranked))
	for i, rc := range ranked {
		citations[i] = Citation{
			CitationID:     i + 1,
			PaperID:        rc.Paper.ID,
			Title:          rc.Paper.Title,
			Authors:        rc.Paper.Authors,
			Year:           rc.Paper.Year,
			RelevanceScore: rc.Score,
		}
	}
	return citations
}
