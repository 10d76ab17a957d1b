// Package chunking splits paper abstracts into fixed-size, overlapping
// token windows, the unit handed to the embedding pipeline.
package chunking

import (
	"strings"

	"github.com/atlas-research/scirag/internal/domain"
)

// Defaults match the embedding provider's sweet spot for scientific
// abstracts: ~500-token windows with a 50-token overlap, dropping
// fragments below 50 tokens.
const (
	DefaultMaxChunkTokens = 500
	DefaultOverlapTokens  = 50
	DefaultMinChunkTokens = 50
)

// Config bounds the sliding window.
type Config struct {
	MaxChunkTokens int
	OverlapTokens  int
	MinChunkTokens int
}

// Chunker is a pure transform from Paper to ordered Chunks.
type Chunker struct {
	codec     Codec
	maxTokens int
	overlap   int
	minTokens int
}

// New creates a chunker. Zero config fields take the defaults; an overlap
// that is not smaller than the window is clamped so the window always
// advances.
func New(codec Codec, cfg Config) *Chunker {
	maxTokens := cfg.MaxChunkTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxChunkTokens
	}
	overlap := cfg.OverlapTokens
	if overlap <= 0 {
		overlap = DefaultOverlapTokens
	}
	if overlap >= maxTokens {
		overlap = maxTokens - 1
	}
	minTokens := cfg.MinChunkTokens
	if minTokens <= 0 {
		minTokens = DefaultMinChunkTokens
	}

	return &Chunker{
		codec:     codec,
		maxTokens: maxTokens,
		overlap:   overlap,
		minTokens: minTokens,
	}
}

// Chunk splits a paper's abstract into sequence-indexed windows. A paper
// with no abstract, or one shorter than the minimum threshold, yields zero
// chunks; callers record it as skipped.
func (c *Chunker) Chunk(paper *domain.Paper) []domain.Chunk {
	text := strings.TrimSpace(paper.Abstract)
	if text == "" {
		return nil
	}

	tokens := c.codec.Encode(text)
	if len(tokens) < c.minTokens {
		return nil
	}

	step := c.maxTokens - c.overlap
	chunks := make([]domain.Chunk, 0, (len(tokens)+step-1)/step)

	for start, seq := 0, 0; start < len(tokens); start, seq = start+step, seq+1 {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}

		overlap := 0
		if seq > 0 {
			overlap = c.overlap
		}
		chunks = append(chunks, domain.Chunk{
			PaperID:       paper.ID,
			SequenceIndex: seq,
			Text:          c.codec.Decode(tokens[start:end]),
			TokenCount:    end - start,
			OverlapTokens: overlap,
		})

		if end == len(tokens) {
			break
		}
	}
	return chunks
}
