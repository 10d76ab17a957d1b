package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/atlas-research/scirag/internal/domain"
)

// wordCodec treats each whitespace-separated word as one token. Decoding a
// contiguous token slice reproduces the exact words, which is all the
// chunker relies on.
type wordCodec struct {
	words []string
}

func (c *wordCodec) Encode(text string) []int {
	c.words = strings.Fields(text)
	ids := make([]int, len(c.words))
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (c *wordCodec) Decode(tokens []int) string {
	parts := make([]string, len(tokens))
	for i, id := range tokens {
		parts[i] = c.words[id]
	}
	return strings.Join(parts, " ")
}

func abstractOf(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestChunkWindowBounds(t *testing.T) {
	c := New(&wordCodec{}, Config{MaxChunkTokens: 100, OverlapTokens: 10, MinChunkTokens: 10})
	paper := &domain.Paper{ID: "p1", Abstract: abstractOf(250)}

	chunks := c.Chunk(paper)
	// Step 90: windows at 0, 90, 180 → 3 chunks.
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, ch := range chunks {
		if ch.SequenceIndex != i {
			t.Errorf("chunk %d: SequenceIndex = %d", i, ch.SequenceIndex)
		}
		if ch.TokenCount > 100 {
			t.Errorf("chunk %d: TokenCount = %d exceeds window", i, ch.TokenCount)
		}
		if ch.PaperID != "p1" {
			t.Errorf("chunk %d: PaperID = %q", i, ch.PaperID)
		}
	}
	if chunks[0].OverlapTokens != 0 {
		t.Errorf("first chunk overlap = %d, want 0", chunks[0].OverlapTokens)
	}
	if chunks[1].OverlapTokens != 10 {
		t.Errorf("second chunk overlap = %d, want 10", chunks[1].OverlapTokens)
	}
	if chunks[2].TokenCount != 70 {
		t.Errorf("last chunk TokenCount = %d, want 70", chunks[2].TokenCount)
	}
}

func TestZeroConfigTakesDefaults(t *testing.T) {
	c := New(&wordCodec{}, Config{})
	paper := &domain.Paper{ID: "p1", Abstract: abstractOf(DefaultMaxChunkTokens + 100)}

	chunks := c.Chunk(paper)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	if chunks[0].TokenCount != DefaultMaxChunkTokens {
		t.Errorf("first window = %d tokens, want %d", chunks[0].TokenCount, DefaultMaxChunkTokens)
	}
	if chunks[1].OverlapTokens != DefaultOverlapTokens {
		t.Errorf("overlap = %d, want default %d", chunks[1].OverlapTokens, DefaultOverlapTokens)
	}
}

func TestChunkCoversEveryToken(t *testing.T) {
	codec := &wordCodec{}
	c := New(codec, Config{MaxChunkTokens: 64, OverlapTokens: 8, MinChunkTokens: 10})
	abstract := abstractOf(333)
	paper := &domain.Paper{ID: "p1", Abstract: abstract}

	chunks := c.Chunk(paper)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}

	// Dropping each chunk's overlap prefix and concatenating the rest must
	// reproduce the full abstract: no token lost, none duplicated.
	var rebuilt []string
	for _, ch := range chunks {
		words := strings.Fields(ch.Text)
		rebuilt = append(rebuilt, words[ch.OverlapTokens:]...)
	}
	if got := strings.Join(rebuilt, " "); got != abstract {
		t.Errorf("reassembled abstract differs:\n got %d words\nwant %d words",
			len(rebuilt), len(strings.Fields(abstract)))
	}
}

func TestChunkShortAbstractSkipped(t *testing.T) {
	c := New(&wordCodec{}, Config{MaxChunkTokens: 100, OverlapTokens: 10, MinChunkTokens: 50})

	for _, tc := range []struct {
		name     string
		abstract string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t "},
		{"below threshold", abstractOf(49)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			chunks := c.Chunk(&domain.Paper{ID: "p1", Abstract: tc.abstract})
			if len(chunks) != 0 {
				t.Fatalf("got %d chunks, want 0", len(chunks))
			}
		})
	}
}

func TestChunkExactlyAtThreshold(t *testing.T) {
	c := New(&wordCodec{}, Config{MaxChunkTokens: 100, OverlapTokens: 10, MinChunkTokens: 50})
	chunks := c.Chunk(&domain.Paper{ID: "p1", Abstract: abstractOf(50)})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].TokenCount != 50 {
		t.Errorf("TokenCount = %d, want 50", chunks[0].TokenCount)
	}
}

func TestChunkSingleWindowNoOverlapMarker(t *testing.T) {
	c := New(&wordCodec{}, Config{MaxChunkTokens: 500, OverlapTokens: 50, MinChunkTokens: 50})
	chunks := c.Chunk(&domain.Paper{ID: "p1", Abstract: abstractOf(200)})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].OverlapTokens != 0 {
		t.Errorf("single chunk overlap = %d, want 0", chunks[0].OverlapTokens)
	}
}

func TestNewClampsOverlap(t *testing.T) {
	c := New(&wordCodec{}, Config{MaxChunkTokens: 10, OverlapTokens: 10, MinChunkTokens: 5})
	// Overlap clamped to 9, step 1: must terminate and cover all tokens.
	chunks := c.Chunk(&domain.Paper{ID: "p1", Abstract: abstractOf(15)})
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(last.Text, "w14") {
		t.Errorf("last chunk must reach the final token, got %q", last.Text)
	}
}
