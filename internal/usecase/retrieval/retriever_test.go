package retrieval

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-research/scirag/internal/domain"
)

type mockEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vector, TotalTokens: 7}, nil
}

type mockSearcher struct {
	hits []domain.RankedChunk
	err  error
	gotK int
}

func (m *mockSearcher) SearchNearest(_ context.Context, _ []float32, k int) ([]domain.RankedChunk, error) {
	m.gotK = k
	if m.err != nil {
		return nil, m.err
	}
	if k < len(m.hits) {
		return m.hits[:k], nil
	}
	return m.hits, nil
}

func hit(paperID string, score float64, citations, year int) domain.RankedChunk {
	return domain.RankedChunk{
		Chunk: domain.Chunk{ID: paperID + "-chunk", PaperID: paperID, Text: "excerpt from " + paperID},
		Paper: domain.Paper{ID: paperID, Title: "Paper " + paperID, CitationCount: citations, Year: year},
		Score: score,
	}
}

func newRetriever(searcher ChunkSearcher, cfg Config) *Retriever {
	return New(&mockEmbedder{vector: []float32{0.1, 0.2}}, searcher, cfg, zap.NewNop())
}

func TestRetrieveRanksAndNumbersCitations(t *testing.T) {
	searcher := &mockSearcher{hits: []domain.RankedChunk{
		hit("a", 0.91, 10, 2020),
		hit("b", 0.85, 50, 2022),
		hit("c", 0.78, 5, 2019),
	}}
	r := newRetriever(searcher, Config{})

	res, err := r.Retrieve(context.Background(), "does sleep consolidate memory", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Chunks) != 3 || len(res.Citations) != 3 {
		t.Fatalf("got %d chunks, %d citations, want 3/3", len(res.Chunks), len(res.Citations))
	}
	for i, c := range res.Citations {
		if c.CitationID != i+1 {
			t.Errorf("citation %d has ID %d", i, c.CitationID)
		}
		if c.PaperID != res.Chunks[i].Paper.ID {
			t.Errorf("citation %d points at %s, chunk is %s", i, c.PaperID, res.Chunks[i].Paper.ID)
		}
	}
	if res.Chunks[0].Paper.ID != "a" {
		t.Errorf("best hit = %s, want a", res.Chunks[0].Paper.ID)
	}
}

func TestRetrieveOverFetchesForDiversity(t *testing.T) {
	searcher := &mockSearcher{hits: []domain.RankedChunk{hit("a", 0.9, 1, 2020)}}
	r := newRetriever(searcher, Config{MaxChunksPerPaper: 3})

	if _, err := r.Retrieve(context.Background(), "anything", 10); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if searcher.gotK != 40 {
		t.Errorf("search k = %d, want 40 (topK * (cap+1))", searcher.gotK)
	}
}

func TestRetrieveCapsChunksPerPaper(t *testing.T) {
	searcher := &mockSearcher{hits: []domain.RankedChunk{
		hit("dominant", 0.99, 1, 2020),
		hit("dominant", 0.98, 1, 2020),
		hit("dominant", 0.97, 1, 2020),
		hit("dominant", 0.96, 1, 2020),
		hit("other", 0.80, 1, 2021),
	}}
	r := newRetriever(searcher, Config{MaxChunksPerPaper: 2})

	res, err := r.Retrieve(context.Background(), "dominated neighborhood", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	counts := map[string]int{}
	for _, c := range res.Chunks {
		counts[c.Paper.ID]++
	}
	if counts["dominant"] != 2 {
		t.Errorf("dominant paper got %d slots, want 2", counts["dominant"])
	}
	if counts["other"] != 1 {
		t.Errorf("other paper got %d slots, want 1", counts["other"])
	}
}

func TestRetrieveTieBreaksByCitationsThenYear(t *testing.T) {
	searcher := &mockSearcher{hits: []domain.RankedChunk{
		hit("lowcite", 0.9, 3, 2024),
		hit("highcite", 0.9, 300, 2015),
		hit("newer", 0.9, 3, 2025),
	}}
	r := newRetriever(searcher, Config{})

	res, err := r.Retrieve(context.Background(), "tied scores", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	order := []string{res.Chunks[0].Paper.ID, res.Chunks[1].Paper.ID, res.Chunks[2].Paper.ID}
	want := []string{"highcite", "newer", "lowcite"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	r := newRetriever(&mockSearcher{}, Config{})
	_, err := r.Retrieve(context.Background(), "no corpus yet", 5)
	if !errors.Is(err, domain.ErrNoEmbeddedChunks) {
		t.Fatalf("err = %v, want ErrNoEmbeddedChunks", err)
	}
}

func TestRetrieveEmptyQuestion(t *testing.T) {
	r := newRetriever(&mockSearcher{}, Config{})
	_, err := r.Retrieve(context.Background(), "   ", 5)
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("err = %v, want ErrInvalidQuery", err)
	}
}

func TestRetrieveEmbedderFailure(t *testing.T) {
	r := New(&mockEmbedder{err: domain.ErrEmbeddingProviderError}, &mockSearcher{}, Config{}, zap.NewNop())
	_, err := r.Retrieve(context.Background(), "question", 5)
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("err = %v, want ErrEmbeddingProviderError", err)
	}
}
