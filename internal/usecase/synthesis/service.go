// Package synthesis generates structured, citation-backed answers from
// retrieved paper excerpts.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/atlas-research/scirag/internal/domain"
	"github.com/atlas-research/scirag/internal/usecase/retrieval"
)

const systemPrompt = `You are a research synthesis assistant. Your job is to answer research questions by synthesizing information from academic papers.

You will be given:
1. A research question
2. Excerpts from relevant academic papers (with citations)

Your response MUST follow this exact structure:

**Summary**
A 2-3 sentence direct answer to the question.

**Key Findings**
- Finding 1 [1]
- Finding 2 [2]
- Finding 3 [1][3]
(Use [N] citation format, referencing the source numbers provided)

**Consensus**
What do researchers generally agree on regarding this topic?

**Open Questions**
What remains uncertain or debated in this area?

IMPORTANT RULES:
1. ONLY cite sources from the provided excerpts
2. Use [N] format for citations (e.g., [1], [2])
3. Be specific and factual
4. Acknowledge uncertainty when present
5. If the excerpts don't contain enough information, say so`

// completer is the LLM surface the service needs.
type completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// retriever hands back ranked excerpts for a question.
type retriever interface {
	Retrieve(ctx context.Context, question string, topK int) (retrieval.Result, error)
}

// maxCitedAuthors bounds the author list shown per citation.
const maxCitedAuthors = 3

// Service answers research questions over the embedded corpus.
type Service struct {
	retriever retriever
	llm       completer
	logger    *zap.Logger
}

// New creates a synthesis Service.
func New(r retriever, llm completer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{retriever: r, llm: llm, logger: logger}
}

// Ask retrieves excerpts for the question and synthesizes a structured
// answer. An empty corpus yields a well-formed "no papers" answer rather
// than an error; provider failures surface as ErrSynthesisProviderError.
func (s *Service) Ask(ctx context.Context, question string, topK int) (domain.Answer, error) {
	res, err := s.retriever.Retrieve(ctx, question, topK)
	if errors.Is(err, domain.ErrNoEmbeddedChunks) {
		return noResultsAnswer(), nil
	}
	if err != nil {
		return domain.Answer{}, err
	}

	userMessage := fmt.Sprintf(`Research Question: %s

Relevant Paper Excerpts:
%s

Please synthesize an answer based on these sources.`, question, formatExcerpts(res.Chunks))

	content, err := s.llm.Complete(ctx, systemPrompt, userMessage)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("synthesize answer: %w", err)
	}

	answer := ParseAnswer(content)
	answer.Citations = capAuthors(res.Citations)
	answer.PapersAnalyzed = len(res.Chunks)

	s.logger.Debug("synthesis done",
		zap.Int("excerpts", len(res.Chunks)),
		zap.Int("key_findings", len(answer.KeyFindings)))
	return answer, nil
}

func noResultsAnswer() domain.Answer {
	return domain.Answer{
		Summary:       "No relevant papers found for this query. Try rephrasing or broadening your search.",
		OpenQuestions: []string{"No papers available to analyze."},
		Citations:     []domain.Citation{},
	}
}

// formatExcerpts renders numbered excerpts so [N] markers in the generated
// prose resolve against the citation table.
func formatExcerpts(chunks []domain.RankedChunk) string {
	parts := make([]string, len(chunks))
	for i, rc := range chunks {
		shown := rc.Paper.Authors
		etAl := ""
		if len(shown) > maxCitedAuthors {
			shown = shown[:maxCitedAuthors]
			etAl = " et al."
		}
		year := ""
		if rc.Paper.Year > 0 {
			year = fmt.Sprintf(" (%d)", rc.Paper.Year)
		}
		parts[i] = fmt.Sprintf("[%d] %s\n%s%s%s\n\n%s\n",
			i+1, rc.Paper.Title, strings.Join(shown, ", "), etAl, year, rc.Chunk.Text)
	}
	return strings.Join(parts, "\n---\n")
}

func capAuthors(citations []domain.Citation) []domain.Citation {
	for i := range citations {
		if len(citations[i].Authors) > maxCitedAuthors {
			citations[i].Authors = citations[i].Authors[:maxCitedAuthors]
		}
	}
	return citations
}
