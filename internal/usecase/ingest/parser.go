package ingest

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// completer is the LLM surface the parser needs.
type completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const parserSystemPrompt = `You are a research query parser. Extract the main searchable concepts from a natural language research question.

Respond with JSON only, in this exact shape:
{"primary_terms": ["term1", "term2", "term3"]}

Rules:
1. 3-5 terms, each a concept someone would search academic literature for
2. Drop question words and filler; keep domain vocabulary
3. JSON only, no prose`

// LLMParser extracts search terms with a completion model, falling back
// to a heuristic when the model is unavailable or returns garbage. Parsing
// must never fail an ingest job.
type LLMParser struct {
	llm    completer
	logger *zap.Logger
}

// NewLLMParser creates an LLM-backed query parser.
func NewLLMParser(llm completer, logger *zap.Logger) *LLMParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMParser{llm: llm, logger: logger}
}

// Parse returns searchable terms for the query.
func (p *LLMParser) Parse(ctx context.Context, query string) ([]string, error) {
	content, err := p.llm.Complete(ctx, parserSystemPrompt, "Parse this research query: "+query)
	if err != nil {
		p.logger.Warn("query parsing via LLM failed, using heuristic", zap.Error(err))
		return HeuristicTerms(query), nil
	}

	var parsed struct {
		PrimaryTerms []string `json:"primary_terms"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil || len(parsed.PrimaryTerms) == 0 {
		p.logger.Warn("query parser returned unparseable output, using heuristic",
			zap.String("content", content))
		return HeuristicTerms(query), nil
	}
	return parsed.PrimaryTerms, nil
}

// HeuristicParser extracts terms without any external calls.
type HeuristicParser struct{}

// Parse implements QueryParser.
func (HeuristicParser) Parse(_ context.Context, query string) ([]string, error) {
	return HeuristicTerms(query), nil
}

var parserStopwords = map[string]struct{}{
	"what": {}, "where": {}, "when": {}, "which": {}, "that": {}, "this": {},
	"have": {}, "been": {}, "with": {}, "from": {}, "they": {}, "their": {},
	"about": {}, "would": {}, "could": {}, "should": {},
}

// HeuristicTerms keeps up to five content words longer than four
// characters; when nothing survives, the first words of the query do.
func HeuristicTerms(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, 5)
	for _, w := range words {
		w = strings.Trim(w, ".,;:?!\"'()")
		if len(w) <= 4 {
			continue
		}
		if _, stop := parserStopwords[w]; stop {
			continue
		}
		terms = append(terms, w)
		if len(terms) == 5 {
			break
		}
	}
	if len(terms) == 0 {
		n := 3
		if len(words) < n {
			n = len(words)
		}
		terms = words[:n]
	}
	return terms
}
