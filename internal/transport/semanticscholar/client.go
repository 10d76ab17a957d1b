// Package semanticscholar implements the Semantic Scholar graph API client.
//
// The keyless tier is heavily rate limited (~100 requests per 5 minutes), so
// the client throttles conservatively unless an API key is configured.
// https://api.semanticscholar.org/
package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-research/scirag/internal/backoff"
	"github.com/atlas-research/scirag/internal/domain"
	"github.com/atlas-research/scirag/internal/metrics"
)

const defaultBaseURL = "https://api.semanticscholar.org/graph/v1"

// paperFields is the field list requested from the API.
const paperFields = "paperId,externalIds,title,abstract,year,venue,authors," +
	"citationCount,fieldsOfStudy,openAccessPdf,url"

// Client queries the Semantic Scholar paper search endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	retry      backoff.Policy
	logger     *zap.Logger
}

// Config holds Semantic Scholar client settings.
type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	RequestTimeout    time.Duration
	RetryAttempts     int
	Logger            *zap.Logger
}

// New creates a Semantic Scholar client.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		if cfg.APIKey != "" {
			rps = 1.5
		} else {
			rps = 0.5
		}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := backoff.DefaultPolicy()
	if cfg.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.RetryAttempts
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		retry:      retry,
		logger:     logger,
	}
}

// Name implements the source client contract.
func (c *Client) Name() domain.Source { return domain.SourceSemanticScholar }

type searchResponse struct {
	Total int         `json:"total"`
	Data  []paperJSON `json:"data"`
}

type paperJSON struct {
	PaperID string `json:"paperId"`
	// CorpusId arrives as a number, so values cannot be decoded as strings.
	ExternalIDs map[string]any `json:"externalIds"`
	Title       string            `json:"title"`
	Abstract    string            `json:"abstract"`
	Year        int               `json:"year"`
	Venue       string            `json:"venue"`
	Authors     []struct {
		Name string `json:"name"`
	} `json:"authors"`
	CitationCount int `json:"citationCount"`
	OpenAccessPdf *struct {
		URL string `json:"url"`
	} `json:"openAccessPdf"`
	URL string `json:"url"`
}

// Search fetches up to limit papers matching the query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]domain.Paper, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > 100 {
		limit = 100
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("fields", paperFields)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", "0")

	var resp searchResponse
	err := backoff.Retry(ctx, "semantic_scholar_search", c.retry, func() error {
		return c.getJSON(ctx, c.baseURL+"/paper/search?"+params.Encode(), &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("semantic scholar search %q: %w: %w", query, err, domain.ErrSourceUnavailable)
	}

	papers := make([]domain.Paper, 0, len(resp.Data))
	for i := range resp.Data {
		if p, ok := parsePaper(&resp.Data[i]); ok {
			papers = append(papers, p)
		}
	}
	metrics.SourcePapersFound.
		WithLabelValues(string(domain.SourceSemanticScholar)).Add(float64(len(papers)))
	return papers, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return backoff.MarkPermanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return backoff.MarkPermanent(err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SourceRequestsTotal.
			WithLabelValues(string(domain.SourceSemanticScholar), "error").Inc()
		return fmt.Errorf("semantic scholar request: %w", err)
	}
	defer resp.Body.Close()

	metrics.SourceRequestsTotal.
		WithLabelValues(string(domain.SourceSemanticScholar), strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("semantic scholar: %w", domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("semantic scholar server error: %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode >= 400:
		return backoff.MarkPermanent(fmt.Errorf("semantic scholar client error: %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("semantic scholar decode: %w", err)
	}
	return nil
}

func parsePaper(p *paperJSON) (domain.Paper, bool) {
	if p.PaperID == "" || p.Title == "" {
		return domain.Paper{}, false
	}

	title := domain.CleanText(p.Title)
	abstract := domain.CleanText(p.Abstract)

	authors := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		if a.Name != "" {
			authors = append(authors, a.Name)
		}
	}

	var pdfURL string
	if p.OpenAccessPdf != nil {
		pdfURL = p.OpenAccessPdf.URL
	}

	var doi string
	if raw, ok := p.ExternalIDs["DOI"].(string); ok {
		doi = domain.NormalizeDOI(raw)
	}

	return domain.Paper{
		DOI:           doi,
		Title:         title,
		TitleKey:      domain.NormalizeTitle(title),
		Authors:       authors,
		Year:          p.Year,
		Venue:         p.Venue,
		Abstract:      abstract,
		CitationCount: p.CitationCount,
		SourceOrigin:  domain.SourceSemanticScholar,
		ExternalIDs:   map[domain.Source]string{domain.SourceSemanticScholar: p.PaperID},
		PDFURL:        pdfURL,
		LandingURL:    p.URL,
	}, true
}
