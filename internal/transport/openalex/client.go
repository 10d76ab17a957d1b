// Package openalex implements the OpenAlex works API client.
//
// OpenAlex is a fully open catalog of the global research system. No API key
// is required, but supplying a mailto identifier joins the polite pool with
// higher limits. https://docs.openalex.org/
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-research/scirag/internal/backoff"
	"github.com/atlas-research/scirag/internal/domain"
	"github.com/atlas-research/scirag/internal/metrics"
)

const defaultBaseURL = "https://api.openalex.org"

// Client queries the OpenAlex works endpoint with rate limiting and retry.
type Client struct {
	httpClient *http.Client
	baseURL    string
	email      string
	limiter    *rate.Limiter
	retry      backoff.Policy
	logger     *zap.Logger
}

// Config holds OpenAlex client settings.
type Config struct {
	BaseURL           string
	Email             string
	RequestsPerSecond float64
	RequestTimeout    time.Duration
	RetryAttempts     int
	Logger            *zap.Logger
}

// New creates an OpenAlex client.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
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
		email:      cfg.Email,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		retry:      retry,
		logger:     logger,
	}
}

// Name implements the source client contract.
func (c *Client) Name() domain.Source { return domain.SourceOpenAlex }

// worksResponse mirrors the /works list payload.
type worksResponse struct {
	Meta struct {
		Count int `json:"count"`
	} `json:"meta"`
	Results []work `json:"results"`
}

type work struct {
	ID                    string           `json:"id"`
	DOI                   string           `json:"doi"`
	Title                 string           `json:"title"`
	DisplayName           string           `json:"display_name"`
	PublicationYear       int              `json:"publication_year"`
	CitedByCount          int              `json:"cited_by_count"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	Authorships           []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	PrimaryLocation *location `json:"primary_location"`
	BestOALocation  *location `json:"best_oa_location"`
}

type location struct {
	IsOA           bool   `json:"is_oa"`
	PDFURL         string `json:"pdf_url"`
	LandingPageURL string `json:"landing_page_url"`
	Source         *struct {
		DisplayName string `json:"display_name"`
	} `json:"source"`
}

// Search fetches up to limit papers matching the query. Only works with
// abstracts are requested; results without a title are dropped.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]domain.Paper, error) {
	if limit <= 0 {
		return nil, nil
	}
	perPage := limit
	if perPage > 200 {
		perPage = 200
	}

	params := url.Values{}
	params.Set("search", query)
	params.Set("filter", "has_abstract:true")
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", "1")
	if c.email != "" {
		params.Set("mailto", c.email)
	}

	var resp worksResponse
	err := backoff.Retry(ctx, "openalex_search", c.retry, func() error {
		return c.getJSON(ctx, c.baseURL+"/works?"+params.Encode(), &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("openalex search %q: %w: %w", query, err, domain.ErrSourceUnavailable)
	}

	papers := make([]domain.Paper, 0, len(resp.Results))
	for i := range resp.Results {
		if p, ok := c.parseWork(&resp.Results[i]); ok {
			papers = append(papers, p)
		}
	}
	metrics.SourcePapersFound.WithLabelValues(string(domain.SourceOpenAlex)).Add(float64(len(papers)))
	return papers, nil
}

// getJSON performs one rate-limited GET, classifying HTTP errors into
// retryable and permanent for the backoff layer.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return backoff.MarkPermanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return backoff.MarkPermanent(err)
	}
	if c.email != "" {
		req.Header.Set("User-Agent", "scirag/1.0 (mailto:"+c.email+")")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SourceRequestsTotal.WithLabelValues(string(domain.SourceOpenAlex), "error").Inc()
		return fmt.Errorf("openalex request: %w", err)
	}
	defer resp.Body.Close()

	metrics.SourceRequestsTotal.
		WithLabelValues(string(domain.SourceOpenAlex), strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("openalex: %w", domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("openalex server error: %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		// Treat as empty result set, not an error.
		return nil
	case resp.StatusCode >= 400:
		return backoff.MarkPermanent(fmt.Errorf("openalex client error: %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openalex decode: %w", err)
	}
	return nil
}

// parseWork converts an OpenAlex work into a Paper candidate.
func (c *Client) parseWork(w *work) (domain.Paper, bool) {
	id := strings.TrimPrefix(w.ID, "https://openalex.org/")
	if id == "" {
		return domain.Paper{}, false
	}
	title := w.Title
	if title == "" {
		title = w.DisplayName
	}
	if title == "" {
		return domain.Paper{}, false
	}
	title = domain.CleanText(title)

	authors := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			authors = append(authors, a.Author.DisplayName)
		}
	}

	var venue, pdfURL, landingURL string
	if loc := w.PrimaryLocation; loc != nil {
		if loc.Source != nil {
			venue = loc.Source.DisplayName
		}
		if loc.IsOA {
			pdfURL = loc.PDFURL
			landingURL = loc.LandingPageURL
		}
	}
	if loc := w.BestOALocation; loc != nil {
		if pdfURL == "" {
			pdfURL = loc.PDFURL
		}
		if landingURL == "" {
			landingURL = loc.LandingPageURL
		}
	}

	doi := domain.NormalizeDOI(w.DOI)
	if landingURL == "" && doi != "" {
		landingURL = "https://doi.org/" + doi
	}

	return domain.Paper{
		DOI:           doi,
		Title:         title,
		TitleKey:      domain.NormalizeTitle(title),
		Authors:       authors,
		Year:          w.PublicationYear,
		Venue:         venue,
		Abstract:      ReconstructAbstract(w.AbstractInvertedIndex),
		CitationCount: w.CitedByCount,
		SourceOrigin:  domain.SourceOpenAlex,
		ExternalIDs:   map[domain.Source]string{domain.SourceOpenAlex: id},
		PDFURL:        pdfURL,
		LandingURL:    landingURL,
	}, true
}

// ReconstructAbstract rebuilds abstract text from OpenAlex's inverted index
// format (word -> list of positions).
func ReconstructAbstract(inverted map[string][]int) string {
	if len(inverted) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range inverted {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pos < pairs[j].pos })

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return domain.CleanText(strings.Join(words, " "))
}
