// Package sdk is a Go client for the scirag HTTP API: submit ingest jobs,
// poll their progress, page stored papers, and ask questions over the corpus.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to a scirag API server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for the given base URL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("sdk: base URL required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("sdk: invalid base URL: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// APIError is a structured error response from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scirag api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// SubmitIngest starts an ingest job and returns its ID.
func (c *Client) SubmitIngest(ctx context.Context, req IngestRequest) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/ingest", req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// GetJob returns the job with its progress counters.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodGet, "/api/ingest/"+url.PathEscape(jobID), nil, &job)
	return job, err
}

// WaitForJob polls until the job reaches a terminal status or ctx expires.
func (c *Client) WaitForJob(ctx context.Context, jobID string, pollInterval time.Duration) (Job, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		if job.Status == "completed" || job.Status == "failed" {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("sdk: waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ListPapers pages through a job's stored papers.
func (c *Client) ListPapers(ctx context.Context, jobID string, limit, offset int) (PaperList, error) {
	path := "/api/ingest/" + url.PathEscape(jobID) + "/papers?limit=" +
		strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	var list PaperList
	err := c.do(ctx, http.MethodGet, path, nil, &list)
	return list, err
}

// Ask answers a research question over the embedded corpus.
func (c *Client) Ask(ctx context.Context, question string, topK int) (Answer, error) {
	req := map[string]any{"question": question}
	if topK > 0 {
		req["top_k"] = topK
	}
	var answer Answer
	err := c.do(ctx, http.MethodPost, "/rag/ask", req, &answer)
	return answer, err
}

// Stats returns corpus-level aggregates.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats)
	return stats, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sdk: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("sdk: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sdk: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Code = "unknown"
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("sdk: decode response: %w", err)
		}
	}
	return nil
}
