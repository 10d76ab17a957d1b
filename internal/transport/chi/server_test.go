package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-research/scirag/internal/domain"
	"github.com/atlas-research/scirag/internal/repository/postgres"
	healthuc "github.com/atlas-research/scirag/internal/usecase/health"
)

type mockIngest struct {
	submitErr error
	job       domain.IngestJob
	jobErr    error
	papers    []domain.Paper
	total     int
	papersErr error

	gotQuery   string
	gotSources []string
	gotMax     int
	gotLimit   int
	gotOffset  int
}

func (m *mockIngest) Submit(_ context.Context, query string, sources []string, maxPerSource int) (string, error) {
	m.gotQuery, m.gotSources, m.gotMax = query, sources, maxPerSource
	if m.submitErr != nil {
		return "", m.submitErr
	}
	return "job-123", nil
}

func (m *mockIngest) GetStatus(_ context.Context, _ string) (domain.IngestJob, error) {
	return m.job, m.jobErr
}

func (m *mockIngest) GetPapers(_ context.Context, _ string, limit, offset int) ([]domain.Paper, int, error) {
	m.gotLimit, m.gotOffset = limit, offset
	return m.papers, m.total, m.papersErr
}

type mockAsk struct {
	answer domain.Answer
	err    error
}

func (m *mockAsk) Ask(_ context.Context, _ string, _ int) (domain.Answer, error) {
	return m.answer, m.err
}

type mockStats struct {
	stats postgres.CorpusStats
	err   error
}

func (m *mockStats) Collect(_ context.Context) (postgres.CorpusStats, error) {
	return m.stats, m.err
}

type okPinger struct{}

func (okPinger) Ping(_ context.Context) error { return nil }

func newTestRouter(ingest *mockIngest, ask *mockAsk, stats *mockStats) http.Handler {
	srv := NewServer(ingest, ask, stats, healthuc.New(okPinger{}, nil, nil), zap.NewNop())
	return srv.Router(nil)
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitIngestAccepted(t *testing.T) {
	ingest := &mockIngest{}
	h := newTestRouter(ingest, &mockAsk{}, &mockStats{})

	rec := doRequest(t, h, http.MethodPost, "/api/ingest",
		`{"query":"sleep and memory","sources":["openalex"],"max_results_per_source":15}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["job_id"] != "job-123" {
		t.Errorf("job_id = %q", resp["job_id"])
	}
	if ingest.gotQuery != "sleep and memory" || ingest.gotMax != 15 {
		t.Errorf("passed query=%q max=%d", ingest.gotQuery, ingest.gotMax)
	}
	if len(ingest.gotSources) != 1 || ingest.gotSources[0] != "openalex" {
		t.Errorf("sources = %v", ingest.gotSources)
	}
}

func TestSubmitIngestInvalidQuery(t *testing.T) {
	ingest := &mockIngest{submitErr: domain.ErrInvalidQuery}
	h := newTestRouter(ingest, &mockAsk{}, &mockStats{})

	rec := doRequest(t, h, http.MethodPost, "/api/ingest", `{"query":""}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "invalid_query" {
		t.Errorf("code = %q, want invalid_query", resp.Code)
	}
}

func TestSubmitIngestBadJSON(t *testing.T) {
	h := newTestRouter(&mockIngest{}, &mockAsk{}, &mockStats{})
	rec := doRequest(t, h, http.MethodPost, "/api/ingest", `{"query":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetJobProgressShape(t *testing.T) {
	job := domain.IngestJob{
		ID:               "job-9",
		Query:            "crispr off-target effects",
		SearchQueries:    []string{"crispr", "off-target", "effects"},
		SourcesRequested: domain.AllSources,
		Status:           domain.StatusEmbedding,
		StageDetail:      domain.NewStageDetail(domain.AllSources),
		CreatedAt:        time.Now().Add(-time.Minute),
	}
	job.StageDetail.FoundPerSource[domain.SourceOpenAlex] = 7
	job.StageDetail.UniquePapers = 6
	job.StageDetail.PapersStored = 6
	job.StageDetail.ChunksCreated = 12
	job.StageDetail.EmbeddingsDone = 6
	job.StageDetail.EmbeddingsTotal = 12

	h := newTestRouter(&mockIngest{job: job}, &mockAsk{}, &mockStats{})
	rec := doRequest(t, h, http.MethodGet, "/api/ingest/job-9", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID != "job-9" || resp.Status != "embedding" {
		t.Errorf("job_id=%q status=%q", resp.JobID, resp.Status)
	}
	if len(resp.SearchQueries) != 3 || resp.SearchQueries[0] != "crispr" {
		t.Errorf("search_queries = %v, want the parsed terms", resp.SearchQueries)
	}
	if resp.Progress.Papers.OpenAlexFound != 7 {
		t.Errorf("openalex_found = %d", resp.Progress.Papers.OpenAlexFound)
	}
	if resp.Progress.Embeddings.Percent != 50 {
		t.Errorf("percent = %v, want 50", resp.Progress.Embeddings.Percent)
	}
	if resp.Progress.Chunks.AveragePerPaper != 2 {
		t.Errorf("average_per_paper = %v, want 2", resp.Progress.Chunks.AveragePerPaper)
	}
	if resp.Progress.Stages["fetching"].Status != "completed" {
		t.Errorf("fetching stage = %q", resp.Progress.Stages["fetching"].Status)
	}
	if resp.Progress.Stages["embedding"].Status != "in_progress" {
		t.Errorf("embedding stage = %q", resp.Progress.Stages["embedding"].Status)
	}
}

func TestGetJobNotFound(t *testing.T) {
	h := newTestRouter(&mockIngest{jobErr: domain.ErrJobNotFound}, &mockAsk{}, &mockStats{})
	rec := doRequest(t, h, http.MethodGet, "/api/ingest/missing", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "job_not_found" {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestGetJobPapersPagination(t *testing.T) {
	ingest := &mockIngest{
		papers: []domain.Paper{{ID: "p1", Title: "One", SourceOrigin: domain.SourceOpenAlex}},
		total:  41,
	}
	h := newTestRouter(ingest, &mockAsk{}, &mockStats{})
	rec := doRequest(t, h, http.MethodGet, "/api/ingest/job-9/papers?limit=5&offset=40", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ingest.gotLimit != 5 || ingest.gotOffset != 40 {
		t.Errorf("limit/offset = %d/%d", ingest.gotLimit, ingest.gotOffset)
	}
	var resp paperListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 41 || len(resp.Items) != 1 {
		t.Errorf("total=%d items=%d", resp.Total, len(resp.Items))
	}
	if resp.Items[0].PaperID != "p1" {
		t.Errorf("paper_id = %q", resp.Items[0].PaperID)
	}
}

func TestAskQuestion(t *testing.T) {
	ask := &mockAsk{answer: domain.Answer{
		Summary:        "Sleep consolidates memory.",
		KeyFindings:    []string{"Finding [1]"},
		Citations:      []domain.Citation{{CitationID: 1, PaperID: "p1", Title: "T"}},
		PapersAnalyzed: 1,
	}}
	h := newTestRouter(&mockIngest{}, ask, &mockStats{})

	rec := doRequest(t, h, http.MethodPost, "/rag/ask", `{"question":"does sleep help memory","top_k":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp answerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary == "" || resp.PapersAnalyzed != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Citations[0].CitationID != 1 {
		t.Errorf("citation = %+v", resp.Citations[0])
	}
	// Empty sections serialize as [] rather than null.
	if !strings.Contains(rec.Body.String(), `"consensus":[]`) {
		t.Errorf("consensus not an empty array: %s", rec.Body.String())
	}
}

func TestAskProviderErrorIsBadGateway(t *testing.T) {
	ask := &mockAsk{err: domain.ErrSynthesisProviderError}
	h := newTestRouter(&mockIngest{}, ask, &mockStats{})

	rec := doRequest(t, h, http.MethodPost, "/rag/ask", `{"question":"q"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestGetStats(t *testing.T) {
	stats := &mockStats{stats: postgres.CorpusStats{
		Papers: 10, Chunks: 40, EmbeddedChunks: 38, FailedChunks: 2,
		JobsByStatus: map[string]int{"completed": 3},
	}}
	h := newTestRouter(&mockIngest{}, &mockAsk{}, stats)

	rec := doRequest(t, h, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp postgres.CorpusStats
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Papers != 10 || resp.JobsByStatus["completed"] != 3 {
		t.Errorf("stats = %+v", resp)
	}
}

func TestStatsStorageUnavailable(t *testing.T) {
	stats := &mockStats{err: domain.ErrStorageUnavailable}
	h := newTestRouter(&mockIngest{}, &mockAsk{}, stats)

	rec := doRequest(t, h, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(&mockIngest{}, &mockAsk{}, &mockStats{})
	rec := doRequest(t, h, http.MethodGet, "/healthz", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUnknownErrorIsInternal(t *testing.T) {
	h := newTestRouter(&mockIngest{submitErr: errors.New("boom")}, &mockAsk{}, &mockStats{})
	rec := doRequest(t, h, http.MethodPost, "/api/ingest", `{"query":"q"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("internal error details leaked to client")
	}
}
