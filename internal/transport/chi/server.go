// Package chi exposes the ingest, retrieval, and corpus APIs over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atlas-research/scirag/internal/domain"
	"github.com/atlas-research/scirag/internal/metrics"
	"github.com/atlas-research/scirag/internal/repository/postgres"
	healthuc "github.com/atlas-research/scirag/internal/usecase/health"
)

// IngestService is the job lifecycle surface the API needs.
type IngestService interface {
	Submit(ctx context.Context, query string, sources []string, maxPerSource int) (string, error)
	GetStatus(ctx context.Context, jobID string) (domain.IngestJob, error)
	GetPapers(ctx context.Context, jobID string, limit, offset int) ([]domain.Paper, int, error)
}

// AskService answers research questions over the embedded corpus.
type AskService interface {
	Ask(ctx context.Context, question string, topK int) (domain.Answer, error)
}

// StatsCollector reads corpus-level aggregates.
type StatsCollector interface {
	Collect(ctx context.Context) (postgres.CorpusStats, error)
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires usecases into HTTP handlers.
type Server struct {
	ingest        IngestService
	ask           AskService
	stats         StatsCollector
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates the HTTP API server.
func NewServer(
	ingest IngestService,
	ask AskService,
	stats StatsCollector,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		ingest: ingest,
		ask:    ask,
		stats:  stats,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, "invalid_query"),
		sentinelHandler(domain.ErrUnknownSource, http.StatusBadRequest, "unknown_source"),
		sentinelHandler(domain.ErrJobNotFound, http.StatusNotFound, "job_not_found"),
		sentinelHandler(domain.ErrPaperNotFound, http.StatusNotFound, "paper_not_found"),
		sentinelHandler(domain.ErrNoEmbeddedChunks, http.StatusNotFound, "no_embedded_chunks"),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, "embedding_provider_error"),
		sentinelHandler(domain.ErrSynthesisProviderError, http.StatusBadGateway, "synthesis_provider_error"),
		sentinelHandler(domain.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"),
	}
	return s
}

// Router assembles the middleware chain and routes.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(metrics.Middleware())
	r.Use(recoverer(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))

	r.Route("/api", func(r chi.Router) {
		r.Post("/ingest", s.submitIngest)
		r.Get("/ingest/{jobID}", s.getJob)
		r.Get("/ingest/{jobID}/papers", s.getJobPapers)
		r.Get("/stats", s.getStats)
	})
	r.Post("/rag/ask", s.askQuestion)
	r.Get("/healthz", s.healthCheck)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

type submitIngestRequest struct {
	Query               string   `json:"query"`
	Sources             []string `json:"sources,omitempty"`
	MaxResultsPerSource int      `json:"max_results_per_source,omitempty"`
}

// submitIngest handles POST /api/ingest.
func (s *Server) submitIngest(w http.ResponseWriter, r *http.Request) {
	var req submitIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	jobID, err := s.ingest.Submit(r.Context(), req.Query, req.Sources, req.MaxResultsPerSource)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// getJob handles GET /api/ingest/{jobID}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.ingest.GetStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(&job, time.Now()))
}

// getJobPapers handles GET /api/ingest/{jobID}/papers.
func (s *Server) getJobPapers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	papers, total, err := s.ingest.GetPapers(r.Context(), chi.URLParam(r, "jobID"), limit, offset)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]paperResponse, len(papers))
	for i := range papers {
		items[i] = paperToResponse(&papers[i])
	}
	writeJSON(w, http.StatusOK, paperListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// askQuestion handles POST /rag/ask.
func (s *Server) askQuestion(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	answer, err := s.ask.Ask(r.Context(), req.Question, req.TopK)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answerToResponse(&answer))
}

// getStats handles GET /api/stats.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Collect(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// healthCheck handles GET /healthz.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidQuery,
		domain.ErrUnknownSource,
		domain.ErrJobNotFound,
		domain.ErrPaperNotFound,
		domain.ErrNoEmbeddedChunks,
		domain.ErrRateLimited,
		domain.ErrEmbeddingProviderError,
		domain.ErrSynthesisProviderError,
		domain.ErrStorageUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
