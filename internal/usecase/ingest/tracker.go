// Package ingest drives the end-to-end ingestion pipeline for one query:
// parse, fetch, dedup, store, chunk, embed, with observable monotonic
// progress for polling clients.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlas-research/scirag/internal/domain"
	"github.com/atlas-research/scirag/internal/metrics"
	"github.com/atlas-research/scirag/internal/usecase/dedup"
	"github.com/atlas-research/scirag/internal/usecase/literature"
)

// Config bounds a single job run.
type Config struct {
	MaxResultsPerSource int           // per-source fetch cap, default 25
	JobTimeout          time.Duration // wall-clock budget per job, default 10m
	PendingPageSize     int           // embedding backlog page, default 500
}

// Tracker owns job lifecycle: submission, async pipeline execution, and
// status/paper reads. One Tracker serves all jobs; each job runs in its
// own goroutine against a context detached from the submitting request.
type Tracker struct {
	jobs    JobStore
	papers  PaperLister
	storage Storage
	fetcher Fetcher
	chunker Chunker
	embed   EmbedRunner
	parser  QueryParser
	cfg     Config
	logger  *zap.Logger

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewTracker wires the pipeline. baseCtx bounds every job's lifetime;
// cancel it on shutdown and Wait for in-flight jobs to finish persisting.
func NewTracker(
	baseCtx context.Context,
	jobs JobStore,
	papers PaperLister,
	storage Storage,
	fetcher Fetcher,
	chunker Chunker,
	embed EmbedRunner,
	parser QueryParser,
	cfg Config,
	logger *zap.Logger,
) *Tracker {
	if cfg.MaxResultsPerSource <= 0 {
		cfg.MaxResultsPerSource = 25
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.PendingPageSize <= 0 {
		cfg.PendingPageSize = 500
	}
	if parser == nil {
		parser = HeuristicParser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		jobs:    jobs,
		papers:  papers,
		storage: storage,
		fetcher: fetcher,
		chunker: chunker,
		embed:   embed,
		parser:  parser,
		cfg:     cfg,
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Wait blocks until every running job goroutine has exited.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Submit validates the request, persists a queued job, and starts the
// pipeline asynchronously. The call itself never touches external APIs.
func (t *Tracker) Submit(ctx context.Context, query string, sourceNames []string, maxPerSource int) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("empty query: %w", domain.ErrInvalidQuery)
	}

	sources, err := t.resolveSources(sourceNames)
	if err != nil {
		return "", err
	}
	if maxPerSource <= 0 || maxPerSource > t.cfg.MaxResultsPerSource {
		maxPerSource = t.cfg.MaxResultsPerSource
	}

	job := &domain.IngestJob{
		ID:               uuid.NewString(),
		Query:            query,
		SourcesRequested: sources,
		Status:           domain.StatusQueued,
		StageDetail:      domain.NewStageDetail(sources),
		CreatedAt:        time.Now().UTC(),
	}
	if err := t.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(job, maxPerSource)
	}()

	t.logger.Info("ingest job submitted",
		zap.String("job_id", job.ID),
		zap.String("query", query),
		zap.Int("sources", len(sources)))
	return job.ID, nil
}

// GetStatus returns the job with its current stage counters.
func (t *Tracker) GetStatus(ctx context.Context, jobID string) (domain.IngestJob, error) {
	return t.jobs.Get(ctx, jobID)
}

// GetPapers pages through a job's stored papers. Valid as soon as the
// storing stage has persisted anything; earlier it returns an empty page.
func (t *Tracker) GetPapers(ctx context.Context, jobID string, limit, offset int) ([]domain.Paper, int, error) {
	if _, err := t.jobs.Get(ctx, jobID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return t.papers.ListByJob(ctx, jobID, limit, offset)
}

func (t *Tracker) resolveSources(names []string) ([]domain.Source, error) {
	if len(names) == 0 {
		return t.fetcher.Sources(), nil
	}
	sources := make([]domain.Source, 0, len(names))
	seen := make(map[domain.Source]bool, len(names))
	for _, name := range names {
		s, ok := domain.ParseSource(name)
		if !ok {
			return nil, fmt.Errorf("source %q: %w", name, domain.ErrUnknownSource)
		}
		if !seen[s] {
			seen[s] = true
			sources = append(sources, s)
		}
	}
	return sources, nil
}

// run executes the pipeline for one job. Errors past this point are
// recorded on the job, never returned: the submitter is long gone.
func (t *Tracker) run(job *domain.IngestJob, maxPerSource int) {
	ctx, cancel := context.WithTimeout(t.baseCtx, t.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	log := t.logger.With(zap.String("job_id", job.ID))

	if err := t.pipeline(ctx, job, maxPerSource, log); err != nil {
		t.fail(job, err, start, log)
		return
	}

	now := time.Now().UTC()
	job.Status = domain.StatusCompleted
	job.CompletedAt = &now
	job.ProcessingTimeMS = time.Since(start).Milliseconds()
	t.persist(job, log)

	metrics.JobsTotal.WithLabelValues(string(domain.StatusCompleted)).Inc()
	metrics.JobDuration.Observe(time.Since(start).Seconds())
	log.Info("ingest job completed",
		zap.Int("papers_stored", job.StageDetail.PapersStored),
		zap.Int("chunks_created", job.StageDetail.ChunksCreated),
		zap.Int("embeddings_done", job.StageDetail.EmbeddingsDone),
		zap.Duration("took", time.Since(start)))
}

func (t *Tracker) pipeline(ctx context.Context, job *domain.IngestJob, maxPerSource int, log *zap.Logger) error {
	// Parsing.
	t.advance(job, domain.StatusParsing, log)
	terms, err := t.parser.Parse(ctx, job.Query)
	if err != nil || len(terms) == 0 {
		terms = []string{job.Query}
	}
	job.SearchQueries = terms
	t.persist(job, log)

	searchQuery := strings.Join(terms, " ")

	// Fetching. Candidates stream in per source; dedup, storing, and
	// chunking proceed as each batch lands, so the reported status can
	// move ahead while a slow source is still in flight.
	t.advance(job, domain.StatusFetching, log)
	results, err := t.fetcher.Fetch(ctx, searchQuery, job.SourcesRequested, maxPerSource)
	if err != nil {
		return err
	}
	for s := range job.StageDetail.Sources {
		job.StageDetail.Sources[s] = domain.SourceRunning
	}
	t.persist(job, log)

	if err := t.consume(ctx, job, results, log); err != nil {
		return err
	}

	// All sources failed: nothing downstream can produce an answer.
	if t.allSourcesDegraded(job) {
		return t.aggregateSourceErrors(job)
	}

	// Embedding. Chunks were persisted during consume; drain the backlog.
	t.advance(job, domain.StatusEmbedding, log)
	return t.drainEmbeddings(ctx, job, log)
}

// consume merges streamed candidates into canonical papers and persists
// each new paper with its chunks. Duplicates that enrich a canonical
// paper push the merged fields back to the stored row; chunkless tracks
// papers stored this job without chunks, which become chunkable when a
// later duplicate supplies the abstract.
func (t *Tracker) consume(ctx context.Context, job *domain.IngestJob, results <-chan literature.Result, log *zap.Logger) error {
	index := dedup.NewIndex()
	chunkless := make(map[string]bool)

	for res := range results {
		if res.Err != nil {
			job.StageDetail.Sources[res.Source] = domain.SourceDegraded
			if job.StageDetail.SourceErrors == nil {
				job.StageDetail.SourceErrors = make(map[domain.Source]string)
			}
			job.StageDetail.SourceErrors[res.Source] = res.Err.Error()
			t.persist(job, log)
			continue
		}

		job.StageDetail.Sources[res.Source] = domain.SourceCompleted
		job.StageDetail.FoundPerSource[res.Source] += len(res.Papers)

		for i := range res.Papers {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrJobTimeout, err)
			}
			merged := index.Merge(res.Papers[i])
			if !merged.IsNew {
				job.StageDetail.DuplicatesRemoved++
				if merged.Enriched {
					if err := t.refreshPaper(ctx, job, merged, chunkless, log); err != nil {
						return err
					}
				}
				continue
			}
			job.StageDetail.UniquePapers++

			if err := t.storePaper(ctx, job, merged.Accepted, chunkless, log); err != nil {
				return err
			}
		}
		t.persist(job, log)
	}
	return nil
}

func (t *Tracker) storePaper(ctx context.Context, job *domain.IngestJob, paper *domain.Paper, chunkless map[string]bool, log *zap.Logger) error {
	t.advance(job, domain.StatusStoring, log)

	paper.IngestJobID = job.ID
	chunks := t.chunker.Chunk(paper)
	if len(chunks) > 0 {
		t.advance(job, domain.StatusChunking, log)
	}

	inserted, err := t.storage.StorePaperWithChunks(ctx, paper, chunks)
	if err != nil {
		return fmt.Errorf("store paper %q: %w", paper.Title, err)
	}

	job.StageDetail.PapersStored++
	metrics.PapersStoredTotal.Inc()
	if !inserted {
		// Known from an earlier job; its chunks and vectors are reused.
		return nil
	}
	if len(chunks) == 0 {
		job.StageDetail.SkippedChunking++
		chunkless[paper.ID] = true
		return nil
	}
	job.StageDetail.ChunksCreated += len(chunks)
	job.StageDetail.EmbeddingsTotal += len(chunks)
	return nil
}

// refreshPaper pushes a duplicate's enrichment to the stored row. When
// the duplicate filled in the abstract of a paper this job stored without
// chunks, the paper is chunked now and leaves the skipped count.
func (t *Tracker) refreshPaper(ctx context.Context, job *domain.IngestJob, merged dedup.Result, chunkless map[string]bool, log *zap.Logger) error {
	paper := merged.Accepted

	var chunks []domain.Chunk
	if merged.AbstractFilled && chunkless[paper.ID] {
		chunks = t.chunker.Chunk(paper)
	}

	if err := t.storage.RefreshPaper(ctx, paper, chunks); err != nil {
		return fmt.Errorf("refresh paper %q: %w", paper.Title, err)
	}

	if len(chunks) == 0 {
		return nil
	}
	t.advance(job, domain.StatusChunking, log)
	delete(chunkless, paper.ID)
	job.StageDetail.SkippedChunking--
	job.StageDetail.ChunksCreated += len(chunks)
	job.StageDetail.EmbeddingsTotal += len(chunks)
	log.Debug("duplicate filled abstract, paper chunked",
		zap.String("paper_id", paper.ID),
		zap.Int("chunks", len(chunks)))
	return nil
}

// drainEmbeddings pages through the pending backlog until nothing is left.
// Each pass either embeds or permanently fails every chunk it reads, so
// the loop always terminates.
func (t *Tracker) drainEmbeddings(ctx context.Context, job *domain.IngestJob, log *zap.Logger) error {
	done := job.StageDetail.EmbeddingsDone
	failed := job.StageDetail.EmbeddingsFailed

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrJobTimeout, err)
		}
		pending, err := t.storage.ListPending(ctx, job.ID, t.cfg.PendingPageSize)
		if err != nil {
			return fmt.Errorf("list pending chunks: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		base, baseFailed := done, failed
		stats, err := t.embed.EmbedBatch(ctx, pending, func(d, f int) {
			// Counters only ever grow; clamp against the persisted value
			// so concurrent batch completions can never move them back.
			if base+d > job.StageDetail.EmbeddingsDone {
				job.StageDetail.EmbeddingsDone = base + d
			}
			if baseFailed+f > job.StageDetail.EmbeddingsFailed {
				job.StageDetail.EmbeddingsFailed = baseFailed + f
			}
			t.persist(job, log)
		})
		if err != nil {
			return fmt.Errorf("embed pending chunks: %w", err)
		}
		done += stats.Embedded
		failed += stats.Failed
	}
}

func (t *Tracker) allSourcesDegraded(job *domain.IngestJob) bool {
	for _, state := range job.StageDetail.Sources {
		if state != domain.SourceDegraded {
			return false
		}
	}
	return len(job.StageDetail.Sources) > 0
}

func (t *Tracker) aggregateSourceErrors(job *domain.IngestJob) error {
	parts := make([]string, 0, len(job.StageDetail.SourceErrors))
	for _, s := range job.SourcesRequested {
		if msg, ok := job.StageDetail.SourceErrors[s]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", s, msg))
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrAllSourcesFailed, strings.Join(parts, "; "))
}

// advance moves the reported status forward, ignoring attempts to move to
// a stage the job is already at or past.
func (t *Tracker) advance(job *domain.IngestJob, next domain.Status, log *zap.Logger) {
	if job.Status == next || !job.Status.CanTransition(next) {
		return
	}
	job.Status = next
	t.persist(job, log)
	log.Debug("job stage advanced", zap.String("status", string(next)))
}

func (t *Tracker) fail(job *domain.IngestJob, cause error, start time.Time, log *zap.Logger) {
	now := time.Now().UTC()
	job.Status = domain.StatusFailed
	job.Error = &domain.JobError{Code: errorCode(cause), Message: cause.Error()}
	job.CompletedAt = &now
	job.ProcessingTimeMS = time.Since(start).Milliseconds()
	t.persist(job, log)

	metrics.JobsTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	log.Error("ingest job failed", zap.Error(cause))
}

// persist writes the job snapshot, logging rather than failing the
// pipeline on a transient write error; the next persist retries anyway.
func (t *Tracker) persist(job *domain.IngestJob, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.jobs.Update(ctx, job); err != nil {
		log.Warn("persist job state", zap.Error(err))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrAllSourcesFailed):
		return "all_sources_failed"
	case errors.Is(err, domain.ErrJobTimeout):
		return "job_timeout"
	case errors.Is(err, domain.ErrEmbeddingProviderError):
		return "embedding_provider_error"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal_error"
	}
}
