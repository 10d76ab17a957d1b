package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/atlas-research/scirag/internal/domain"
)

// JobRepo implements ingest job persistence.
type JobRepo struct {
	c *Client
}

// NewJobRepo creates an ingest job repository.
func NewJobRepo(c *Client) *JobRepo {
	return &JobRepo{c: c}
}

// Create inserts a freshly queued job.
func (r *JobRepo) Create(ctx context.Context, job *domain.IngestJob) error {
	stageDetail, err := json.Marshal(job.StageDetail)
	if err != nil {
		return fmt.Errorf("marshal stage detail: %w", err)
	}
	sources := make([]string, len(job.SourcesRequested))
	for i, s := range job.SourcesRequested {
		sources[i] = string(s)
	}

	_, err = r.c.DB.ExecContext(ctx,
		`INSERT INTO ingest_jobs (id, query, search_queries, sources_requested, status, stage_detail, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		job.ID, job.Query, pq.Array(job.SearchQueries), pq.Array(sources), string(job.Status), stageDetail, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// Update persists the job's mutable fields: status, parsed search queries,
// error, stage counters, and completion timing.
func (r *JobRepo) Update(ctx context.Context, job *domain.IngestJob) error {
	stageDetail, err := json.Marshal(job.StageDetail)
	if err != nil {
		return fmt.Errorf("marshal stage detail: %w", err)
	}
	var jobErr []byte
	if job.Error != nil {
		if jobErr, err = json.Marshal(job.Error); err != nil {
			return fmt.Errorf("marshal job error: %w", err)
		}
	}

	job.UpdatedAt = time.Now().UTC()
	res, err := r.c.DB.ExecContext(ctx,
		`UPDATE ingest_jobs
		 SET status = $2, search_queries = $3, error = $4, stage_detail = $5,
		     updated_at = $6, completed_at = $7, processing_time_ms = $8
		 WHERE id = $1`,
		job.ID, string(job.Status), pq.Array(job.SearchQueries), nullBytes(jobErr),
		stageDetail, job.UpdatedAt, nullTime(job.CompletedAt), nullInt64(job.ProcessingTimeMS))
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: rows affected: %w", job.ID, err)
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Get returns one job by ID.
func (r *JobRepo) Get(ctx context.Context, id string) (domain.IngestJob, error) {
	var (
		job           domain.IngestJob
		searchQueries pq.StringArray
		sources       pq.StringArray
		status        string
		jobErr        []byte
		stageDetail   []byte
		completedAt   sql.NullTime
		processing    sql.NullInt64
	)
	err := r.c.DB.QueryRowContext(ctx,
		`SELECT id, query, search_queries, sources_requested, status, error, stage_detail,
		        created_at, updated_at, completed_at, processing_time_ms
		 FROM ingest_jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.Query, &searchQueries, &sources, &status, &jobErr, &stageDetail,
		&job.CreatedAt, &job.UpdatedAt, &completedAt, &processing)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IngestJob{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.IngestJob{}, fmt.Errorf("get job %s: %w", id, err)
	}

	job.Status = domain.Status(status)
	job.SearchQueries = []string(searchQueries)
	job.SourcesRequested = make([]domain.Source, len(sources))
	for i, s := range sources {
		job.SourcesRequested[i] = domain.Source(s)
	}
	if len(jobErr) > 0 {
		job.Error = &domain.JobError{}
		if err := json.Unmarshal(jobErr, job.Error); err != nil {
			return domain.IngestJob{}, fmt.Errorf("unmarshal job error: %w", err)
		}
	}
	if len(stageDetail) > 0 {
		if err := json.Unmarshal(stageDetail, &job.StageDetail); err != nil {
			return domain.IngestJob{}, fmt.Errorf("unmarshal stage detail: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	job.ProcessingTimeMS = processing.Int64
	return job, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
