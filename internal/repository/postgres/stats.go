package postgres

import (
	"context"
	"fmt"
)

// CorpusStats summarizes what the store currently holds.
type CorpusStats struct {
	Papers         int            `json:"papers"`
	Chunks         int            `json:"chunks"`
	EmbeddedChunks int            `json:"embedded_chunks"`
	FailedChunks   int            `json:"failed_chunks"`
	JobsByStatus   map[string]int `json:"jobs_by_status"`
}

// StatsRepo reads corpus-level aggregates.
type StatsRepo struct {
	c *Client
}

// NewStatsRepo creates a stats repository.
func NewStatsRepo(c *Client) *StatsRepo {
	return &StatsRepo{c: c}
}

// Collect gathers corpus counts in one round trip per table.
func (r *StatsRepo) Collect(ctx context.Context) (CorpusStats, error) {
	stats := CorpusStats{JobsByStatus: make(map[string]int)}

	err := r.c.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers`).Scan(&stats.Papers)
	if err != nil {
		return CorpusStats{}, fmt.Errorf("count papers: %w", err)
	}

	err = r.c.DB.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE embedding IS NOT NULL),
		        COUNT(*) FILTER (WHERE embed_failed)
		 FROM chunks`,
	).Scan(&stats.Chunks, &stats.EmbeddedChunks, &stats.FailedChunks)
	if err != nil {
		return CorpusStats{}, fmt.Errorf("count chunks: %w", err)
	}

	rows, err := r.c.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM ingest_jobs GROUP BY status`)
	if err != nil {
		return CorpusStats{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return CorpusStats{}, fmt.Errorf("scan job count: %w", err)
		}
		stats.JobsByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return CorpusStats{}, fmt.Errorf("iterate job counts: %w", err)
	}
	return stats, nil
}
