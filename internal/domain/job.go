package domain

import (
	"fmt"
	"time"
)

// Status is the ingest job lifecycle state. Transitions are one-directional;
// a job never regresses to an earlier stage.
type Status string

const (
	// StatusQueued is the initial state after submission.
	StatusQueued Status = "queued"
	// StatusParsing means the query is being parsed into search terms.
	StatusParsing Status = "parsing"
	// StatusFetching means source clients are running.
	StatusFetching Status = "fetching"
	// StatusStoring means deduplicated papers are being persisted.
	StatusStoring Status = "storing"
	// StatusChunking means abstracts are being split into token windows.
	StatusChunking Status = "chunking"
	// StatusEmbedding means chunk vectors are being generated.
	StatusEmbedding Status = "embedding"
	// StatusCompleted is the successful terminal state.
	StatusCompleted Status = "completed"
	// StatusFailed is the unsuccessful terminal state.
	StatusFailed Status = "failed"
)

// transitions is the closed transition table. Every non-terminal state may
// also move to StatusFailed.
var transitions = map[Status]Status{
	StatusQueued:    StatusParsing,
	StatusParsing:   StatusFetching,
	StatusFetching:  StatusStoring,
	StatusStoring:   StatusChunking,
	StatusChunking:  StatusEmbedding,
	StatusEmbedding: StatusCompleted,
}

// stageRank orders states for monotonicity checks.
var stageRank = map[Status]int{
	StatusQueued:    0,
	StatusParsing:   1,
	StatusFetching:  2,
	StatusStoring:   3,
	StatusChunking:  4,
	StatusEmbedding: 5,
	StatusCompleted: 6,
	StatusFailed:    6,
}

// Terminal reports whether the status ends the job.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	// Skipping forward is allowed (stages overlap in wall-clock time and the
	// reported status tracks the furthest stage any data has reached), but
	// never backwards.
	return stageRank[next] > stageRank[s]
}

// Advance validates and returns the next status.
func (s Status) Advance(next Status) (Status, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return next, nil
}

// Next returns the natural successor in the happy path.
func (s Status) Next() (Status, bool) {
	next, ok := transitions[s]
	return next, ok
}

// JobError is the structured error surfaced to pollers of failed jobs.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IngestJob represents one end-to-end ingestion run for a single query.
type IngestJob struct {
	ID               string
	Query            string
	SearchQueries    []string // parsed terms, set during the parsing stage
	SourcesRequested []Source
	Status           Status
	Error            *JobError
	StageDetail      StageDetail
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	ProcessingTimeMS int64
}

// SourceState describes how far one literature source got.
type SourceState string

const (
	// SourcePending means the source has not been queried yet.
	SourcePending SourceState = "pending"
	// SourceRunning means the source fetch is in flight.
	SourceRunning SourceState = "running"
	// SourceCompleted means the source returned (possibly zero) results.
	SourceCompleted SourceState = "completed"
	// SourceDegraded means the source failed after retries and was excluded.
	SourceDegraded SourceState = "degraded"
)

// StageDetail carries per-stage counters, persisted with the job. All
// counters are cumulative and only ever grow within a job's lifetime,
// except SkippedChunking, which shrinks when a duplicate fills in the
// abstract of a paper previously stored without chunks.
type StageDetail struct {
	Sources           map[Source]SourceState `json:"sources"`
	SourceErrors      map[Source]string      `json:"source_errors,omitempty"`
	FoundPerSource    map[Source]int         `json:"found_per_source"`
	DuplicatesRemoved int                    `json:"duplicates_removed"`
	UniquePapers      int                    `json:"unique_papers"`
	PapersStored      int                    `json:"papers_stored"`
	ChunksCreated     int                    `json:"chunks_created"`
	SkippedChunking   int                    `json:"skipped_chunking"`
	EmbeddingsDone    int                    `json:"embeddings_done"`
	EmbeddingsTotal   int                    `json:"embeddings_total"`
	EmbeddingsFailed  int                    `json:"embeddings_failed"`
}

// NewStageDetail initializes per-source maps for the requested sources.
func NewStageDetail(sources []Source) StageDetail {
	d := StageDetail{
		Sources:        make(map[Source]SourceState, len(sources)),
		FoundPerSource: make(map[Source]int, len(sources)),
	}
	for _, s := range sources {
		d.Sources[s] = SourcePending
		d.FoundPerSource[s] = 0
	}
	return d
}

// ProgressSnapshot is an immutable, monotonically-advancing view of an
// IngestJob at a point in time. Counters never decrease between snapshots
// of the same job.
type ProgressSnapshot struct {
	JobID             string
	Status            Status
	Stages            map[Status]StageState
	FoundPerSource    map[Source]int
	DuplicatesRemoved int
	UniquePapers      int
	PapersStored      int
	ChunksCreated     int
	AveragePerPaper   float64
	SkippedChunking   int
	EmbeddingsDone    int
	EmbeddingsTotal   int
	EmbeddingsFailed  int
	EmbeddingsPercent float64
	ElapsedMS         int64
	Error             *JobError
}

// StageState is the reported state of one pipeline stage.
type StageState string

const (
	// StagePending means the stage has not started.
	StagePending StageState = "pending"
	// StageInProgress means the stage has started and not finished.
	StageInProgress StageState = "in_progress"
	// StageCompleted means the stage finished.
	StageCompleted StageState = "completed"
)

var snapshotStages = []Status{
	StatusParsing, StatusFetching, StatusStoring, StatusChunking, StatusEmbedding,
}

// Snapshot derives an immutable progress view from the job's persisted state.
func (j *IngestJob) Snapshot(now time.Time) ProgressSnapshot {
	d := j.StageDetail

	stages := make(map[Status]StageState, len(snapshotStages))
	current := stageRank[j.Status]
	for _, st := range snapshotStages {
		switch {
		case stageRank[st] < current || j.Status == StatusCompleted:
			stages[st] = StageCompleted
		case stageRank[st] == current:
			stages[st] = StageInProgress
		default:
			stages[st] = StagePending
		}
	}

	avg := 0.0
	if d.PapersStored > 0 {
		avg = float64(d.ChunksCreated) / float64(d.PapersStored)
	}
	percent := 0.0
	if d.EmbeddingsTotal > 0 {
		percent = float64(d.EmbeddingsDone) / float64(d.EmbeddingsTotal) * 100
	}

	elapsed := now.Sub(j.CreatedAt).Milliseconds()
	if j.CompletedAt != nil {
		elapsed = j.ProcessingTimeMS
	}

	found := make(map[Source]int, len(d.FoundPerSource))
	for k, v := range d.FoundPerSource {
		found[k] = v
	}

	return ProgressSnapshot{
		JobID:             j.ID,
		Status:            j.Status,
		Stages:            stages,
		FoundPerSource:    found,
		DuplicatesRemoved: d.DuplicatesRemoved,
		UniquePapers:      d.UniquePapers,
		PapersStored:      d.PapersStored,
		ChunksCreated:     d.ChunksCreated,
		AveragePerPaper:   avg,
		SkippedChunking:   d.SkippedChunking,
		EmbeddingsDone:    d.EmbeddingsDone,
		EmbeddingsTotal:   d.EmbeddingsTotal,
		EmbeddingsFailed:  d.EmbeddingsFailed,
		EmbeddingsPercent: percent,
		ElapsedMS:         elapsed,
		Error:             j.Error,
	}
}
