package sdk

import "time"

// IngestRequest describes one ingest submission.
type IngestRequest struct {
	Query               string   `json:"query"`
	Sources             []string `json:"sources,omitempty"`
	MaxResultsPerSource int      `json:"max_results_per_source,omitempty"`
}

// Job is the server's view of an ingest job.
type Job struct {
	JobID            string     `json:"job_id"`
	Query            string     `json:"query"`
	SearchQueries    []string   `json:"search_queries,omitempty"`
	Status           string     `json:"status"`
	SourcesRequested []string   `json:"sources_requested"`
	Error            *JobError  `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ProcessingTimeMS int64      `json:"processing_time_ms,omitempty"`
	Progress         Progress   `json:"progress"`
}

// JobError describes why a job failed.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Progress carries the per-stage counters of a running or finished job.
type Progress struct {
	CurrentStage string                `json:"current_stage"`
	Stages       map[string]StageState `json:"stages"`
	Papers       PaperProgress         `json:"papers"`
	Chunks       ChunkProgress         `json:"chunks"`
	Embeddings   EmbeddingProgress     `json:"embeddings"`
}

// StageState is the reported state of one pipeline stage.
type StageState struct {
	Status string `json:"status"`
}

// PaperProgress counts fetch and dedup outcomes.
type PaperProgress struct {
	OpenAlexFound        int `json:"openalex_found"`
	SemanticScholarFound int `json:"semantic_scholar_found"`
	DuplicatesRemoved    int `json:"duplicates_removed"`
	UniquePapers         int `json:"unique_papers"`
	PapersStored         int `json:"papers_stored"`
}

// ChunkProgress counts chunking outcomes.
type ChunkProgress struct {
	TotalCreated    int     `json:"total_created"`
	AveragePerPaper float64 `json:"average_per_paper"`
	SkippedChunking int     `json:"skipped_chunking"`
}

// EmbeddingProgress counts embedding outcomes.
type EmbeddingProgress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Failed    int     `json:"failed"`
}

// Paper is one stored literature record.
type Paper struct {
	PaperID       string   `json:"paper_id"`
	DOI           string   `json:"doi,omitempty"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Year          int      `json:"year,omitempty"`
	Venue         string   `json:"venue,omitempty"`
	Abstract      string   `json:"abstract,omitempty"`
	CitationCount int      `json:"citation_count"`
	SourceOrigin  string   `json:"source_origin"`
	PDFURL        string   `json:"pdf_url,omitempty"`
	LandingURL    string   `json:"landing_url,omitempty"`
}

// PaperList is one page of a job's papers.
type PaperList struct {
	Items  []Paper `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Citation maps an answer's [N] markers to source papers.
type Citation struct {
	CitationID int      `json:"citation_id"`
	PaperID    string   `json:"paper_id"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	Year       int      `json:"year,omitempty"`
}

// Answer is a structured synthesis result.
type Answer struct {
	Summary        string     `json:"summary"`
	KeyFindings    []string   `json:"key_findings"`
	Consensus      []string   `json:"consensus"`
	OpenQuestions  []string   `json:"open_questions"`
	Citations      []Citation `json:"citations"`
	PapersAnalyzed int        `json:"papers_analyzed"`
}

// Stats summarizes what the corpus currently holds.
type Stats struct {
	Papers         int            `json:"papers"`
	Chunks         int            `json:"chunks"`
	EmbeddedChunks int            `json:"embedded_chunks"`
	FailedChunks   int            `json:"failed_chunks"`
	JobsByStatus   map[string]int `json:"jobs_by_status"`
}
