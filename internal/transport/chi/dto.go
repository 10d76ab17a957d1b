package chi

import (
	"time"

	"github.com/atlas-research/scirag/internal/domain"
)

type jobResponse struct {
	JobID            string           `json:"job_id"`
	Query            string           `json:"query"`
	SearchQueries    []string         `json:"search_queries,omitempty"`
	Status           string           `json:"status"`
	SourcesRequested []string         `json:"sources_requested"`
	Error            *domain.JobError `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	ProcessingTimeMS int64            `json:"processing_time_ms,omitempty"`
	Progress         progressResponse `json:"progress"`
}

type progressResponse struct {
	CurrentStage string                `json:"current_stage"`
	Stages       map[string]stageState `json:"stages"`
	Papers       paperProgress         `json:"papers"`
	Chunks       chunkProgress         `json:"chunks"`
	Embeddings   embeddingProgress     `json:"embeddings"`
}

type stageState struct {
	Status string `json:"status"`
}

type paperProgress struct {
	OpenAlexFound        int `json:"openalex_found"`
	SemanticScholarFound int `json:"semantic_scholar_found"`
	DuplicatesRemoved    int `json:"duplicates_removed"`
	UniquePapers         int `json:"unique_papers"`
	PapersStored         int `json:"papers_stored"`
}

type chunkProgress struct {
	TotalCreated    int     `json:"total_created"`
	AveragePerPaper float64 `json:"average_per_paper"`
	SkippedChunking int     `json:"skipped_chunking"`
}

type embeddingProgress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Failed    int     `json:"failed"`
}

func jobToResponse(job *domain.IngestJob, now time.Time) jobResponse {
	snap := job.Snapshot(now)

	stages := make(map[string]stageState, len(snap.Stages))
	for st, state := range snap.Stages {
		stages[string(st)] = stageState{Status: string(state)}
	}

	sources := make([]string, len(job.SourcesRequested))
	for i, s := range job.SourcesRequested {
		sources[i] = string(s)
	}

	return jobResponse{
		JobID:            job.ID,
		Query:            job.Query,
		SearchQueries:    job.SearchQueries,
		Status:           string(job.Status),
		SourcesRequested: sources,
		Error:            snap.Error,
		CreatedAt:        job.CreatedAt,
		CompletedAt:      job.CompletedAt,
		ProcessingTimeMS: job.ProcessingTimeMS,
		Progress: progressResponse{
			CurrentStage: string(snap.Status),
			Stages:       stages,
			Papers: paperProgress{
				OpenAlexFound:        snap.FoundPerSource[domain.SourceOpenAlex],
				SemanticScholarFound: snap.FoundPerSource[domain.SourceSemanticScholar],
				DuplicatesRemoved:    snap.DuplicatesRemoved,
				UniquePapers:         snap.UniquePapers,
				PapersStored:         snap.PapersStored,
			},
			Chunks: chunkProgress{
				TotalCreated:    snap.ChunksCreated,
				AveragePerPaper: snap.AveragePerPaper,
				SkippedChunking: snap.SkippedChunking,
			},
			Embeddings: embeddingProgress{
				Completed: snap.EmbeddingsDone,
				Total:     snap.EmbeddingsTotal,
				Percent:   snap.EmbeddingsPercent,
				Failed:    snap.EmbeddingsFailed,
			},
		},
	}
}

type paperResponse struct {
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

type paperListResponse struct {
	Items  []paperResponse `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func paperToResponse(p *domain.Paper) paperResponse {
	return paperResponse{
		PaperID:       p.ID,
		DOI:           p.DOI,
		Title:         p.Title,
		Authors:       p.Authors,
		Year:          p.Year,
		Venue:         p.Venue,
		Abstract:      p.Abstract,
		CitationCount: p.CitationCount,
		SourceOrigin:  string(p.SourceOrigin),
		PDFURL:        p.PDFURL,
		LandingURL:    p.LandingURL,
	}
}

type citationResponse struct {
	CitationID int      `json:"citation_id"`
	PaperID    string   `json:"paper_id"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	Year       int      `json:"year,omitempty"`
}

type answerResponse struct {
	Summary        string             `json:"summary"`
	KeyFindings    []string           `json:"key_findings"`
	Consensus      []string           `json:"consensus"`
	OpenQuestions  []string           `json:"open_questions"`
	Citations      []citationResponse `json:"citations"`
	PapersAnalyzed int                `json:"papers_analyzed"`
}

func answerToResponse(a *domain.Answer) answerResponse {
	citations := make([]citationResponse, len(a.Citations))
	for i, c := range a.Citations {
		citations[i] = citationResponse{
			CitationID: c.CitationID,
			PaperID:    c.PaperID,
			Title:      c.Title,
			Authors:    c.Authors,
			Year:       c.Year,
		}
	}
	resp := answerResponse{
		Summary:        a.Summary,
		KeyFindings:    a.KeyFindings,
		Consensus:      a.Consensus,
		OpenQuestions:  a.OpenQuestions,
		Citations:      citations,
		PapersAnalyzed: a.PapersAnalyzed,
	}
	if resp.KeyFindings == nil {
		resp.KeyFindings = []string{}
	}
	if resp.Consensus == nil {
		resp.Consensus = []string{}
	}
	if resp.OpenQuestions == nil {
		resp.OpenQuestions = []string{}
	}
	return resp
}
