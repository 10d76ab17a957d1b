package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStatusTransitions_HappyPath(t *testing.T) {
	order := []Status{
		StatusQueued, StatusParsing, StatusFetching,
		StatusStoring, StatusChunking, StatusEmbedding, StatusCompleted,
	}
	for i := 0; i < len(order)-1; i++ {
		next, err := order[i].Advance(order[i+1])
		if err != nil {
			t.Fatalf("%s -> %s: unexpected error: %v", order[i], order[i+1], err)
		}
		if next != order[i+1] {
			t.Fatalf("%s -> %s: got %s", order[i], order[i+1], next)
		}
	}
}

func TestStatusTransitions_NoRegression(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusCompleted, StatusFetching},
		{StatusEmbedding, StatusChunking},
		{StatusStoring, StatusParsing},
		{StatusFailed, StatusQueued},
		{StatusCompleted, StatusFailed},
	}
	for _, c := range cases {
		if _, err := c.from.Advance(c.to); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("%s -> %s: expected ErrIllegalTransition, got %v", c.from, c.to, err)
		}
	}
}

func TestStatusTransitions_AnyActiveStateMayFail(t *testing.T) {
	for _, s := range []Status{StatusQueued, StatusParsing, StatusFetching, StatusStoring, StatusChunking, StatusEmbedding} {
		if !s.CanTransition(StatusFailed) {
			t.Errorf("%s should be able to fail", s)
		}
	}
}

func TestStatusTransitions_SkipForwardAllowed(t *testing.T) {
	// Stages overlap; the reported status tracks the furthest stage reached.
	if !StatusFetching.CanTransition(StatusChunking) {
		t.Error("fetching -> chunking should be allowed")
	}
}

func TestSnapshot_Counters(t *testing.T) {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	job := &IngestJob{
		ID:        "job-1",
		Status:    StatusEmbedding,
		CreatedAt: created,
		StageDetail: StageDetail{
			FoundPerSource:  map[Source]int{SourceOpenAlex: 10, SourceSemanticScholar: 8},
			UniquePapers:    15,
			PapersStored:    15,
			ChunksCreated:   30,
			EmbeddingsDone:  12,
			EmbeddingsTotal: 30,
		},
	}

	snap := job.Snapshot(created.Add(5 * time.Second))

	if snap.EmbeddingsPercent != 40 {
		t.Errorf("expected 40%%, got %v", snap.EmbeddingsPercent)
	}
	if snap.AveragePerPaper != 2 {
		t.Errorf("expected 2 chunks/paper, got %v", snap.AveragePerPaper)
	}
	if snap.ElapsedMS != 5000 {
		t.Errorf("expected 5000ms elapsed, got %d", snap.ElapsedMS)
	}
	if snap.Stages[StatusFetching] != StageCompleted {
		t.Errorf("fetching should be completed, got %s", snap.Stages[StatusFetching])
	}
	if snap.Stages[StatusEmbedding] != StageInProgress {
		t.Errorf("embedding should be in progress, got %s", snap.Stages[StatusEmbedding])
	}
}

func TestSnapshot_CompletedMarksAllStages(t *testing.T) {
	done := time.Date(2025, 6, 1, 10, 0, 30, 0, time.UTC)
	job := &IngestJob{
		ID:               "job-2",
		Status:           StatusCompleted,
		CreatedAt:        done.Add(-30 * time.Second),
		CompletedAt:      &done,
		ProcessingTimeMS: 30000,
		StageDetail:      NewStageDetail(AllSources),
	}

	snap := job.Snapshot(done.Add(time.Hour))

	for stage, state := range snap.Stages {
		if state != StageCompleted {
			t.Errorf("stage %s should be completed, got %s", stage, state)
		}
	}
	if snap.ElapsedMS != 30000 {
		t.Errorf("elapsed should freeze at completion, got %d", snap.ElapsedMS)
	}
}

func TestSnapshot_ZeroTotalsYieldZeroPercent(t *testing.T) {
	job := &IngestJob{ID: "job-3", Status: StatusFetching, CreatedAt: time.Now(), StageDetail: NewStageDetail(AllSources)}
	snap := job.Snapshot(time.Now())

	if snap.EmbeddingsPercent != 0 || snap.AveragePerPaper != 0 {
		t.Errorf("expected zeroed ratios, got percent=%v avg=%v", snap.EmbeddingsPercent, snap.AveragePerPaper)
	}
}
