package domain

import "errors"

var (
	// ErrInvalidQuery signals an empty or malformed ingest query.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrJobNotFound signals a missing ingest job.
	ErrJobNotFound = errors.New("ingest job not found")
	// ErrPaperNotFound signals a missing paper.
	ErrPaperNotFound = errors.New("paper not found")
	// ErrUnknownSource signals an unrecognized literature source name.
	ErrUnknownSource = errors.New("unknown literature source")
	// ErrSourceUnavailable signals that a literature source failed after retries.
	ErrSourceUnavailable = errors.New("literature source unavailable")
	// ErrAllSourcesFailed signals that every requested source failed.
	ErrAllSourcesFailed = errors.New("all literature sources failed")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrSynthesisProviderError signals a synthesis provider failure.
	ErrSynthesisProviderError = errors.New("synthesis provider error")
	// ErrStorageUnavailable signals that the paper store cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrJobTimeout signals that a job exceeded its wall-clock budget.
	ErrJobTimeout = errors.New("ingest job timed out")
	// ErrIllegalTransition signals an attempt to move a job backwards.
	ErrIllegalTransition = errors.New("illegal job status transition")
	// ErrNoEmbeddedChunks signals that retrieval found nothing to search.
	ErrNoEmbeddedChunks = errors.New("no embedded chunks available")
)
