// Package embedding drives chunk vectorization: batching, bounded-
// concurrency submission, whole-batch retry, and per-item poison
// isolation.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/atlas-research/scirag/internal/backoff"
	"github.com/atlas-research/scirag/internal/domain"
)

// Provider request limits. Batches are cut so neither bound is exceeded.
const (
	DefaultMaxItemsPerBatch  = 100
	DefaultMaxTokensPerBatch = 8191
	DefaultConcurrency       = 4
)

// Config bounds batching and concurrency.
type Config struct {
	MaxItemsPerBatch  int
	MaxTokensPerBatch int
	Concurrency       int
	Model             string
	Retry             backoff.Policy
}

// Stats summarizes one EmbedBatch run.
type Stats struct {
	Embedded int // vectors persisted this run
	Failed   int // chunks marked embed_failed this run
	Skipped  int // already embedded or already failed, no provider call
}

// Progress is invoked after each persisted batch so the caller can publish
// incremental counters. done and failed are cumulative within the run.
type Progress func(done, failed int)

// Pipeline embeds chunks through a bounded worker pool.
type Pipeline struct {
	provider Provider
	store    ChunkStore
	pool     *ants.Pool
	cfg      Config
	logger   *zap.Logger
}

// New creates the pipeline and its worker pool.
func New(provider Provider, store ChunkStore, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if cfg.MaxItemsPerBatch <= 0 {
		cfg.MaxItemsPerBatch = DefaultMaxItemsPerBatch
	}
	if cfg.MaxTokensPerBatch <= 0 {
		cfg.MaxTokensPerBatch = DefaultMaxTokensPerBatch
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = backoff.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}

	return &Pipeline{
		provider: provider,
		store:    store,
		pool:     pool,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Release shuts down the worker pool.
func (p *Pipeline) Release() {
	p.pool.Release()
}

// EmbedBatch vectorizes and persists every pending chunk. Already-embedded
// and already-failed chunks are skipped before any provider call, so
// re-running after a restart never duplicates vectors. A chunk that still
// fails after batch and per-item retries is marked failed and excluded
// from retrieval; the run itself only errors when persistence breaks.
func (p *Pipeline) EmbedBatch(ctx context.Context, chunks []domain.Chunk, onProgress Progress) (Stats, error) {
	var stats Stats

	pending := make([]domain.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if ch.Embedded() || ch.EmbedFailed {
			stats.Skipped++
			continue
		}
		pending = append(pending, ch)
	}
	if len(pending) == 0 {
		return stats, nil
	}

	batches := p.cutBatches(pending)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	report := func(embedded, failed int, err error) {
		mu.Lock()
		defer mu.Unlock()
		stats.Embedded += embedded
		stats.Failed += failed
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if onProgress != nil {
			onProgress(stats.Embedded, stats.Failed)
		}
	}

	for _, batch := range batches {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			embedded, failed, err := p.processBatch(ctx, batch)
			report(embedded, failed, err)
		}
		if err := p.pool.Submit(task); err != nil {
			// Pool released mid-run; run the remaining work inline.
			task()
		}
	}
	wg.Wait()

	return stats, firstErr
}

// cutBatches groups chunks so each batch respects both the item and the
// token bound. An oversized single chunk still ships alone; the provider
// will reject it and per-item handling marks it failed.
func (p *Pipeline) cutBatches(chunks []domain.Chunk) [][]domain.Chunk {
	var batches [][]domain.Chunk
	var current []domain.Chunk
	tokens := 0

	for _, ch := range chunks {
		if len(current) > 0 &&
			(len(current) >= p.cfg.MaxItemsPerBatch || tokens+ch.TokenCount > p.cfg.MaxTokensPerBatch) {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}
		current = append(current, ch)
		tokens += ch.TokenCount
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// processBatch embeds one batch: whole-batch retry with backoff first,
// then per-item isolation when the batch keeps failing.
func (p *Pipeline) processBatch(ctx context.Context, batch []domain.Chunk) (embedded, failed int, err error) {
	texts := make([]string, len(batch))
	ids := make([]string, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Text
		ids[i] = ch.ID
	}

	var result domain.BatchEmbeddingResult
	batchErr := backoff.Retry(ctx, "embed_batch", p.cfg.Retry, func() error {
		var err error
		result, err = p.provider.BatchEmbed(ctx, texts)
		return err
	})
	if batchErr == nil {
		if len(result.Embeddings) != len(batch) {
			return 0, 0, fmt.Errorf("embedding count mismatch: %d vs %d: %w",
				len(result.Embeddings), len(batch), domain.ErrEmbeddingProviderError)
		}
		if err := p.store.SetEmbeddings(ctx, p.cfg.Model, ids, result.Embeddings); err != nil {
			return 0, 0, fmt.Errorf("persist embeddings: %w", err)
		}
		return len(batch), 0, nil
	}

	p.logger.Warn("batch embedding failed, isolating items",
		zap.Int("batch_size", len(batch)), zap.Error(batchErr))
	return p.processItems(ctx, batch)
}

// processItems retries each chunk alone so one poison text cannot sink
// its batchmates. Exhausted chunks are marked failed.
func (p *Pipeline) processItems(ctx context.Context, batch []domain.Chunk) (embedded, failed int, err error) {
	var failedIDs []string
	for _, ch := range batch {
		var result domain.EmbeddingResult
		itemErr := backoff.Retry(ctx, "embed_item", p.cfg.Retry, func() error {
			var err error
			result, err = p.provider.Embed(ctx, ch.Text)
			return err
		})
		if itemErr != nil {
			p.logger.Warn("chunk embedding exhausted retries",
				zap.String("chunk_id", ch.ID), zap.Error(itemErr))
			failedIDs = append(failedIDs, ch.ID)
			continue
		}
		if err := p.store.SetEmbeddings(ctx, p.cfg.Model, []string{ch.ID}, [][]float32{result.Embedding}); err != nil {
			return embedded, failed, fmt.Errorf("persist embedding %s: %w", ch.ID, err)
		}
		embedded++
	}

	if len(failedIDs) > 0 {
		if err := p.store.MarkFailed(ctx, failedIDs); err != nil {
			return embedded, failed, fmt.Errorf("mark chunks failed: %w", err)
		}
		failed = len(failedIDs)
	}
	return embedded, failed, nil
}
