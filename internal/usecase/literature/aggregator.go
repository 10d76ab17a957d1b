// Package literature fans an ingest query out to every requested source
// API concurrently and streams normalized paper candidates back as each
// source completes.
package literature

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-research/scirag/internal/domain"
)

// Result is one source's terminal outcome: either a batch of candidates
// or the error that degraded it. A source returning zero papers is a
// success with an empty batch.
type Result struct {
	Source domain.Source
	Papers []domain.Paper
	Err    error
}

// Aggregator runs registered source clients concurrently.
type Aggregator struct {
	clients map[domain.Source]SourceClient
	logger  *zap.Logger
}

// NewAggregator registers the given source clients.
func NewAggregator(logger *zap.Logger, clients ...SourceClient) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := make(map[domain.Source]SourceClient, len(clients))
	for _, c := range clients {
		m[c.Name()] = c
	}
	return &Aggregator{clients: m, logger: logger}
}

// Sources lists the registered source names in canonical order.
func (a *Aggregator) Sources() []domain.Source {
	out := make([]domain.Source, 0, len(a.clients))
	for _, s := range domain.AllSources {
		if _, ok := a.clients[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Fetch queries the requested sources concurrently and streams one Result
// per source as it finishes. A slow or failing source never blocks the
// others; the channel closes once every source has reported. Returns
// ErrUnknownSource before starting anything if a name is not registered.
func (a *Aggregator) Fetch(ctx context.Context, query string, sources []domain.Source, maxPerSource int) (<-chan Result, error) {
	for _, s := range sources {
		if _, ok := a.clients[s]; !ok {
			return nil, fmt.Errorf("source %q: %w", s, domain.ErrUnknownSource)
		}
	}

	results := make(chan Result, len(sources))
	g, ctx := errgroup.WithContext(ctx)

	for _, s := range sources {
		client := a.clients[s]
		g.Go(func() error {
			papers, err := client.Search(ctx, query, maxPerSource)
			if err != nil {
				a.logger.Warn("literature source degraded",
					zap.String("source", string(client.Name())),
					zap.Error(err))
				results <- Result{Source: client.Name(), Err: err}
				return nil // partial failure must not cancel siblings
			}
			a.logger.Debug("literature source completed",
				zap.String("source", string(client.Name())),
				zap.Int("papers", len(papers)))
			results <- Result{Source: client.Name(), Papers: papers}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	return results, nil
}
