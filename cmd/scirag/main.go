package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-research/scirag/internal/backoff"
	"github.com/atlas-research/scirag/internal/config"
	"github.com/atlas-research/scirag/internal/domain"
	logpkg "github.com/atlas-research/scirag/internal/logger"
	"github.com/atlas-research/scirag/internal/metrics"
	"github.com/atlas-research/scirag/internal/repository/embcache"
	"github.com/atlas-research/scirag/internal/repository/postgres"
	chiTransport "github.com/atlas-research/scirag/internal/transport/chi"
	openaiT "github.com/atlas-research/scirag/internal/transport/openai"
	"github.com/atlas-research/scirag/internal/transport/openalex"
	"github.com/atlas-research/scirag/internal/transport/semanticscholar"
	"github.com/atlas-research/scirag/internal/usecase/chunking"
	embeddinguc "github.com/atlas-research/scirag/internal/usecase/embedding"
	healthuc "github.com/atlas-research/scirag/internal/usecase/health"
	ingestuc "github.com/atlas-research/scirag/internal/usecase/ingest"
	"github.com/atlas-research/scirag/internal/usecase/literature"
	retrievaluc "github.com/atlas-research/scirag/internal/usecase/retrieval"
	synthesisuc "github.com/atlas-research/scirag/internal/usecase/synthesis"
	"github.com/atlas-research/scirag/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting scirag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
	)

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	// Storage
	pg, err := postgres.New(postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifeSec) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer pg.Close()
	logger.Info("Connected to database")

	paperRepo := postgres.NewPaperRepo(pg)
	chunkRepo := postgres.NewChunkRepo(pg)
	jobRepo := postgres.NewJobRepo(pg)
	statsRepo := postgres.NewStatsRepo(pg)
	ingestStore := postgres.NewIngestStore(pg, paperRepo, chunkRepo)

	// Embedder chain. Take the first vectorizer config.
	var vecCfg config.VectorizerConfig
	var provName string
	for _, vc := range cfg.Embedding.Vectorizers {
		vecCfg = vc
		provName = vc.Provider
		break
	}
	provCfg := cfg.Embedding.Providers[provName]

	baseEmbedder := openaiT.NewEmbedder(&openaiT.Config{
		APIKey:   provCfg.APIKey,
		BaseURL:  provCfg.BaseURL,
		Model:    vecCfg.Model,
		Provider: provName,
		Logger:   logger,
	})
	logger.Info("Embedder created",
		zap.String("provider", provName),
		zap.String("model", vecCfg.Model))

	// Optional Redis cache in front of question embeddings. Document chunks
	// bypass it: abstracts repeat rarely, questions repeat often.
	var cacheStore *embcache.Store
	if len(cfg.Cache.Addrs) > 0 {
		cacheStore, err = embcache.NewStore(embcache.StoreConfig{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
			TTL:      time.Duration(cfg.Cache.TTLSec) * time.Second,
		})
		if err != nil {
			logger.Fatal("Failed to connect to cache", zap.Error(err))
		}
		defer cacheStore.Close()
		logger.Info("Query embedding cache enabled", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	// Document side of the chain feeds the embedding pipeline and must keep
	// the batch API; the query side feeds retrieval and needs Embed only.
	var docProvider embeddinguc.Provider = baseEmbedder
	if vecCfg.DocumentInstruction != "" {
		docProvider = domain.NewInstructionEmbedder(baseEmbedder, vecCfg.DocumentInstruction)
	}
	var queryEmbedder domain.Embedder = baseEmbedder
	if cacheStore != nil {
		queryEmbedder = embcache.New(queryEmbedder, cacheStore, vecCfg.Model, metrics.EmbeddingCacheTotal, logger)
	}
	if vecCfg.QueryInstruction != "" {
		queryEmbedder = domain.NewInstructionEmbedder(queryEmbedder, vecCfg.QueryInstruction)
	}

	// Synthesis collaborator, shared by the query parser and /rag/ask.
	synthProvCfg := cfg.Embedding.Providers[cfg.Synthesis.Provider]
	chat := openaiT.NewChatClient(&openaiT.ChatConfig{
		APIKey:      synthProvCfg.APIKey,
		BaseURL:     synthProvCfg.BaseURL,
		Model:       cfg.Synthesis.Model,
		Temperature: 0.3,
		MaxTokens:   cfg.Synthesis.MaxTokens,
		Logger:      logger,
	})

	// Chunking
	codec, err := chunking.NewTiktokenCodec("cl100k_base")
	if err != nil {
		logger.Fatal("Failed to load tokenizer", zap.Error(err))
	}
	chunker := chunking.New(codec, chunking.Config{
		MaxChunkTokens: cfg.Pipeline.MaxChunkTokens,
		OverlapTokens:  cfg.Pipeline.OverlapTokens,
		MinChunkTokens: cfg.Pipeline.MinChunkTokens,
	})

	// Embedding pipeline
	embedPipeline, err := embeddinguc.New(docProvider, chunkRepo, embeddinguc.Config{
		MaxItemsPerBatch:  cfg.Pipeline.EmbedBatchSize,
		MaxTokensPerBatch: cfg.Pipeline.EmbedBatchTokens,
		Concurrency:       cfg.Pipeline.EmbedWorkers,
		Model:             vecCfg.Model,
		Retry:             backoff.DefaultPolicy(),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding pipeline", zap.Error(err))
	}
	defer embedPipeline.Release()

	// Literature sources
	sourceTimeout := time.Duration(cfg.Sources.RequestTimeout) * time.Second
	fetcher := literature.NewAggregator(logger,
		openalex.New(openalex.Config{
			BaseURL:           cfg.Sources.OpenAlex.BaseURL,
			Email:             cfg.Sources.OpenAlex.Email,
			RequestsPerSecond: cfg.Sources.OpenAlex.RequestsPerSecond,
			RequestTimeout:    sourceTimeout,
			RetryAttempts:     cfg.Sources.RetryAttempts,
			Logger:            logger,
		}),
		semanticscholar.New(semanticscholar.Config{
			BaseURL:           cfg.Sources.SemanticScholar.BaseURL,
			APIKey:            cfg.Sources.SemanticScholar.APIKey,
			RequestsPerSecond: cfg.Sources.SemanticScholar.RequestsPerSecond,
			RequestTimeout:    sourceTimeout,
			RetryAttempts:     cfg.Sources.RetryAttempts,
			Logger:            logger,
		}),
	)

	// Ingest tracker. jobCtx outlives HTTP requests; cancelling it on
	// shutdown stops in-flight jobs.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	tracker := ingestuc.NewTracker(
		jobCtx,
		jobRepo,
		paperRepo,
		ingestStore,
		fetcher,
		chunker,
		embedPipeline,
		ingestuc.NewLLMParser(chat, logger),
		ingestuc.Config{
			MaxResultsPerSource: cfg.Pipeline.MaxResultsPerSource,
			JobTimeout:          time.Duration(cfg.Pipeline.JobTimeoutSec) * time.Second,
		},
		logger,
	)

	// Question answering
	retriever := retrievaluc.New(queryEmbedder, chunkRepo, retrievaluc.Config{
		TopK:              cfg.Retrieval.TopK,
		MaxChunksPerPaper: cfg.Retrieval.PerPaperCap,
	}, logger)
	synth := synthesisuc.New(retriever, chat, logger)

	// Health. The nil-interface dance avoids a typed-nil Pinger.
	var cachePinger healthuc.Pinger
	if cacheStore != nil {
		cachePinger = cacheStore
	}
	healthSvc := healthuc.New(pg, baseEmbedder, cachePinger)

	server := chiTransport.NewServer(tracker, synth, statsRepo, healthSvc, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(cfg.Auth.APIKeys),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// HTTP is down; cancel running jobs and wait for them to persist a
	// terminal state before the process exits.
	cancelJobs()
	tracker.Wait()

	logger.Info("Server stopped gracefully")
}
