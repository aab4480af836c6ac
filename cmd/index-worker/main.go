// Package main runs the indexing worker as a standalone process. Useful when
// the server runs with indexing.enabled=false and the corpus is drained out
// of band, sharing the same database and vector directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/config"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/db"
	"github.com/agentdesk/agentdesk/internal/indexing"
	ticketrepo "github.com/agentdesk/agentdesk/internal/ticket/repository"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting indexing worker...",
		zap.String("vector_dir", cfg.Indexing.VectorDir))

	// 3. Open the shared database
	pool, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer pool.Close()

	// 4. Build the indexing stack
	counter, err := indexing.NewTokenCounter()
	if err != nil {
		log.Fatal("Failed to initialize token counter", zap.Error(err))
	}
	embedder, err := indexing.NewEmbedder(cfg.Indexing.Embedding)
	if err != nil {
		log.Fatal("Failed to initialize embedder", zap.Error(err))
	}
	vectors, err := indexing.NewChromemStore(cfg.Indexing.VectorDir, embedder)
	if err != nil {
		log.Fatal("Failed to open vector store", zap.Error(err))
	}
	repo, err := indexing.NewRepository(pool)
	if err != nil {
		log.Fatal("Failed to initialize indexing repository", zap.Error(err))
	}
	ticketStore, err := ticketrepo.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize ticket repository", zap.Error(err))
	}
	source := indexing.NewStoreSource(ticketStore, cfg.Indexing.ReposRoot, cfg.Indexing.DocsRoot)

	worker := indexing.NewWorker(repo, vectors, embedder, source,
		counter, cfg.Indexing.Chunk.MaxTokens, cfg.Indexing.Chunk.OverlapTokens,
		cfg.Indexing.PollIntervalDuration(), cfg.Indexing.BatchSize, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Start(ctx); err != nil {
		log.Fatal("Failed to start indexing worker", zap.Error(err))
	}

	<-ctx.Done()
	log.Info("Shutting down indexing worker...")
	worker.Stop()
	log.Info("Indexing worker stopped")
}
