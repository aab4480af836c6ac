// Package main is the unified entry point for agentdesk.
// One binary runs the broker, task queue, state tracker, streaming comment
// engine, indexing worker, and the WebSocket gateway on shared infrastructure.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	agentrepo "github.com/agentdesk/agentdesk/internal/agent/repository"
	agentsvc "github.com/agentdesk/agentdesk/internal/agent/service"
	"github.com/agentdesk/agentdesk/internal/ci"
	"github.com/agentdesk/agentdesk/internal/common/config"
	"github.com/agentdesk/agentdesk/internal/common/httpmw"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/common/tracing"
	"github.com/agentdesk/agentdesk/internal/db"
	"github.com/agentdesk/agentdesk/internal/dispatch"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/gateway/handlers"
	"github.com/agentdesk/agentdesk/internal/gateway/websocket"
	"github.com/agentdesk/agentdesk/internal/indexing"
	ticketrepo "github.com/agentdesk/agentdesk/internal/ticket/repository"
	ticketsvc "github.com/agentdesk/agentdesk/internal/ticket/service"
	"github.com/agentdesk/agentdesk/internal/tracker"
	"github.com/agentdesk/agentdesk/pkg/wire"
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

	log.Info("Starting agentdesk (unified mode)...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()
	eventBus := provided.Bus

	// 5. Open the relational store
	pool, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err),
			zap.String("driver", cfg.Database.Driver))
	}
	defer pool.Close()
	log.Info("Database ready", zap.String("driver", cfg.Database.Driver))

	// ============================================
	// AGENT REGISTRY
	// ============================================
	agentRepo, err := agentrepo.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize agent repository", zap.Error(err))
	}
	agentService := agentsvc.NewService(agentRepo, eventBus, log)

	if cfg.Agents.SeedPath != "" {
		if err := agentService.SeedFromFile(ctx, cfg.Agents.SeedPath); err != nil {
			log.Warn("Agent seeding skipped", zap.Error(err),
				zap.String("path", cfg.Agents.SeedPath))
		}
	}

	// ============================================
	// INDEXING ENGINE (optional)
	// ============================================
	ticketStore, err := ticketrepo.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize ticket repository", zap.Error(err))
	}

	var (
		ticketIndexer ticketsvc.Indexer
		indexQueue    *indexing.Queue
		indexRepo     indexing.Repository
		indexWorker   *indexing.Worker
		searchService *indexing.SearchService
	)
	if cfg.Indexing.Enabled {
		log.Info("Initializing indexing engine...",
			zap.String("vector_dir", cfg.Indexing.VectorDir))

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
		indexRepo, err = indexing.NewRepository(pool)
		if err != nil {
			log.Fatal("Failed to initialize indexing repository", zap.Error(err))
		}

		source := indexing.NewStoreSource(ticketStore, cfg.Indexing.ReposRoot, cfg.Indexing.DocsRoot)
		indexQueue = indexing.NewQueue(indexRepo, vectors, log)
		ticketIndexer = indexQueue
		searchService = indexing.NewSearchService(vectors, log)

		indexWorker = indexing.NewWorker(indexRepo, vectors, embedder, source,
			counter, cfg.Indexing.Chunk.MaxTokens, cfg.Indexing.Chunk.OverlapTokens,
			cfg.Indexing.PollIntervalDuration(), cfg.Indexing.BatchSize, log)
		if err := indexWorker.Start(ctx); err != nil {
			log.Fatal("Failed to start indexing worker", zap.Error(err))
		}
	} else {
		log.Info("Indexing disabled")
	}

	// ============================================
	// TICKET SERVICE
	// ============================================
	ticketService := ticketsvc.NewService(ticketStore, eventBus, ticketIndexer, log)

	streamer := ticketsvc.NewStreamer(ticketService, cfg.Streaming.FlushInterval(), log)
	streamer.Start()
	defer streamer.Stop()

	sweeper := ticketsvc.NewSweeper(ticketService,
		cfg.Streaming.SweepIntervalDuration(), cfg.Streaming.SweepAfterDuration(), log)
	sweeper.Start()
	defer sweeper.Stop()

	// ============================================
	// DISPATCH: TASK QUEUE + BROKER
	// ============================================
	dispatchRepo, err := dispatch.NewRepository(pool)
	if err != nil {
		log.Fatal("Failed to initialize dispatch repository", zap.Error(err))
	}
	queue := dispatch.NewQueue(dispatchRepo, eventBus, log)

	broker := dispatch.NewBroker(queue, agentService, eventBus,
		cfg.Dispatch.DedupWindowDuration(), log)
	if err := broker.Start(); err != nil {
		log.Fatal("Failed to start broker", zap.Error(err))
	}
	defer broker.Stop()

	// ============================================
	// STATE TRACKER
	// ============================================
	stateTracker := tracker.New(eventBus, queue,
		cfg.Tracker.Debounce(), cfg.Tracker.Throttle(), log)
	if err := stateTracker.Start(); err != nil {
		log.Fatal("Failed to start state tracker", zap.Error(err))
	}
	defer stateTracker.Stop()

	// ============================================
	// CI WRAPPER (optional)
	// ============================================
	var ciService *ci.Service
	if cfg.CI.RunnerURL != "" {
		ciService, err = ci.NewService(pool, ci.NewHTTPRunner(cfg.CI.RunnerURL), eventBus, log)
		if err != nil {
			log.Fatal("Failed to initialize CI service", zap.Error(err))
		}
		log.Info("CI wrapper enabled", zap.String("runner_url", cfg.CI.RunnerURL))
	} else {
		log.Info("CI wrapper disabled (no runner URL)")
	}

	// ============================================
	// GATEWAY: ROUTER + HUB + HTTP
	// ============================================
	router := wire.NewRouter()
	handlers.New(agentService, ticketService, streamer, queue, broker,
		stateTracker, ciService, searchService, log).Register(router)
	if indexQueue != nil {
		handlers.NewIndexing(indexQueue, indexRepo).Register(router)
	}

	hub := websocket.NewHub(eventBus, router, log)
	hub.SetPresenceListener(stateTracker)
	go hub.Run(ctx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpmw.RequestLogger(log, "agentdesk"))
	engine.Use(httpmw.OtelTracing("agentdesk"))

	wsHandler := websocket.NewHandler(hub, log)
	engine.GET("/ws", wsHandler.HandleConnection)
	engine.GET("/ws/echo", wsHandler.HandleEcho)

	// HTTP mirror: every /api route dispatches through the same frame router.
	handlers.NewREST(router, log).Mount(engine)

	engine.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "ok"
		if err := pool.Reader().PingContext(c.Request.Context()); err != nil {
			dbStatus = "down"
			status = http.StatusServiceUnavailable
		}
		body := gin.H{
			"status":   "ok",
			"service":  "agentdesk",
			"database": dbStatus,
			"bus":      eventBus.IsConnected(),
		}
		if indexWorker != nil {
			body["indexing_last_poll"] = indexWorker.LastPoll()
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Server listening",
			zap.String("addr", server.Addr),
			zap.String("websocket", "/ws"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agentdesk...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if indexWorker != nil {
		indexWorker.Stop()
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("agentdesk stopped")
}
