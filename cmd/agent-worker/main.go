// Package main runs a single agent worker process. The worker connects to
// the agentdesk gateway over WebSocket, binds to one registered agent, and
// executes pushed tasks with the configured agent implementation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/config"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/worker"
	"github.com/agentdesk/agentdesk/internal/worker/agents"
	"github.com/agentdesk/agentdesk/pkg/client"
)

func main() {
	var (
		configPath = flag.String("config", "", "directory containing config.yaml")
		agentID    = flag.String("agent", "", "agent id to bind to")
		agentName  = flag.String("name", "", "agent name to bind to (alternative to -agent)")
		agentType  = flag.String("type", "", "agent implementation: planner, developer, reviewer")
		serverURL  = flag.String("server", "", "gateway WebSocket URL (overrides config)")
	)
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

	if *agentID == "" && *agentName == "" {
		fmt.Fprintln(os.Stderr, "one of -agent or -name is required")
		flag.Usage()
		os.Exit(2)
	}
	if *agentType == "" {
		fmt.Fprintln(os.Stderr, "-type is required")
		flag.Usage()
		os.Exit(2)
	}

	url := cfg.Worker.ServerURL
	if *serverURL != "" {
		url = *serverURL
	}

	// 3. Build the agent implementation
	llm := agents.NewAnthropicClient(agents.AnthropicConfig{})
	impl, err := agents.New(*agentType, llm, log)
	if err != nil {
		log.Fatal("Failed to build agent implementation", zap.Error(err))
	}

	// 4. Connect and run
	c := client.New(url, log)
	c.SetBackoff(cfg.Worker.ReconnectDelay(), 30*time.Second, cfg.Worker.ReconnectMax)

	runner := worker.NewRunner(c, impl, worker.Config{
		AgentID:      *agentID,
		AgentName:    *agentName,
		DrainTimeout: cfg.Worker.StopGrace(),
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting agent worker",
		zap.String("server", url),
		zap.String("type", *agentType))

	if err := runner.Run(ctx); err != nil {
		log.Error("Worker exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Worker stopped")
}
