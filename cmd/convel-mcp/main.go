// Package main provides the convel MCP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbakker/convel-go/internal/config"
	"github.com/mbakker/convel-go/internal/conv"
	"github.com/mbakker/convel-go/internal/ed"
	"github.com/mbakker/convel-go/internal/kb"
	"github.com/mbakker/convel-go/internal/llm"
	"github.com/mbakker/convel-go/internal/md"
	"github.com/mbakker/convel-go/internal/mcpserver"
	"github.com/mbakker/convel-go/internal/pe"
	"github.com/mbakker/convel-go/internal/tools"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger: stdio carries the protocol, so logs go to file only
	logger, cleanup := config.SetupFileLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("convel-mcp starting",
		"version", version,
		"surrealdb_url", cfg.SurrealDBURL,
		"md_model", cfg.MDModel,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to the knowledge base
	kbClient, err := kb.NewClient(ctx, kb.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to knowledge base", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing knowledge base connection")
		_ = kbClient.Close(ctx)
	}()

	if err := kbClient.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	// Build the linking pipeline
	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		logger.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	logger.Info("embedder initialized", "model", embedder.Model())

	var reranker ed.Reranker
	if cfg.LLMProvider != "" {
		model, err := llm.NewModel(cfg)
		if err != nil {
			logger.Error("failed to create reranker model", "error", err)
			os.Exit(1)
		}
		reranker = model
	}

	linker := conv.NewLinker(
		md.NewDetector(cfg.MDModelDir(), logger),
		ed.New(kbClient, embedder, reranker, ed.Config{
			PriorWeight: cfg.PriorWeight,
			MinScore:    cfg.EDMinScore,
			Logger:      logger,
		}),
		pe.NewDetector(),
		pe.NewScorer(cfg.PEModelDir(), logger),
		conv.Config{
			Threshold: cfg.Threshold,
			Logger:    logger,
		},
	)

	// Create and setup server
	srv := mcpserver.New(version, logger)
	srv.Setup()

	// Register tools
	deps := &tools.Dependencies{
		Annotator: linker,
		KB:        kbClient,
		Logger:    logger,
	}
	tools.RegisterAll(srv.MCPServer(), deps)
	logger.Info("tools registered", "count", 4)

	logger.Info("server ready, awaiting connections")

	// Run server (blocks until disconnect or context cancelled)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
