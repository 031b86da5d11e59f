// Package main provides the HTTP annotation server for convel.
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

	"github.com/mbakker/convel-go/internal/config"
	"github.com/mbakker/convel-go/internal/conv"
	"github.com/mbakker/convel-go/internal/ed"
	"github.com/mbakker/convel-go/internal/kb"
	"github.com/mbakker/convel-go/internal/llm"
	"github.com/mbakker/convel-go/internal/md"
	"github.com/mbakker/convel-go/internal/metrics"
	"github.com/mbakker/convel-go/internal/pe"
	"github.com/mbakker/convel-go/internal/server"
)

const version = "0.1.0"

func main() {
	// Parse flags
	wipeKB := flag.Bool("wipe", false, "wipe all data from the knowledge base on startup (testing only)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("convel-server starting",
		"version", version,
		"port", cfg.ServerPort,
		"surrealdb_url", cfg.SurrealDBURL,
		"md_model", cfg.MDModel,
	)

	// Connect to the knowledge base
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	kbClient, err := kb.NewClient(ctx, kb.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	cancel()
	if err != nil {
		logger.Error("failed to connect to knowledge base", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing knowledge base connection")
		_ = kbClient.Close(context.Background())
	}()

	if err := kbClient.InitSchema(context.Background()); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	// Wipe knowledge base if requested (via flag or env var)
	if *wipeKB || os.Getenv("CONVEL_WIPE_KB") == "true" {
		if err := kbClient.WipeData(context.Background()); err != nil {
			logger.Error("failed to wipe knowledge base", "error", err)
			os.Exit(1)
		}
		logger.Info("knowledge base wiped")
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
		logger.Info("reranker initialized", "model", model.Model())
	}

	collector := metrics.NewCollector()

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
			Metrics:   collector,
		},
	)

	srv := server.New(linker, kbClient, collector, logger)
	httpServer := srv.HTTPServer(cfg.ServerPort)

	// Start server in goroutine
	go func() {
		logger.Info("annotation endpoint available", "url", fmt.Sprintf("http://localhost:%s/annotate", cfg.ServerPort))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
