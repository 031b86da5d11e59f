// Package cli provides the command-line interface for convel.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbakker/convel-go/internal/config"
	"github.com/mbakker/convel-go/internal/conv"
	"github.com/mbakker/convel-go/internal/ed"
	"github.com/mbakker/convel-go/internal/kb"
	"github.com/mbakker/convel-go/internal/llm"
	"github.com/mbakker/convel-go/internal/md"
	"github.com/mbakker/convel-go/internal/pe"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config, logger and knowledge base client
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	kbClient *kb.Client

	// Lazy-initialized linking pipeline
	linker *conv.Linker
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "convel",
	Short: "Conversational entity linker",
	Long: `Convel links entity mentions in conversations to a wiki knowledge base.

It detects mentions in each user turn, disambiguates them against the
knowledge base, and resolves personal references ("my dog", "he") to
their antecedents earlier in the conversation.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupFileLogger(cfg.LogFile, level)
		slog.SetDefault(logger)

		// Only local annotation touches the knowledge base. The chat and
		// stats commands go through the HTTP server, and the models
		// commands only touch the filesystem.
		if !needsKB(cmd) {
			return nil
		}

		ctx := context.Background()
		kbCfg := kb.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}

		var err error
		kbClient, err = kb.NewClient(ctx, kbCfg, logger)
		if err != nil {
			return fmt.Errorf("connect to knowledge base: %w", err)
		}

		if err := kbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if kbClient != nil {
			if err := kbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close knowledge base: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// needsKB reports whether the command runs the local linking pipeline.
func needsKB(cmd *cobra.Command) bool {
	return cmd.Name() == "annotate"
}

// getLinker builds the local linking pipeline on first use.
func getLinker(ctx context.Context) (*conv.Linker, error) {
	if linker != nil {
		return linker, nil
	}

	detector := md.NewDetector(cfg.MDModelDir(), logger)

	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	var reranker ed.Reranker
	if cfg.LLMProvider != "" {
		model, err := llm.NewModel(cfg)
		if err != nil {
			return nil, fmt.Errorf("init model: %w", err)
		}
		reranker = model
	}

	disambiguator := ed.New(kbClient, embedder, reranker, ed.Config{
		PriorWeight: cfg.PriorWeight,
		MinScore:    cfg.EDMinScore,
		Logger:      logger,
	})

	linker = conv.NewLinker(
		detector,
		disambiguator,
		pe.NewDetector(),
		pe.NewScorer(cfg.PEModelDir(), logger),
		conv.Config{
			Threshold: cfg.Threshold,
			Logger:    logger,
		},
	)
	return linker, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(statsCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
