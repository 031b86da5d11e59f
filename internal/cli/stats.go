package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbakker/convel-go/internal/client"
	"github.com/mbakker/convel-go/internal/metrics"
)

var statsServerURL string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server pipeline and knowledge base statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsServerURL, "server", "", "server URL (default $CONVEL_SERVER_URL or http://localhost:8475)")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c := client.New(statsServerURL)

	stats, err := c.Stats(ctx)
	if err != nil {
		return fmt.Errorf("fetch stats: %w", err)
	}

	uptime := time.Duration(stats.Pipeline.UptimeSeconds * float64(time.Second))
	fmt.Printf("Uptime: %s\n\n", uptime.Round(time.Second))

	fmt.Printf("%-14s %8s %12s %10s %10s\n", "OPERATION", "COUNT", "AVG", "MIN", "MAX")
	printOp("annotate", stats.Pipeline.Annotate)
	printOp("md_inference", stats.Pipeline.MDInference)
	printOp("ed_score", stats.Pipeline.EDScore)
	printOp("pe_score", stats.Pipeline.PEScore)
	printOp("kb_query", stats.Pipeline.KBQuery)
	printOp("embedding", stats.Pipeline.Embedding)

	if stats.KnowledgeBase != nil {
		fmt.Printf("\nKnowledge base: %d entities, %d mention surfaces\n",
			stats.KnowledgeBase.Entities, stats.KnowledgeBase.Mentions)
	}
	return nil
}

func printOp(name string, op *metrics.OperationSnapshot) {
	if op == nil {
		return
	}
	fmt.Printf("%-14s %8d %10.1fms %8dms %8dms\n",
		name, op.Count, op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
