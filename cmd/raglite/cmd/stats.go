package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raglite/raglite/pkg/raglite"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dataset statistics",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}

	ds, err := raglite.Open(ctx, flags.root, raglite.WithConfig(cfg))
	if err != nil {
		return fail(err)
	}
	defer ds.Close()

	stats, err := ds.Stats(ctx)
	if err != nil {
		return fail(err)
	}

	if flags.jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(stats)
		return nil
	}

	fmt.Printf("Documents:   %d\n", stats.TotalDocuments)
	fmt.Printf("Chunks:      %d\n", stats.TotalChunks)
	fmt.Printf("Mode:        %s\n", stats.Mode)
	fmt.Printf("Model:       %s (%d dimensions)\n", stats.ModelName, stats.ModelDimensions)
	fmt.Printf("Reranking:   %s\n", stats.RerankStrategy)
	fmt.Printf("DB size:     %d bytes\n", stats.DBSize)
	fmt.Printf("Index size:  %d bytes\n", stats.IndexSize)
	return nil
}
