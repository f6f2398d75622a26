package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raglite/raglite/internal/model"
	"github.com/raglite/raglite/pkg/raglite"
)

func newRebuildCmd() *cobra.Command {
	var modelName string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed every chunk, optionally with a different model",
		Long: `Rebuild truncates the vector index and re-embeds all stored chunks in
their original order. Documents and chunks are kept; only the vectors and
the system-info singleton change.

Examples:
  raglite rebuild
  raglite rebuild --model mpnet-base-v2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRebuild(cmd, modelName)
		},
	}

	cmd.Flags().StringVar(&modelName, "model", "", "Target model (default: the dataset's current model)")

	return cmd
}

func runRebuild(cmd *cobra.Command, modelName string) error {
	ctx := cmd.Context()

	if modelName != "" {
		if _, err := model.Lookup(modelName); err != nil {
			return fail(err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}

	// Open with the stored model so the compatibility gate passes; the
	// rebuild itself switches models.
	ds, err := raglite.Open(ctx, flags.root, raglite.WithConfig(cfg))
	if err != nil {
		return fail(err)
	}
	defer ds.Close()

	if err := ds.Rebuild(ctx, modelName); err != nil {
		return fail(err)
	}

	stats, err := ds.Stats(ctx)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Rebuilt %d chunks with %s (%d dimensions)\n",
		stats.TotalChunks, stats.ModelName, stats.ModelDimensions)
	return nil
}
