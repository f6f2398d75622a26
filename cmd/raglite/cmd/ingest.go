package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raglite/raglite/internal/model"
	"github.com/raglite/raglite/pkg/raglite"
)

type ingestOptions struct {
	model        string
	chunkSize    int
	chunkOverlap int
	forceRebuild bool
	watch        bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <directory>",
		Short: "Ingest documents into the dataset",
		Long: `Ingest walks a directory, chunks and embeds every supported file, and
commits each file atomically. The first ingest fixes the dataset's model;
later ingests must match it or use rebuild.

Examples:
  raglite ingest ./docs
  raglite ingest ./docs --model mpnet-base-v2
  raglite ingest ./docs --force-rebuild
  raglite ingest ./docs --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.model, "model", "", "Embedding model (registry name, first ingest only)")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "Chunk size in tokens (0 = model default)")
	cmd.Flags().IntVar(&opts.chunkOverlap, "chunk-overlap", 0, "Chunk overlap in tokens (0 = model default)")
	cmd.Flags().BoolVar(&opts.forceRebuild, "force-rebuild", false, "Delete the dataset and start fresh")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Keep watching the directory and re-ingest on changes")

	return cmd
}

func runIngest(cmd *cobra.Command, dir string, opts ingestOptions) error {
	ctx := cmd.Context()

	if opts.model != "" {
		if _, err := model.Lookup(opts.model); err != nil {
			return fail(err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}

	openOpts := []raglite.Option{raglite.WithConfig(cfg)}
	if opts.model != "" {
		openOpts = append(openOpts, raglite.WithModel(opts.model))
	}

	ds, err := raglite.Open(ctx, flags.root, openOpts...)
	if err != nil {
		return fail(err)
	}
	defer ds.Close()

	ingestOpts := raglite.IngestOptions{
		ChunkSize:    opts.chunkSize,
		ChunkOverlap: opts.chunkOverlap,
		ForceRebuild: opts.forceRebuild,
	}

	result, err := ds.IngestDirectory(ctx, dir, ingestOpts)
	if err != nil {
		return fail(err)
	}

	if flags.jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(result)
	} else {
		fmt.Printf("Ingested %d documents (%d chunks, %d embeddings) in %dms\n",
			result.DocumentsProcessed, result.ChunksCreated,
			result.EmbeddingsGenerated, result.ProcessingTimeMillis)
		if result.DocumentErrors > 0 || result.EmbeddingErrors > 0 {
			fmt.Printf("Errors: %d documents, %d embeddings\n",
				result.DocumentErrors, result.EmbeddingErrors)
		}
	}

	if opts.watch {
		fmt.Printf("Watching %s for changes (ctrl-c to stop)\n", dir)
		if err := ds.Watch(ctx, dir, ingestOpts, 0); err != nil && ctx.Err() == nil {
			return fail(err)
		}
	}

	return nil
}
