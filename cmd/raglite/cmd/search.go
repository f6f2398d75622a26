package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/raglite/raglite/internal/model"
	"github.com/raglite/raglite/pkg/raglite"
)

type searchOptions struct {
	topK        int
	rerank      bool
	contentType string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the dataset",
		Long: `Search embeds the query and returns the most similar chunks with their
documents. The dataset's stored model is always used; pass --model to
ingest or rebuild instead.

Examples:
  raglite search "feline naps"
  raglite search "red sports car" --content-type image --top-k 3
  raglite search "setup instructions" --rerank --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// --model belongs to ingest: a search cannot change the
			// dataset's model, so reject it loudly instead of ignoring it.
			if f := cmd.Flags().Lookup("model"); f != nil && f.Changed {
				return fail(fmt.Errorf("--model is only valid with 'ingest' or 'rebuild'; " +
					"the dataset's stored model is used for search"))
			}
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of results (default 10)")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Rerank results with the dataset's strategy")
	cmd.Flags().StringVarP(&opts.contentType, "content-type", "t", "", "Filter by content type (text, image)")

	// Declared so a stray --model fails with guidance instead of cobra's
	// generic unknown-flag error.
	cmd.Flags().String("model", "", "")
	_ = cmd.Flags().MarkHidden("model")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
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

	results, err := ds.Search(ctx, query, raglite.SearchOptions{
		TopK:        opts.topK,
		Rerank:      opts.rerank,
		ContentType: model.ContentType(opts.contentType),
	})
	if err != nil {
		return fail(err)
	}

	if flags.jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(results)
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	useColor := isatty.IsTerminal(os.Stdout.Fd())
	for i, r := range results {
		header := fmt.Sprintf("%d. %s (score %.3f)", i+1, r.Document.Source, r.Score)
		if useColor {
			header = "\033[1m" + header + "\033[0m"
		}
		fmt.Println(header)
		fmt.Printf("   %s\n", snippet(r.Content, 160))
	}
	return nil
}

// snippet trims content to one display line.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
