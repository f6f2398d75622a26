package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raglite/raglite/internal/httpapi"
	"github.com/raglite/raglite/pkg/raglite"
)

func newUICmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Serve the JSON backend for the browser UI",
		Long: `ui starts the HTTP backend the browser UI talks to. It exposes
/api/search, /api/stats, and /api/ingest over the open dataset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUI(cmd, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8093", "Listen address")

	return cmd
}

func runUI(cmd *cobra.Command, addr string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	// The UI backend is long-running; keep the idle sweeper on.
	cfg.CLIMode = false

	ds, err := raglite.Open(ctx, flags.root, raglite.WithConfig(cfg))
	if err != nil {
		return fail(err)
	}
	defer ds.Close()

	fmt.Printf("raglite ui backend on http://%s\n", addr)
	server := httpapi.NewServer(ds)
	if err := server.ListenAndServe(addr); err != nil {
		return fail(err)
	}
	return nil
}
