// Package cmd provides the CLI commands for raglite.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raglite/raglite/internal/config"
	"github.com/raglite/raglite/internal/logging"
	"github.com/raglite/raglite/pkg/version"
)

// rootFlags are shared across subcommands.
type rootFlags struct {
	root       string
	configPath string
	debug      bool
	jsonOutput bool
}

var (
	flags          rootFlags
	loggingCleanup func()
)

// NewRootCmd creates the root command for the raglite CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raglite",
		Short: "Embeddable local retrieval engine",
		Long: `raglite ingests documents into a local dataset (SQLite + HNSW index)
and answers similarity queries. Everything runs in one process against
one on-disk dataset; no external services.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("raglite version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flags.root, "root", ".", "Dataset root directory")
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "JSON output")

	cmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		cleanup, err := logging.SetupDefault(flags.debug)
		if err != nil {
			return err
		}
		loggingCleanup = cleanup
		return nil
	}
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newUICmd())

	return cmd
}

// loadConfig loads config + environment for a one-shot CLI invocation.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.CLIMode = true
	return cfg, nil
}

// fail prints a user-facing error and returns it for the non-zero exit code.
func fail(err error) error {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return err
}
