// raglite is the CLI adapter over the retrieval engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/raglite/raglite/cmd/raglite/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cmd.NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
