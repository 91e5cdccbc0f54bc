// Command genomicore runs genomic pipeline jobs, serves the task endpoint,
// and manages incidents and member overrides.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"genomicore/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
