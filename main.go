package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/trident-cli/cmd"
)

// main is the entry point for the trident CLI.
func main() {
	// Interrupt signals cancel the context so in-flight missions write
	// aborted reports before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		// A cancellation that interrupted nothing is a clean shutdown;
		// mission failures surface as their own error and exit non-zero.
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
