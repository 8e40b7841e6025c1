// File: cmd/screenpilot/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/vkozyrev/screenpilot/cmd"
	"github.com/vkozyrev/screenpilot/internal/observability"
)

func main() {
	defer observability.Sync()

	// Graceful shutdown on SIGINT/SIGTERM: the agent aborts between
	// iterations, the server drains connections.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
