package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dverhoef/scanwarden/cmd"
	"github.com/dverhoef/scanwarden/internal/observability"
	"github.com/dverhoef/scanwarden/internal/policy"
)

func main() {
	os.Exit(run())
}

// run executes the CLI and maps the outcome onto the process exit code:
// 0 pass, 1 warn, 2 fail, 1 for any other error.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := cmd.Execute(ctx); err != nil {
		var exitErr *policy.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
	return 0
}
