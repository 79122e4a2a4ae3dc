package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/trackline/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(RunnerOpts{Logger: logger})
	if err := runner.command().Run(ctx, os.Args); err != nil {
		stop()
		logger.Fatal("application error", "err", describe(err))
	}
}
