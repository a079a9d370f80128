// Command valdrix-jobs runs the durable background job subsystem. The
// SERVICES environment variable selects which service modes this instance
// runs: worker, scheduler, reaper, or any comma-separated combination.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Valdrix-AI/valdrix-sub000/internal/bootstrap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "valdrix-jobs: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.InitLogger(cfg.IsDev)

	app, err := bootstrap.BuildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("valdrix-jobs starting", "services", cfg.Services)
	if err := app.Run(ctx); err != nil {
		return err
	}
	logger.Info("valdrix-jobs stopped")
	return nil
}
