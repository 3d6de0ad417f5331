// Masthead runs the signal-to-order trading pipeline: discovery, harvest,
// strategy, trade execution and order monitoring in one process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mastheader/masthead/internal/app"
	"github.com/mastheader/masthead/internal/config"
	"github.com/mastheader/masthead/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire pipeline: %w", err)
	}

	log.Info().Int("port", cfg.Port).Msg("Masthead starting")
	return application.Run(ctx)
}
