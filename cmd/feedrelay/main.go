// Package main contains the entrypoint for the feedback relay service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/feedrelay/feedrelay/internal/app"
	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/logger"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all application components, handles graceful shutdown, and
// returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "", "Path to configuration file (default ./config.yaml)")
	dropWebhooks := flag.Bool("drop-webhooks", false, "Remove every bot's webhook registration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("Failed to initialize application", "error", err)
		return 1
	}

	if *dropWebhooks {
		defer application.Close()
		if err := application.DropWebhooks(ctx); err != nil {
			log.Error("Webhook teardown failed", "error", err)
			return 1
		}
		return 0
	}

	if err := application.Run(ctx); err != nil {
		log.Error("Application terminated with error", "error", err)
		return 1
	}

	log.Info("Shutdown complete")
	return 0
}
