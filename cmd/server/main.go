// Command server runs Magister: it reconciles a fleet of rented compute
// instances against a target fleet size and exposes the control-plane
// API a Hierophant polls and commands.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/unattended-backpack/magister/internal/api"
	"github.com/unattended-backpack/magister/internal/config"
	"github.com/unattended-backpack/magister/internal/engine"
	"github.com/unattended-backpack/magister/internal/logging"
	"github.com/unattended-backpack/magister/internal/marketplace"
	"github.com/unattended-backpack/magister/internal/supervisor"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("starting magister",
		slog.String("marketplace_base_url", cfg.Marketplace.BaseURL),
		slog.Int("target_fleet_size", cfg.Reconciler.NumberInstances))

	client := marketplace.New(cfg.Marketplace.APIKey,
		marketplace.WithBaseURL(cfg.Marketplace.BaseURL),
		marketplace.WithTimeout(cfg.Marketplace.RequestTimeout),
		marketplace.WithRateLimit(rate.Every(time.Second), 5))

	eng := engine.New(client, *cfg)
	server := api.New(eng,
		api.WithLogger(logger),
		api.WithHost("0.0.0.0"),
		api.WithPort(cfg.Server.HTTPPort))

	sup := supervisor.New(eng, server, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		logger.Error("magister exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
