package cmd

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/unattended-backpack/magister/internal/api"
	"github.com/unattended-backpack/magister/internal/config"
	"github.com/unattended-backpack/magister/internal/engine"
	"github.com/unattended-backpack/magister/internal/logging"
	"github.com/unattended-backpack/magister/internal/marketplace"
	"github.com/unattended-backpack/magister/internal/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run magister in the foreground",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := cfg.Validate(); err != nil {
		return err
	}

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

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx)
}
