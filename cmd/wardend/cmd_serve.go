package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"warden/internal/config"
	"warden/internal/runtime"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the automation engine, mission runner, and ingestion server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("wardend: build runtime: %w", err)
	}
	defer rt.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rt.Init(ctx); err != nil {
		return fmt.Errorf("wardend: init runtime: %w", err)
	}

	logger.Info("starting wardend", zap.String("bind_address", cfg.Ingest.BindAddress))
	err = rt.Start(ctx)
	logger.Info("wardend stopped")
	return err
}

// loadConfig reads configPath if set, otherwise the default search path;
// config.Load treats a missing file as "use defaults with env overrides",
// matching the zero-config bootstrap path.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("wardend: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
