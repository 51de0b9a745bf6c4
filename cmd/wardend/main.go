// Package main implements wardend, the warden runtime's CLI entry point.
//
// Command implementations are split across cmd_*.go files:
//   - cmd_serve.go      - serveCmd, runs the full process (automation + ingest)
//   - cmd_automation.go - automationCmd, automationRunCmd
//   - cmd_mission.go    - missionCmd, missionRunCmd
//   - cmd_kb.go         - kbCmd, kbReindexCmd
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath string
	verbose    bool

	// logger is the CLI's console logger, separate from the structured
	// internal/logging registry each subcommand's runtime builds for
	// domain-scoped telemetry.
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wardend",
	Short: "warden - desktop knowledge-automation runtime",
	Long: `wardend runs the automation engine, mission runner, and ingestion
server described by the warden configuration file.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("wardend: build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults built in if absent)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level console logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(automationCmd)
	rootCmd.AddCommand(missionCmd)
	rootCmd.AddCommand(kbCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
