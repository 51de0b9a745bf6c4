package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"warden/internal/runtime"
)

var automationCmd = &cobra.Command{
	Use:   "automation",
	Short: "Inspect and manually trigger automations",
}

var automationRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run one automation immediately, bypassing its schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runAutomationRun,
}

func init() {
	automationCmd.AddCommand(automationRunCmd)
}

func runAutomationRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("wardend: build runtime: %w", err)
	}
	defer rt.Stop()

	logger.Info("running automation", zap.String("automation_id", args[0]))
	if err := rt.Automation.RunNow(context.Background(), args[0]); err != nil {
		return fmt.Errorf("wardend: automation run: %w", err)
	}
	fmt.Printf("automation %s ran\n", args[0])
	return nil
}
