package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"warden/internal/runtime"
)

var missionDomainID string

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Run missions",
}

var missionRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a mission against a domain, streaming its output to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionRun,
}

func init() {
	missionRunCmd.Flags().StringVar(&missionDomainID, "domain", "", "domain to run the mission against (required)")
	missionRunCmd.MarkFlagRequired("domain")
	missionCmd.AddCommand(missionRunCmd)
}

// stdoutChunkSink prints each streamed chunk directly to stdout, the CLI
// equivalent of the UI's streaming chat pane.
type stdoutChunkSink struct{}

func (stdoutChunkSink) WriteChunk(text string) { fmt.Print(text) }
func (stdoutChunkSink) Done()                  { fmt.Println() }

func runMissionRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("wardend: build runtime: %w", err)
	}
	defer rt.Stop()
	if err := rt.Init(context.Background()); err != nil {
		return fmt.Errorf("wardend: init runtime: %w", err)
	}

	run, err := rt.Mission.Run(context.Background(), args[0], missionDomainID, uuid.NewString(), nil, stdoutChunkSink{})
	if err != nil {
		return fmt.Errorf("wardend: mission run: %w", err)
	}
	fmt.Printf("mission run %s finished with status %s\n", run.ID, run.Status)
	return nil
}
