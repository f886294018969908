package main

import (
	"fmt"
	"time"

	"github.com/fentz26/presencesim/internal/controlplane"
	"github.com/fentz26/presencesim/internal/models"
	"github.com/fentz26/presencesim/internal/scheduler"
	"github.com/spf13/cobra"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Control the simulation loop",
}

var simStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the simulation",
	RunE:  runSimStart,
}

var simStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the simulation and clear the queue",
	RunE:  runSimStop,
}

var simStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show simulation status",
	RunE:  runSimStatus,
}

var simStepCmd = &cobra.Command{
	Use:   "step",
	Short: "Run one planning and execution step now",
	RunE:  runSimStep,
}

func init() {
	simCmd.AddCommand(simStartCmd, simStopCmd, simStatusCmd, simStepCmd)
}

func runSimStart(cmd *cobra.Command, args []string) error {
	var state models.RunState
	if err := apiPost("/api/start", nil, &state); err != nil {
		return err
	}
	fmt.Printf("Simulation running since %s\n", formatTime(state.StartedAt))
	return nil
}

func runSimStop(cmd *cobra.Command, args []string) error {
	if err := apiPost("/api/stop", nil, nil); err != nil {
		return err
	}
	fmt.Println("Simulation stopped")
	return nil
}

func runSimStatus(cmd *cobra.Command, args []string) error {
	var status controlplane.StatusResponse
	if err := apiGet("/api/status", &status); err != nil {
		return err
	}

	state := "stopped"
	if status.Running {
		state = "running"
	}
	fmt.Printf("State:         %s\n", state)
	if status.StartedAt != nil {
		fmt.Printf("Started:       %s\n", formatTime(status.StartedAt))
	}
	fmt.Printf("Entities:      %d\n", len(status.Entities))
	fmt.Printf("Window:        %s\n", status.Window)
	fmt.Printf("Queued:        %d\n", status.Queued)
	fmt.Printf("Minutes ahead: %d\n", status.MinutesAhead)
	if status.LastTrain != nil {
		fmt.Printf("Last train:    %s\n", formatTime(status.LastTrain))
	}
	if status.LastStep != nil {
		printStep(*status.LastStep)
	}
	return nil
}

func runSimStep(cmd *cobra.Command, args []string) error {
	var report scheduler.StepReport
	if err := apiPost("/api/step", nil, &report); err != nil {
		return err
	}
	printStep(report)
	return nil
}

func printStep(r scheduler.StepReport) {
	fmt.Printf("Last step:     %s (%s)\n", r.Time.Local().Format("15:04"), r.Source)
	fmt.Printf("  planned %d, added %d, executed %d, failed %d, skipped %d\n",
		r.Plan.PlannedCount, r.Plan.Added, len(r.Executed), r.Failed, r.Skipped)
	if !r.Dark && r.DarkReason != "" {
		fmt.Printf("  not dark: %s\n", r.DarkReason)
	}
	for _, rec := range r.Executed {
		fmt.Printf("  %s %s %s\n", rec.Time.Local().Format("15:04"), rec.Action, rec.Entity)
	}
}

// --- Helpers ---

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
