package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dhammalab/dhammachannel/internal/clifmt"
	"github.com/dhammalab/dhammachannel/pipeline"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		runID    string
		planPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the publish pipeline for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.Default()

			stepNames := pipeline.DefaultStepOrder
			if planPath != "" {
				plan, err := pipeline.LoadPlan(planPath)
				if err != nil {
					return err
				}
				stepNames = plan.Steps
				if runID == "" {
					runID = plan.RunID
				}
			}
			if runID == "" {
				return fmt.Errorf("missing --run-id (or run_id in the plan)")
			}

			runDir := runDirFor(runID)
			if err := os.MkdirAll(runDir, 0o700); err != nil {
				return err
			}

			steps, cleanup, err := buildSteps(stepNames, runDir, log)
			if err != nil {
				return err
			}
			defer cleanup()

			rc := &pipeline.RunContext{
				RunID: runID,
				Dir:   runDir,
				Clock: func() time.Time { return time.Now().UTC() },
				Log:   log,
			}
			res, err := pipeline.NewRunner(log, steps...).Run(cmd.Context(), rc)
			if err != nil {
				return err
			}

			switch res.Status {
			case pipeline.StatusCompleted:
				fmt.Println(clifmt.Success("run completed"), clifmt.Dim(runID))
				return nil
			case pipeline.StatusHeld:
				fmt.Println(clifmt.Warn("run held"),
					clifmt.Dim(fmt.Sprintf("at %s, retry in %s", res.StoppedAt, res.Wait.Round(time.Second))))
				return &exitCodeError{code: exitPending}
			case pipeline.StatusRejected:
				fmt.Println(clifmt.Fail("run rejected"), clifmt.Dim(res.Reason))
				return &exitCodeError{code: 1, msg: res.Reason}
			}
			return fmt.Errorf("run ended in unexpected status %q", res.Status)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "pipeline run identifier")
	cmd.Flags().StringVar(&planPath, "plan", "", "pipeline plan file (yaml)")
	return cmd
}

func buildSteps(names []string, runDir string, log *slog.Logger) ([]pipeline.Step, func(), error) {
	var (
		steps    []pipeline.Step
		cleanups []func()
	)
	cleanup := func() {
		for _, c := range cleanups {
			c()
		}
	}
	for _, name := range names {
		switch name {
		case pipeline.StepSoftLive:
			steps = append(steps, &pipeline.SoftLiveStep{Cfg: softliveFromViper()})
		case pipeline.StepGate:
			g, c, err := gateForRun(runDir, log)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			cleanups = append(cleanups, c)
			steps = append(steps, &pipeline.GateStep{Gate: g})
		case pipeline.StepNotify:
			steps = append(steps, &pipeline.NotifyStep{Notifier: notifierFromViper(log)})
		default:
			cleanup()
			return nil, nil, fmt.Errorf("unknown step %q", name)
		}
	}
	return steps, cleanup, nil
}
