package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dhammalab/dhammachannel/gate"
	"github.com/dhammalab/dhammachannel/internal/clifmt"
	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"
)

func newGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Operate the approval gate directly",
	}
	cmd.AddCommand(newGateEvaluateCmd())
	cmd.AddCommand(newGateWatchCmd())
	return cmd
}

func newGateEvaluateCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one gate evaluation for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.Default()
			g, cleanup, err := gateForRun(runDirFor(runID), log)
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := g.Evaluate(cmd.Context(), runID, time.Now().UTC())
			if err != nil {
				return err
			}
			return reportOutcome(out)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "pipeline run identifier")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

func newGateWatchCmd() *cobra.Command {
	var (
		runID    string
		interval int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-evaluate the gate on a schedule until it resolves",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval < 1 {
				return fmt.Errorf("interval must be at least 1 minute")
			}
			log := slog.Default()
			g, cleanup, err := gateForRun(runDirFor(runID), log)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			done := make(chan gate.Outcome, 1)
			sched := gocron.NewScheduler(time.UTC)
			_, err = sched.Every(interval).Minutes().StartImmediately().Do(func() {
				out, err := g.Evaluate(ctx, runID, time.Now().UTC())
				if err != nil {
					log.Error("gate_evaluate_error", "run_id", runID, "error", err.Error())
					return
				}
				if out.Pending() {
					log.Info("gate_pending", "run_id", runID, "wait_minutes", out.WaitMinutes())
					return
				}
				select {
				case done <- out:
				default:
				}
			})
			if err != nil {
				return err
			}

			sched.StartAsync()
			defer sched.Stop()

			select {
			case out := <-done:
				return reportOutcome(out)
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "pipeline run identifier")
	cmd.Flags().IntVar(&interval, "interval-minutes", 5, "minutes between evaluations")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

func reportOutcome(out gate.Outcome) error {
	switch out.State {
	case gate.OutcomeApproved:
		fmt.Println(clifmt.Success("approved"), clifmt.Dim(fmt.Sprintf("(source=%s)", out.Summary.DecisionSource)))
		return nil
	case gate.OutcomePending:
		fmt.Println(clifmt.Warn("pending"), clifmt.Dim(fmt.Sprintf("(%.1f minutes remaining)", out.WaitMinutes())))
		return &exitCodeError{code: exitPending}
	case gate.OutcomeRejected:
		fmt.Println(clifmt.Fail("rejected"), clifmt.Dim(out.Reason))
		return &exitCodeError{code: 1, msg: out.Reason}
	}
	return fmt.Errorf("unknown outcome %q", out.State)
}
