// Package pipeline sequences the publish steps for one run. The runner is a
// plain ordered executor: a step either continues the run, holds it for a
// later retry (the approval gate waiting out its grace period), or aborts
// it permanently.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusHeld      RunStatus = "held"
	StatusRejected  RunStatus = "rejected"
	StatusFailed    RunStatus = "failed"
)

type Control int

const (
	Continue Control = iota
	Hold
	Abort
)

type StepResult struct {
	Control Control

	// Wait suggests when to retry a held run.
	Wait time.Duration

	// Reason explains an abort.
	Reason string
}

// RunContext carries the per-run facts every step needs. Clock is injected
// so runs are replayable in tests.
type RunContext struct {
	RunID string
	Dir   string
	Clock func() time.Time
	Log   *slog.Logger
}

func (rc *RunContext) now() time.Time {
	if rc.Clock != nil {
		return rc.Clock()
	}
	return time.Now().UTC()
}

func (rc *RunContext) logger() *slog.Logger {
	if rc.Log != nil {
		return rc.Log
	}
	return slog.Default()
}

type Step interface {
	Name() string
	Run(ctx context.Context, rc *RunContext) (StepResult, error)
}

type RunResult struct {
	Status    RunStatus
	StoppedAt string
	Wait      time.Duration
	Reason    string
}

type Runner struct {
	steps []Step
	log   *slog.Logger
}

func NewRunner(log *slog.Logger, steps ...Step) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{steps: steps, log: log}
}

// Run executes the steps in order. A held run returns StatusHeld with the
// suggested wait; the caller reschedules the whole run, and already
// completed steps are expected to be idempotent on re-execution.
func (r *Runner) Run(ctx context.Context, rc *RunContext) (RunResult, error) {
	for _, step := range r.steps {
		if err := ctx.Err(); err != nil {
			return RunResult{Status: StatusFailed, StoppedAt: step.Name(), Reason: err.Error()}, err
		}

		res, err := step.Run(ctx, rc)
		if err != nil {
			r.log.Error("pipeline_step_failed", "run_id", rc.RunID, "step", step.Name(), "error", err.Error())
			return RunResult{Status: StatusFailed, StoppedAt: step.Name(), Reason: err.Error()},
				fmt.Errorf("step %s: %w", step.Name(), err)
		}

		switch res.Control {
		case Continue:
			r.log.Info("pipeline_step_done", "run_id", rc.RunID, "step", step.Name())
		case Hold:
			r.log.Info("pipeline_run_held", "run_id", rc.RunID, "step", step.Name(), "wait", res.Wait.String())
			return RunResult{Status: StatusHeld, StoppedAt: step.Name(), Wait: res.Wait}, nil
		case Abort:
			r.log.Warn("pipeline_run_rejected", "run_id", rc.RunID, "step", step.Name(), "reason", res.Reason)
			return RunResult{Status: StatusRejected, StoppedAt: step.Name(), Reason: res.Reason}, nil
		default:
			err := fmt.Errorf("step %s returned unknown control %d", step.Name(), res.Control)
			return RunResult{Status: StatusFailed, StoppedAt: step.Name(), Reason: err.Error()}, err
		}
	}
	return RunResult{Status: StatusCompleted}, nil
}
