package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dhammalab/dhammachannel/gate"
	"github.com/dhammalab/dhammachannel/internal/jsonutil"
	"github.com/dhammalab/dhammachannel/notify"
	"github.com/dhammalab/dhammachannel/softlive"
)

const (
	StepSoftLive = "soft_live_enforce"
	StepGate     = "approval_gate"
	StepNotify   = "notify_webhook"
)

const (
	SoftLiveSummaryFile = "soft_live_summary.json"
	NotifySummaryFile   = "notify_summary.json"
)

// SoftLiveStep validates the publish visibility mode and records the
// enforcement artifact before the run may reach the gate.
type SoftLiveStep struct {
	Cfg softlive.Config
}

func (s *SoftLiveStep) Name() string { return StepSoftLive }

func (s *SoftLiveStep) Run(ctx context.Context, rc *RunContext) (StepResult, error) {
	_ = ctx
	sum, err := softlive.Enforce(s.Cfg, rc.RunID, rc.now())
	if err != nil {
		return StepResult{}, err
	}
	path := filepath.Join(rc.Dir, "artifacts", SoftLiveSummaryFile)
	if err := jsonutil.WriteFileAtomic(path, sum); err != nil {
		return StepResult{}, fmt.Errorf("write soft-live summary: %w", err)
	}
	return StepResult{Control: Continue}, nil
}

// GateStep holds the run at the approval checkpoint. Pending maps to Hold,
// rejection to Abort.
type GateStep struct {
	Gate *gate.Gate
}

func (s *GateStep) Name() string { return StepGate }

func (s *GateStep) Run(ctx context.Context, rc *RunContext) (StepResult, error) {
	out, err := s.Gate.Evaluate(ctx, rc.RunID, rc.now())
	if err != nil {
		return StepResult{}, err
	}
	switch out.State {
	case gate.OutcomeApproved:
		return StepResult{Control: Continue}, nil
	case gate.OutcomePending:
		return StepResult{Control: Hold, Wait: out.Wait}, nil
	case gate.OutcomeRejected:
		return StepResult{Control: Abort, Reason: out.Reason}, nil
	}
	return StepResult{}, fmt.Errorf("unknown gate outcome %q", out.State)
}

// NotifyStep announces the gate decision to the configured webhooks. It
// runs after the gate on both the approved path (run continued) and, via
// the CLI, on rejection.
type NotifyStep struct {
	Notifier *notify.Notifier
}

func (s *NotifyStep) Name() string { return StepNotify }

func (s *NotifyStep) Run(ctx context.Context, rc *RunContext) (StepResult, error) {
	store := gate.NewFileStore(rc.Dir)
	decision, ok, err := store.Load(ctx, rc.RunID)
	if err != nil {
		return StepResult{}, fmt.Errorf("load gate summary: %w", err)
	}
	if !ok {
		return StepResult{}, fmt.Errorf("approval gate summary missing for run %s", rc.RunID)
	}

	sum, sendErr := s.Notifier.Send(ctx, rc.RunID, decision, rc.now())
	path := filepath.Join(rc.Dir, "artifacts", NotifySummaryFile)
	if err := jsonutil.WriteFileAtomic(path, sum); err != nil {
		return StepResult{}, fmt.Errorf("write notify summary: %w", err)
	}
	if sendErr != nil {
		return StepResult{}, sendErr
	}
	return StepResult{Control: Continue}, nil
}
