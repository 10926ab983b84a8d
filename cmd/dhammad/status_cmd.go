package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dhammalab/dhammachannel/gate"
	"github.com/dhammalab/dhammachannel/internal/clifmt"
	"github.com/dhammalab/dhammachannel/internal/jsonutil"
	"github.com/dhammalab/dhammachannel/notify"
	"github.com/dhammalab/dhammachannel/pipeline"
	"github.com/dhammalab/dhammachannel/softlive"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded artifacts for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir := runDirFor(runID)
			artifacts := filepath.Join(runDir, "artifacts")

			fmt.Println(clifmt.Headerf("run %s", runID))
			fmt.Println(clifmt.Dim(runDir))

			var soft softlive.Summary
			if found, err := jsonutil.ReadFile(filepath.Join(artifacts, pipeline.SoftLiveSummaryFile), &soft); err != nil {
				fmt.Println(clifmt.Key("soft-live:"), clifmt.Fail("unreadable"), clifmt.Dim(err.Error()))
			} else if !found {
				fmt.Println(clifmt.Key("soft-live:"), clifmt.Dim("no artifact"))
			} else {
				line := soft.SoftLiveStatus
				if soft.EnforcedMode != "" {
					line += " (" + soft.EnforcedMode + ")"
				}
				fmt.Println(clifmt.Key("soft-live:"), line, codesSuffix(soft.ReasonCodes))
			}

			var sum gate.Summary
			if found, err := jsonutil.ReadFile(filepath.Join(artifacts, gate.SummaryFileName), &sum); err != nil {
				fmt.Println(clifmt.Key("gate:"), clifmt.Fail("unreadable"), clifmt.Dim(err.Error()))
			} else if !found {
				fmt.Println(clifmt.Key("gate:"), clifmt.Dim("not evaluated yet"))
			} else {
				printGateSummary(sum)
			}

			var note notify.Summary
			if found, err := jsonutil.ReadFile(filepath.Join(artifacts, pipeline.NotifySummaryFile), &note); err != nil {
				fmt.Println(clifmt.Key("notify:"), clifmt.Fail("unreadable"), clifmt.Dim(err.Error()))
			} else if !found {
				fmt.Println(clifmt.Key("notify:"), clifmt.Dim("no artifact"))
			} else {
				fmt.Println(clifmt.Key("notify:"), note.NotificationStatus, codesSuffix(note.ReasonCodes))
				for _, tr := range note.TargetsAttempted {
					fmt.Printf("  %s %s %s\n", tr.Name, tr.Result, clifmt.Dim(tr.URLRedacted))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "pipeline run identifier")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

func printGateSummary(sum gate.Summary) {
	var status string
	switch sum.Status {
	case gate.StatusPending:
		status = clifmt.Warn(string(sum.Status))
	case gate.StatusApprovedByTimeout:
		status = clifmt.Success(string(sum.Status))
	case gate.StatusRejected:
		status = clifmt.Fail(string(sum.Status))
	default:
		status = string(sum.Status)
	}
	fmt.Println(clifmt.Key("gate:"), status,
		clifmt.Dim(fmt.Sprintf("(source=%s, evaluations=%d)", sum.DecisionSource, sum.EvaluationCount)))
	fmt.Printf("  opened %s", sum.OpenedAtUTC)
	if sum.ResolvedAtUTC != "" {
		fmt.Printf(", resolved %s", sum.ResolvedAtUTC)
	}
	fmt.Println()
	if sum.HumanActor != "" {
		fmt.Printf("  cancelled by %s: %s\n", sum.HumanActor, sum.HumanReason)
	}
	if len(sum.ReasonCodes) > 0 {
		fmt.Println(" ", clifmt.Dim(strings.Join(sum.ReasonCodes, " ")))
	}
}

func codesSuffix(codes []string) string {
	if len(codes) == 0 {
		return ""
	}
	return clifmt.Dim("[" + strings.Join(codes, " ") + "]")
}
