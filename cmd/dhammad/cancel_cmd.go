package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dhammalab/dhammachannel/gate"
	"github.com/dhammalab/dhammachannel/internal/clifmt"
	"github.com/dhammalab/dhammachannel/internal/jsonutil"
	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	var (
		runID  string
		actor  string
		reason string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Drop a cancel-publish action for a pending run",
		RunE: func(cmd *cobra.Command, args []string) error {
			action := gate.CancelPublishAction{
				Action: gate.CancelAction,
				Actor:  actor,
				Reason: reason,
			}
			if err := action.Validate(); err != nil {
				return err
			}

			fs := gate.NewFileStore(runDirFor(runID))
			path := fs.CancelPath()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("cancel file already exists at %s (use --force to overwrite)", path)
				}
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			if err := jsonutil.WriteFileAtomic(path, action); err != nil {
				return err
			}

			fmt.Println(clifmt.Success("cancel recorded"), clifmt.Dim(path))
			fmt.Println(clifmt.Dim("the rejection takes effect on the next gate evaluation"))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "pipeline run identifier")
	cmd.Flags().StringVar(&actor, "actor", "", "who is cancelling (1-100 characters)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the publish is cancelled (1-500 characters)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing cancel file")
	_ = cmd.MarkFlagRequired("run-id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
