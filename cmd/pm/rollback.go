package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opt-pm/pm/internal/pmerrors"
)

var rollbackVerifyFlag string

var rollbackCmd = &cobra.Command{
	Use:   "rollback <state-id>",
	Short: "Make an earlier state current again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := uuid.Parse(args[0])
		if err != nil {
			return pmerrors.Wrap(pmerrors.KindInvalidInput, "cmd.rollback", err, "parsing state id %q", args[0])
		}
		level, err := verificationLevelFromFlag(rollbackVerifyFlag)
		if err != nil {
			return err
		}
		in, closeFn, err := openInstaller(level)
		if err != nil {
			return err
		}
		defer closeFn()

		result, err := in.Rollback(globalCtx, target)
		if err != nil {
			return err
		}
		fmt.Printf("rolled back to state %s\n", result.StateID)
		return nil
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackVerifyFlag, "verify-level", "standard", "post-rollback guard verification level: quick, standard, or full")
}
