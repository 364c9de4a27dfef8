package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opt-pm/pm/internal/install"
)

var updateVerifyFlag string

var updateCmd = &cobra.Command{
	Use:   "update [packages...]",
	Short: "Re-resolve installed packages to their latest satisfying version",
	Long: `With no arguments, update re-resolves every currently installed
package. With package names given, only those are re-resolved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := verificationLevelFromFlag(updateVerifyFlag)
		if err != nil {
			return err
		}
		in, closeFn, err := openInstaller(level)
		if err != nil {
			return err
		}
		defer closeFn()

		result, err := in.Update(globalCtx, install.UpdateContext{Packages: args})
		if err != nil {
			return err
		}
		fmt.Printf("updated; state %s now holds %d package(s)\n", result.StateID, len(result.Packages))
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateVerifyFlag, "verify-level", "standard", "post-update guard verification level: quick, standard, or full")
}
