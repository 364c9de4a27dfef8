package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opt-pm/pm/internal/install"
)

var uninstallVerifyFlag string

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <packages...>",
	Short: "Remove installed packages and activate a new state",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := verificationLevelFromFlag(uninstallVerifyFlag)
		if err != nil {
			return err
		}
		in, closeFn, err := openInstaller(level)
		if err != nil {
			return err
		}
		defer closeFn()

		result, err := in.Uninstall(globalCtx, install.UninstallContext{Packages: args})
		if err != nil {
			return err
		}
		fmt.Printf("uninstalled; state %s now holds %d package(s)\n", result.StateID, len(result.Packages))
		return nil
	},
}

func init() {
	uninstallCmd.Flags().StringVar(&uninstallVerifyFlag, "verify-level", "standard", "post-uninstall guard verification level: quick, standard, or full")
}
