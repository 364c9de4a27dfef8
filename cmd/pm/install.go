package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opt-pm/pm/internal/install"
)

var (
	installLocalFiles []string
	installVerifyFlag string
)

var installCmd = &cobra.Command{
	Use:   "install [packages...]",
	Short: "Resolve and install one or more packages",
	Long: `Install resolves the given package names against the local index
cache (merging any --file .sp archives as local pins), executes the
resulting plan, and activates a new state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := verificationLevelFromFlag(installVerifyFlag)
		if err != nil {
			return err
		}
		in, closeFn, err := openInstaller(level)
		if err != nil {
			return err
		}
		defer closeFn()

		result, err := in.Install(globalCtx, install.InstallContext{
			Packages:   args,
			LocalFiles: installLocalFiles,
		})
		if err != nil {
			return err
		}

		fmt.Printf("installed state %s with %d package(s)\n", result.StateID, len(result.Packages))
		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		if len(result.Discrepancies) > 0 {
			fmt.Printf("guard reported %d discrepancies after install\n", len(result.Discrepancies))
		}
		return nil
	},
}

func init() {
	installCmd.Flags().StringArrayVarP(&installLocalFiles, "file", "f", nil, "install from a local .sp archive instead of the index")
	installCmd.Flags().StringVar(&installVerifyFlag, "verify-level", "standard", "post-install guard verification level: quick, standard, or full")
}
