package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opt-pm/pm/internal/guard"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim store objects unreferenced by any retained state",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, closeFn, err := openInstaller(guard.Standard)
		if err != nil {
			return err
		}
		defer closeFn()

		reclaimed, err := in.GarbageCollect(globalCtx)
		if err != nil {
			return err
		}
		fmt.Printf("reclaimed %d object(s)\n", reclaimed)
		return nil
	},
}
