package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opt-pm/pm/internal/guard"
)

var listStatesCmd = &cobra.Command{
	Use:   "list-states",
	Short: "List every retained state",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, closeFn, err := openInstaller(guard.Standard)
		if err != nil {
			return err
		}
		defer closeFn()

		states, err := in.ListStates(globalCtx)
		if err != nil {
			return err
		}
		current, hasCurrent, err := in.CurrentState(globalCtx)
		if err != nil {
			return err
		}

		for _, s := range states {
			marker := " "
			if hasCurrent && s.ID == current {
				marker = "*"
			}
			fmt.Printf("%s %s  created %s  %d package(s)\n", marker, s.ID, s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), len(s.Packages))
		}
		return nil
	},
}
