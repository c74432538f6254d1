package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/databench/databench/analyses"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in analyses",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, a := range analyses.All() {
				fmt.Printf("%-12s %s\n", a.Name, a.Description)
				for _, signal := range a.Signals.Signals() {
					fmt.Printf("             · %s\n", signal)
				}
			}
			return nil
		},
	}
}
