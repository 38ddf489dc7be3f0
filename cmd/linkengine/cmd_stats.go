package main

import (
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show counts by match_type, confidence, and review_status (spec.md §6 get_statistics)",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		stats, err := eng.GetStatistics(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}
