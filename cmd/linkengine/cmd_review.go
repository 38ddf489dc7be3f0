package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkcore/internal/linkresult"
)

var (
	reviewNotes    string
	reviewer       string
	reviewExpected string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review-status operations",
}

var reviewSetCmd = &cobra.Command{
	Use:   "set [match_id] [approved|rejected|pending]",
	Short: "Apply a review-status transition (spec.md §6 set_review_status)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		var expected time.Time
		if reviewExpected != "" {
			expected, err = time.Parse(time.RFC3339, reviewExpected)
			if err != nil {
				return fmt.Errorf("failed to parse --expected-updated-time as RFC3339: %w", err)
			}
		}

		updated, err := eng.SetReviewStatus(cmd.Context(), args[0], linkresult.ReviewStatus(args[1]), reviewNotes, reviewer, expected)
		if err != nil {
			logger.Warn("Review status transition rejected", zap.String("match_id", args[0]), zap.String("status", args[1]), zap.Error(err))
			return err
		}
		logger.Info("Review status changed", zap.String("match_id", args[0]), zap.String("status", args[1]), zap.String("reviewer", reviewer))
		return printJSON(updated)
	},
}

func init() {
	reviewSetCmd.Flags().StringVar(&reviewNotes, "notes", "", "Review notes")
	reviewSetCmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer identity")
	reviewSetCmd.Flags().StringVar(&reviewExpected, "expected-updated-time", "", "RFC3339 updated_time read before this call, for the compare-and-set (omit to skip)")
	reviewSetCmd.MarkFlagRequired("reviewer")
	reviewCmd.AddCommand(reviewSetCmd)
}
