package main

import (
	"github.com/spf13/cobra"

	"linkcore/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Query LinkageResults",
}

var (
	resultsPage         int
	resultsPageSize     int
	resultsMatchType    string
	resultsReviewStatus string
	resultsNameQuery    string
)

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List LinkageResults (spec.md §6 list_results)",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		results, total, err := eng.ListResults(cmd.Context(), store.ResultFilter{
			MatchType:    resultsMatchType,
			ReviewStatus: resultsReviewStatus,
			NameQuery:    resultsNameQuery,
		}, resultsPage, resultsPageSize)
		if err != nil {
			return err
		}
		return printJSON(struct {
			Total   int         `json:"total"`
			Page    int         `json:"page"`
			Results interface{} `json:"results"`
		}{Total: total, Page: resultsPage, Results: results})
	},
}

var resultsGetCmd = &cobra.Command{
	Use:   "get [primary_id_or_match_id]",
	Short: "Fetch one LinkageResult (spec.md §6 get_result)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		result, err := eng.GetResult(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	resultsListCmd.Flags().IntVar(&resultsPage, "page", 1, "Page number (1-indexed)")
	resultsListCmd.Flags().IntVar(&resultsPageSize, "page-size", 50, "Results per page")
	resultsListCmd.Flags().StringVar(&resultsMatchType, "match-type", "", "Filter by match_type")
	resultsListCmd.Flags().StringVar(&resultsReviewStatus, "review-status", "", "Filter by review_status")
	resultsListCmd.Flags().StringVar(&resultsNameQuery, "name", "", "Filter by a substring of primary_name/matched_name")
}
