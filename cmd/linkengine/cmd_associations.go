package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkcore/internal/linkresult"
)

var associationsCmd = &cobra.Command{
	Use:   "associations",
	Short: "Enhanced association operations",
}

var (
	associationsStrategy      string
	associationsClearExisting bool
)

var associationsStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the enhanced-association aggregator (spec.md §6 start_enhanced_association)",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		logger.Info("Starting enhanced-association aggregation", zap.String("strategy", associationsStrategy))

		n, err := eng.StartEnhancedAssociation(cmd.Context(), linkresult.AssociationStrategy(associationsStrategy), associationsClearExisting)
		if err != nil {
			logger.Warn("Enhanced-association aggregation failed", zap.Error(err))
			return err
		}
		logger.Info("Enhanced-association aggregation finished", zap.Int("associations_written", n))
		fmt.Printf("ok: %d associations written\n", n)
		return nil
	},
}

func init() {
	associationsStartCmd.Flags().StringVar(&associationsStrategy, "strategy", "", "building_based | unit_based | hybrid (default: hybrid)")
	associationsStartCmd.Flags().BoolVar(&associationsClearExisting, "clear-existing", false, "Clear existing associations before aggregating")
}
