package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"linkcore/internal/engine"
	"linkcore/internal/unit"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load PRIMARY or SECONDARY records from a JSON file",
	Long: `load ingests a JSON array of records into the store's own source
tables (primary_units / secondary_units), so linkengine can run standalone
against data exported from the hazard-inspection or supervisory registry
without a live external document database connection.`,
}

var loadPrimaryCmd = &cobra.Command{
	Use:   "primary [file.json]",
	Short: "Load PRIMARY (hazard-inspection) records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		units, err := readUnitsFile(args[0])
		if err != nil {
			return err
		}
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := eng.LoadPrimary(cmd.Context(), units); err != nil {
			return fmt.Errorf("failed to load primary records: %w", err)
		}
		fmt.Printf("loaded %d primary records\n", len(units))
		return nil
	},
}

var loadSecondaryCmd = &cobra.Command{
	Use:   "secondary [file.json]",
	Short: "Load SECONDARY (supervisory) records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		units, err := readUnitsFile(args[0])
		if err != nil {
			return err
		}
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := eng.LoadSecondary(cmd.Context(), units); err != nil {
			return fmt.Errorf("failed to load secondary records: %w", err)
		}
		fmt.Printf("loaded %d secondary records\n", len(units))
		return nil
	},
}

func readUnitsFile(path string) ([]unit.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var units []unit.Unit
	if err := json.Unmarshal(data, &units); err != nil {
		return nil, fmt.Errorf("failed to parse %s as a JSON array of records: %w", path, err)
	}
	return units, nil
}

// openEngine constructs an engine.Engine over the store's own source
// adapters (engine.Dependencies left zero-valued), the standalone mode
// `load` populates.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	return engine.Open(ctx, cfg, engine.Dependencies{})
}
