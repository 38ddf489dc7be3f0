// Package main implements linkengine, the CLI surface over
// internal/engine.Engine — the record-linkage core's CLI-shaped sibling
// of the HTTP/REST transport spec.md §1 declares out of scope.
//
// # File Index
//
//   - main.go          - entry point, rootCmd, global flags, init()
//   - cmd_load.go      - load primary|secondary (JSON ingestion)
//   - cmd_match.go     - match start|status|stop|list
//   - cmd_results.go   - results list|get
//   - cmd_review.go    - review set
//   - cmd_associations.go - associations start
//   - cmd_stats.go     - stats
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"linkcore/internal/config"
	"linkcore/internal/logging"
)

var (
	workspace  string
	configPath string
	verbose    bool

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "linkengine",
	Short: "linkengine - PRIMARY/SECONDARY registry record-linkage engine",
	Long: `linkengine matches a PRIMARY hazard-inspection registry against a
SECONDARY supervisory registry using a layered matcher (exact credit code,
exact canonical name, composite similarity, graph-assisted rescue), runs
batch match tasks over both, and aggregates 1:N enhanced associations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config %s: %w", configPath, err)
		}
		cfg = loaded
		if cfg.Logging.Workspace == "." || cfg.Logging.Workspace == "" {
			cfg.Logging.Workspace = ws
		}
		if verbose {
			cfg.Logging.DebugMode = true
		}
		if !filepath.IsAbs(cfg.Store.DatabasePath) {
			cfg.Store.DatabasePath = filepath.Join(ws, cfg.Store.DatabasePath)
		}

		if err := logging.Initialize(cfg.Logging.Workspace, cfg.Logging.DebugMode, cfg.Logging.Level, cfg.Logging.JSONFormat, cfg.Logging.Categories); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize file logging: %v\n", err)
		}
		if err := logging.InitAudit(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize audit logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAudit()
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "linkengine.yaml", "Path to config file")

	matchCmd.AddCommand(matchStartCmd, matchStatusCmd, matchStopCmd, matchListCmd)
	resultsCmd.AddCommand(resultsListCmd, resultsGetCmd)
	associationsCmd.AddCommand(associationsStartCmd)
	loadCmd.AddCommand(loadPrimaryCmd, loadSecondaryCmd)

	rootCmd.AddCommand(
		loadCmd,
		matchCmd,
		resultsCmd,
		reviewCmd,
		associationsCmd,
		statsCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
