package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkcore/internal/linkresult"
	"linkcore/internal/task"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Batch match task operations",
}

var (
	matchMode          string
	matchBatchSize     int
	matchClearExisting bool
	matchStrategies    []string
)

var matchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a batch match task (spec.md §6 start_match_task)",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		strategies := make([]linkresult.MatchType, 0, len(matchStrategies))
		for _, s := range matchStrategies {
			strategies = append(strategies, linkresult.MatchType(s))
		}

		logger.Info("Starting batch match task", zap.String("mode", matchMode), zap.Int("batch_size", matchBatchSize))

		taskID, err := eng.StartMatchTask(cmd.Context(), task.Options{
			Mode:            task.Mode(matchMode),
			BatchSize:       matchBatchSize,
			MatchStrategies: strategies,
			ClearExisting:   matchClearExisting,
		})
		if err != nil {
			logger.Warn("Failed to start batch match task", zap.Error(err))
			return err
		}
		logger.Info("Batch match task started", zap.String("task_id", taskID))
		fmt.Println(taskID)
		return nil
	},
}

var matchStatusCmd = &cobra.Command{
	Use:   "status [task_id]",
	Short: "Show progress for a running or finished task (spec.md §6 get_task_progress)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		progress, err := eng.GetTaskProgress(args[0])
		if err != nil {
			return err
		}
		return printJSON(progress)
	},
}

var matchStopCmd = &cobra.Command{
	Use:   "stop [task_id]",
	Short: "Cancel a running task (spec.md §6 stop_task)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.StopTask(args[0]); err != nil {
			logger.Warn("Failed to stop task", zap.String("task_id", args[0]), zap.Error(err))
			return err
		}
		logger.Info("Task stopped", zap.String("task_id", args[0]))
		fmt.Println("ok")
		return nil
	},
}

var matchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List task_states history, including tasks from a prior process (not in spec.md §6)",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Close()

		tasks, err := eng.ListTasks(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(tasks)
	},
}

func init() {
	matchStartCmd.Flags().StringVar(&matchMode, "mode", "incremental", "incremental | update | full")
	matchStartCmd.Flags().IntVar(&matchBatchSize, "batch-size", 0, "PRIMARY records per page (0 = config default)")
	matchStartCmd.Flags().BoolVar(&matchClearExisting, "clear-existing", false, "Clear existing LinkageResults before starting")
	matchStartCmd.Flags().StringSliceVar(&matchStrategies, "match-strategies", nil, "Restrict to a subset of match types")
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
