package cmd

import (
	"fmt"
	"strconv"

	"github.com/OliveiraNt/queuepilot/internal/application"
	"github.com/spf13/cobra"
)

var (
	dlqStart int64
	dlqEnd   int64
	dlqAll   bool
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect, retry and clear dead-letter queues",
}

var dlqListCmd = &cobra.Command{
	Use:   "list <queue>",
	Short: "List parked entries of a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			entries, err := a.dlq.Messages(cmd.Context(), a.scoped(args[0]), dlqStart, dlqEnd)
			if err != nil {
				return err
			}
			return printOutput(entries)
		})
	},
}

var dlqAnalyzeCmd = &cobra.Command{
	Use:   "analyze <queue>",
	Short: "Group parked entries of a queue by error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			analysis, err := a.dlq.AnalyzeErrors(cmd.Context(), a.scoped(args[0]))
			if err != nil {
				return err
			}
			return printOutput(analysis)
		})
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry <queue> [index]",
	Short: "Republish one entry, or every entry with --all, to its queue",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dlqAll == (len(args) == 2) {
			return fmt.Errorf("give either an index or --all")
		}
		return withApp(cmd.Context(), true, func(a *app) error {
			broker, err := a.publisher()
			if err != nil {
				return err
			}
			queue := a.scoped(args[0])
			fn := application.Republish(broker)
			if dlqAll {
				ok, failed := a.dlq.RetryAll(cmd.Context(), queue, fn)
				return printOutput(map[string]any{"queue": queue, "succeeded": ok, "failed": failed})
			}
			index, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			if !a.dlq.Retry(cmd.Context(), queue, index, fn) {
				return fmt.Errorf("retry of %s[%d] failed", queue, index)
			}
			return nil
		})
	},
}

var dlqClearCmd = &cobra.Command{
	Use:   "clear <queue>",
	Short: "Drop every parked entry of a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			if !a.dlq.Clear(cmd.Context(), a.scoped(args[0])) {
				return fmt.Errorf("dead-letter queue %s could not be cleared", args[0])
			}
			return nil
		})
	},
}

func init() {
	dlqListCmd.Flags().Int64Var(&dlqStart, "start", 0, "first index, negative counts from the tail")
	dlqListCmd.Flags().Int64Var(&dlqEnd, "end", -1, "last index, inclusive")
	dlqRetryCmd.Flags().BoolVar(&dlqAll, "all", false, "retry every entry")
	dlqCmd.AddCommand(dlqListCmd, dlqAnalyzeCmd, dlqRetryCmd, dlqClearCmd)
}
