package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "Inspect and change topic partition counts and assignments",
}

var partitionsGetCmd = &cobra.Command{
	Use:   "get <topic>",
	Short: "Show the partition count of a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), true, func(a *app) error {
			topic := a.scoped(args[0])
			return printOutput(map[string]any{"topic": topic, "partitions": a.partitions.PartitionCount(cmd.Context(), topic)})
		})
	},
}

var partitionsSetCmd = &cobra.Command{
	Use:   "set <topic> <count>",
	Short: "Set the partition count of a topic",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("partition count: %w", err)
		}
		return withApp(cmd.Context(), true, func(a *app) error {
			topic := a.scoped(args[0])
			if !a.partitions.SetPartitionCount(cmd.Context(), topic, n) {
				return fmt.Errorf("partition count of %s could not be set to %d", topic, n)
			}
			return printOutput(map[string]any{"topic": topic, "partitions": n})
		})
	},
}

var partitionsAssignmentCmd = &cobra.Command{
	Use:   "assignment <topic>",
	Short: "Show which partitions every registered consumer owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			assignment, err := a.partitions.Assignment(cmd.Context(), a.scoped(args[0]))
			if err != nil {
				return err
			}
			return printOutput(assignment)
		})
	},
}

var partitionsAdjustCmd = &cobra.Command{
	Use:   "adjust <topic>",
	Short: "Move the partition count of a topic to the ideal for its consumers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), true, func(a *app) error {
			topic := a.scoped(args[0])
			adjusted := a.load.AdjustPartitions(cmd.Context(), topic)
			return printOutput(map[string]any{
				"topic":      topic,
				"adjusted":   adjusted,
				"partitions": a.partitions.PartitionCount(cmd.Context(), topic),
			})
		})
	},
}

var partitionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List broker topics with their partition counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), true, func(a *app) error {
			broker, err := a.publisher()
			if err != nil {
				return err
			}
			topics, err := broker.Admin().ListTopics(cmd.Context())
			if err != nil {
				return err
			}
			return printOutput(topics)
		})
	},
}

func init() {
	partitionsCmd.AddCommand(partitionsListCmd, partitionsGetCmd, partitionsSetCmd, partitionsAssignmentCmd, partitionsAdjustCmd)
}
